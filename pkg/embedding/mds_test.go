package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lineTable(n int) Table {
	t := make(Table)
	for i := 0; i < n; i++ {
		a := fmt.Sprintf("e%d", i)
		t[a] = make(map[string]float64)
		for j := i + 1; j < n; j++ {
			t[a][fmt.Sprintf("e%d", j)] = float64(j - i)
		}
	}
	return t
}

func TestMDSRecoversEuclideanDistances(t *testing.T) {
	table := Table{
		"a": {"b": 3, "c": 4},
		"b": {"c": 5},
	}
	res, err := NewMDS(zerolog.Nop()).Embed(context.Background(), table, 2)
	require.NoError(t, err)
	require.Len(t, res.Coordinates, 3)

	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}} {
		want, _ := table.Lookup(pair[0], pair[1])
		got, ok := res.Distance(pair[0], pair[1])
		require.True(t, ok)
		assert.InDelta(t, want, got, 1e-6, "%s-%s", pair[0], pair[1])
	}
}

func TestMDSLine(t *testing.T) {
	res, err := NewMDS(zerolog.Nop()).Embed(context.Background(), lineTable(5), 2)
	require.NoError(t, err)

	d, ok := res.Distance("e0", "e4")
	require.True(t, ok)
	assert.InDelta(t, 4.0, d, 1e-6)

	// a line leaves the second axis flat
	for id := range res.Coordinates {
		assert.InDelta(t, 0.0, res.Coordinates[id][1], 1e-6)
	}
	lo, hi := res.Normalized("e0")[0], res.Normalized("e4")[0]
	assert.InDelta(t, 1.0, lo+hi, 1e-9)
	assert.InDelta(t, 1.0, max(lo, hi), 1e-9)
}

func TestMDSEdgeCases(t *testing.T) {
	m := NewMDS(zerolog.Nop())

	_, err := m.Embed(context.Background(), Table{}, 2)
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = m.Embed(context.Background(), lineTable(3), 0)
	assert.Error(t, err)

	res, err := m.Embed(context.Background(), Table{"only": {}}, 2)
	require.NoError(t, err)
	assert.Equal(t, Point{0, 0}, res.Coordinates["only"])
	assert.Equal(t, Point{0.5, 0.5}, res.Normalized("only"))

	res, err = m.Embed(context.Background(), Table{"a": {"b": 0}}, 2)
	require.NoError(t, err)
	d, _ := res.Distance("a", "b")
	assert.InDelta(t, 0.0, d, 1e-9)
}

func TestMDSFillsMissingDistances(t *testing.T) {
	table := Table{"a": {"b": 2}, "c": {}}
	res, err := NewMDS(zerolog.Nop()).WithMissingDistance(2).Embed(context.Background(), table, 2)
	require.NoError(t, err)

	// equilateral triangle of side 2
	for _, pair := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}} {
		d, ok := res.Distance(pair[0], pair[1])
		require.True(t, ok)
		assert.InDelta(t, 2.0, d, 1e-6)
	}

	p := res.Scaled("zzz", -1, 1)
	assert.Equal(t, Point{0, 0}, p)
}

func TestTableLookup(t *testing.T) {
	table := Table{"a": {"b": 1.5}}
	d, ok := table.Lookup("b", "a")
	assert.True(t, ok)
	assert.Equal(t, 1.5, d)
	_, ok = table.Lookup("a", "c")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, table.IDs())
}
