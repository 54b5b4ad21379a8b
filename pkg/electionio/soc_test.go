package electionio

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/election-map/pkg/election"
)

func TestOrdinalRoundTrip(t *testing.T) {
	params := election.Params{"phi": 0.5, "weight": 1.0}
	votes := [][]int{{0, 1, 2}, {2, 1, 0}, {0, 1, 2}, {1, 0, 2}}
	e, err := election.NewOrdinalElection("mallows_0", "mallows", params, 3, votes)
	require.NoError(t, err)

	for _, opts := range []Options{{}, {Aggregated: true}, {Shifted: true}, {Aggregated: true, Shifted: true}} {
		path := filepath.Join(t.TempDir(), "elections", "mallows_0.soc")
		require.NoError(t, Export(path, e, opts))

		got, err := Import(path, opts)
		require.NoError(t, err)
		o, ok := got.(*election.OrdinalElection)
		require.True(t, ok)
		assert.Equal(t, "mallows_0", o.ID())
		assert.Equal(t, "mallows", o.CultureID())
		assert.Equal(t, 4, o.NumVoters())
		assert.Equal(t, 3, o.NumCandidates())
		assert.Equal(t, 0.5, o.Params().Float("phi", 0))
		assert.Equal(t, 1.0, o.Params().Float("weight", 0))
		assert.ElementsMatch(t, votes, o.Votes())
	}
}

func TestAggregatedFormat(t *testing.T) {
	e, err := election.NewOrdinalElection("id", "identity", nil, 2, [][]int{{1, 0}, {0, 1}, {0, 1}})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "id.soc", e, Options{Aggregated: true}))

	want := "# FILE NAME: id.soc\n" +
		"# DATA TYPE: soc\n" +
		"# CULTURE ID: identity\n" +
		"# PARAMS: {}\n" +
		"# NUMBER ALTERNATIVES: 2\n" +
		"# NUMBER VOTERS: 3\n" +
		"2: 0,1\n" +
		"1: 1,0\n"
	assert.Equal(t, want, buf.String())
}

func TestTruncatedRoundTrip(t *testing.T) {
	u := election.Unranked
	votes := [][]int{{0, 1, u}, {2, u, u}}
	e, err := election.NewOrdinalElection("t", "truncated_urn", nil, 3, votes)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "t.soc", e, Options{}))
	assert.Contains(t, buf.String(), "# DATA TYPE: soi\n")
	assert.Contains(t, buf.String(), "1: 2\n")

	got, err := Read(&buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, votes, got.(*election.OrdinalElection).Votes())
}

func TestApprovalRoundTrip(t *testing.T) {
	votes := [][]int{{0, 1}, {}, {2}, {0, 1}}
	e, err := election.NewApprovalElection("ic_1", "impartial", election.Params{"p": 0.3}, 3, votes)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "ic_1.app", e, Options{Aggregated: true}))
	assert.Contains(t, buf.String(), "2: {0, 1}\n")
	assert.Contains(t, buf.String(), "1: {}\n")

	got, err := Read(&buf, Options{})
	require.NoError(t, err)
	a, ok := got.(*election.ApprovalElection)
	require.True(t, ok)
	assert.Equal(t, "ic_1", a.ID())
	assert.Equal(t, 0.3, a.Params().Float("p", 0))
	assert.ElementsMatch(t, [][]int{{0, 1}, {}, {2}, {0, 1}}, a.Votes())
}

func TestPseudoRoundTrip(t *testing.T) {
	freq := [][]float64{{0.5, 0.5}, {0.5, 0.5}}
	e, err := election.NewPseudoOrdinal("pu", "pseudo_uniformity", nil, 100, freq)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "pu.soc")
	require.NoError(t, Export(path, e, Options{}))
	got, err := Import(path, Options{})
	require.NoError(t, err)
	assert.True(t, got.IsPseudo())
	assert.Equal(t, 100, got.NumVoters())
	assert.Equal(t, freq, got.(*election.OrdinalElection).FrequencyMatrix())
}

func TestMalformedFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing alternatives", "# NUMBER VOTERS: 1\n1: 0\n"},
		{"voter mismatch", "# NUMBER ALTERNATIVES: 2\n# NUMBER VOTERS: 3\n1: 0,1\n"},
		{"bad multiplicity", "# NUMBER ALTERNATIVES: 2\n# NUMBER VOTERS: 1\nx: 0,1\n"},
		{"ties", "# NUMBER ALTERNATIVES: 2\n# NUMBER VOTERS: 1\n# DATA TYPE: toc\n1: 0,1\n"},
		{"non-square matrix", "# NUMBER ALTERNATIVES: 2\n# NUMBER VOTERS: 1\n0.5,0.5\n"},
		{"bad params", "# PARAMS: {'a': [1, 2\n# NUMBER ALTERNATIVES: 2\n# NUMBER VOTERS: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.body), Options{ID: "x"})
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, err := Read(strings.NewReader("# NUMBER ALTERNATIVES: 2\n# NUMBER VOTERS: 1\n1: 0,5\n"), Options{ID: "x"})
	assert.ErrorIs(t, err, election.ErrBadInput)

	_, err = Import(filepath.Join(t.TempDir(), "missing.soc"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParamsCodec(t *testing.T) {
	p := election.Params{
		"alpha":   0.1,
		"phi":     1.0,
		"size":    3,
		"name":    "it's",
		"flag":    true,
		"weights": []float64{0.5, 1},
		"none":    nil,
	}
	text := FormatParams(p)
	assert.Equal(t, `{'alpha': 0.1, 'flag': True, 'name': "it's", 'none': None, 'phi': 1.0, 'size': 3, 'weights': [0.5, 1.0]}`, text)

	got, err := ParseParams(text)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got["alpha"])
	assert.Equal(t, 1.0, got["phi"])
	assert.Equal(t, 3, got["size"])
	assert.Equal(t, "it's", got["name"])
	assert.Equal(t, true, got["flag"])
	assert.Equal(t, []float64{0.5, 1}, got.Floats("weights"))
	assert.False(t, got.Has("none"))

	got, err = ParseParams("{'center': (0.5, 0.5), 'radius': inf}")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, got.Floats("center"))
	assert.True(t, math.IsInf(got.Float("radius", 0), 1))

	got, err = ParseParams("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
