package rules

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

func approval(t *testing.T, m int, votes [][]int) *election.ApprovalElection {
	t.Helper()
	e, err := election.NewApprovalElection("e", "test", nil, m, votes)
	require.NoError(t, err)
	return e
}

func TestSimpleRules(t *testing.T) {
	e := approval(t, 4, [][]int{{0, 1}, {0, 1}, {0, 1}, {2}, {2}, {3}})
	engine := NewBuiltin(nil, zerolog.Nop())

	tests := []struct {
		rule string
		k    int
		want []int
	}{
		{"av", 2, []int{0, 1}},
		{"sav", 2, []int{2, 0}},
		{"cc", 2, []int{0, 2}},
		{"seqcc", 2, []int{0, 2}},
		{"pav", 2, []int{0, 2}},
		{"seqpav", 3, []int{0, 1, 2}},
		{"av", 0, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got, err := engine.Committee(context.Background(), e, tt.rule, tt.k)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}

	_, err := engine.Committee(context.Background(), e, "stv", 2)
	assert.ErrorIs(t, err, ErrUnknownRule)
	_, err = engine.Committee(context.Background(), e, "av", 5)
	assert.ErrorIs(t, err, election.ErrBadInput)
}

func TestScores(t *testing.T) {
	e := approval(t, 3, [][]int{{0, 1}, {1, 2}, {}})
	assert.Equal(t, 3.0, Score(e, thiele["av"], []int{1, 2}))
	assert.Equal(t, 2.0, Score(e, thiele["cc"], []int{1, 2}))
	assert.Equal(t, 2.5, Score(e, thiele["pav"], []int{1, 2}))
	assert.InDelta(t, 1.5+1.0/3, Harmonic(3), 1e-12)
}

func TestILPMatchesEnumeration(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 22))
	enum := NewBuiltin(nil, zerolog.Nop())
	ilp := NewBuiltin(milp.NewBranchAndBound(milp.DefaultOptions()), zerolog.Nop())
	ilp.EnumerationLimit = 1

	for trial := 0; trial < 5; trial++ {
		m := 5
		votes := make([][]int, 7)
		for v := range votes {
			for c := 0; c < m; c++ {
				if rng.Float64() < 0.4 {
					votes[v] = append(votes[v], c)
				}
			}
		}
		e := approval(t, m, votes)
		for _, rule := range []string{"cc", "pav"} {
			want, err := enum.Committee(context.Background(), e, rule, 2)
			require.NoError(t, err)
			got, err := ilp.Committee(context.Background(), e, rule, 2)
			require.NoError(t, err)
			w := thiele[rule]
			assert.InDelta(t, Score(e, w, want), Score(e, w, got), 1e-9, "%s trial %d", rule, trial)
		}
	}

	noSolver := NewBuiltin(nil, zerolog.Nop())
	noSolver.EnumerationLimit = 1
	_, err := noSolver.Committee(context.Background(), approval(t, 4, [][]int{{0}}), "pav", 2)
	assert.ErrorIs(t, err, milp.ErrSolverUnavailable)
}
