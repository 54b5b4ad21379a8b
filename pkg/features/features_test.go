package features

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/election-map/pkg/election"
)

func ordinal(t *testing.T, m int, votes [][]int) *election.OrdinalElection {
	t.Helper()
	e, err := election.NewOrdinalElection("o", "test", nil, m, votes)
	require.NoError(t, err)
	return e
}

func approval(t *testing.T, m int, votes [][]int) *election.ApprovalElection {
	t.Helper()
	e, err := election.NewApprovalElection("a", "test", nil, m, votes)
	require.NoError(t, err)
	return e
}

func compute(t *testing.T, r *Registry, env *Env, id string, e election.Election, p election.Params) Result {
	t.Helper()
	res, err := r.Compute(context.Background(), env, id, e, p)
	require.NoError(t, err)
	return res
}

func value(t *testing.T, res Result) float64 {
	t.Helper()
	require.Equal(t, StatusOK, res.Status)
	require.NotNil(t, res.Value)
	return *res.Value
}

func TestOrdinalFeatures(t *testing.T) {
	r := NewRegistry()
	env := DefaultEnv()
	condorcet := ordinal(t, 3, [][]int{{0, 1, 2}, {0, 1, 2}, {1, 0, 2}})
	cycle := ordinal(t, 3, [][]int{{0, 1, 2}, {1, 2, 0}, {2, 0, 1}})

	tests := []struct {
		id   string
		e    election.Election
		want float64
	}{
		{"highest_borda_score", condorcet, 5},
		{"highest_plurality_score", condorcet, 2},
		{"highest_copeland_score", condorcet, 2},
		{"highest_copeland_score", cycle, 1},
		{"is_condorcet", condorcet, 1},
		{"is_condorcet", cycle, 0},
		{"lowest_dodgson_score", condorcet, 0},
		{"lowest_dodgson_score", cycle, 1},
		{"borda_spread", condorcet, 5},
		{"max_vote_dist", cycle, 2},
		{"avg_dist_to_kemeny", condorcet, 1.0 / 3},
		{"polarization", ordinal(t, 3, [][]int{{0, 1, 2}, {0, 1, 2}}), 0},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.InDelta(t, tt.want, value(t, compute(t, r, env, tt.id, tt.e, nil)), 1e-9)
		})
	}
}

func TestCommitteeScoreDissatisfaction(t *testing.T) {
	e := ordinal(t, 3, [][]int{{0, 1, 2}, {0, 1, 2}, {1, 0, 2}})
	res := compute(t, NewRegistry(), DefaultEnv(), "highest_cc_score", e, election.Params{"committee_size": 1})
	assert.InDelta(t, 5.0, value(t, res), 1e-9)
	require.NotNil(t, res.Dissat)
	assert.InDelta(t, 1.0, *res.Dissat, 1e-9)

	_, err := NewRegistry().Compute(context.Background(), DefaultEnv(), "highest_cc_score", e, election.Params{"committee_size": 4})
	assert.ErrorIs(t, err, election.ErrBadInput)
}

func TestNullResultPolicy(t *testing.T) {
	r := NewRegistry()
	pseudo, err := election.NewPseudoOrdinal("p", "test", nil, 10, [][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)

	res := compute(t, r, DefaultEnv(), "avg_vote_dist", pseudo, nil)
	assert.Equal(t, StatusNotApplicable, res.Status)
	assert.True(t, res.Missing())

	env := DefaultEnv()
	env.Solver = nil
	cycle := ordinal(t, 3, [][]int{{0, 1, 2}, {1, 2, 0}, {2, 0, 1}})
	res = compute(t, r, env, "lowest_dodgson_score", cycle, nil)
	assert.Equal(t, StatusSolverUnavailable, res.Status)
	assert.True(t, res.Missing())

	env = DefaultEnv()
	env.Rules = nil
	a := approval(t, 2, [][]int{{0}, {1}})
	res = compute(t, r, env, "proportionality_degree_pav", a, nil)
	assert.Equal(t, StatusSolverUnavailable, res.Status)

	_, err = r.Compute(context.Background(), DefaultEnv(), "nope", a, nil)
	assert.ErrorIs(t, err, ErrUnknownFeature)
	_, err = r.Compute(context.Background(), DefaultEnv(), "abstract", cycle, nil)
	assert.ErrorIs(t, err, election.ErrBadInput)
}

func TestTimeLimitIsMissing(t *testing.T) {
	r := NewRegistry()
	cycle := ordinal(t, 3, [][]int{{0, 1, 2}, {1, 2, 0}, {2, 0, 1}})

	res := compute(t, r, DefaultEnv(), "lowest_dodgson_score", cycle, election.Params{"time_limit": time.Nanosecond})
	assert.Equal(t, StatusTimeout, res.Status)
	assert.True(t, res.Missing())

	env := DefaultEnv()
	env.TimeLimit = time.Nanosecond
	a := approval(t, 2, [][]int{{0}, {1}})
	res = compute(t, r, env, "partylist", a, nil)
	assert.Equal(t, StatusTimeout, res.Status)
	assert.True(t, res.Missing())

	res = compute(t, r, env, "lowest_dodgson_score", cycle, election.Params{"time_limit": "1m"})
	assert.InDelta(t, 1.0, value(t, res), 1e-9)
}

func TestCohesiveness(t *testing.T) {
	a := approval(t, 4, [][]int{{0, 1, 2}, {0, 1, 2}, {0, 1, 2}, {2, 3}, {2, 3}, {2, 3}})
	res := compute(t, NewRegistry(), DefaultEnv(), "cohesiveness", a, election.Params{"committee_size": 3})
	assert.InDelta(t, 1.0, value(t, res), 1e-9)
}

func TestCohesiveGroupCounts(t *testing.T) {
	r := NewRegistry()
	env := DefaultEnv()
	a := approval(t, 2, [][]int{{0}, {0}, {1}})
	p := election.Params{"committee_size": 2, "feature_l": 1}
	// quota ceil(3/2) = 2: only {v0, v1}
	assert.InDelta(t, 1.0, value(t, compute(t, r, env, "number_of_cohesive_groups", a, p)), 1e-9)

	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 20; trial++ {
		n, m := 2+rng.IntN(7), 2+rng.IntN(4)
		votes := make([][]int, n)
		for v := range votes {
			for c := 0; c < m; c++ {
				if rng.Float64() < 0.5 {
					votes[v] = append(votes[v], c)
				}
			}
		}
		e := approval(t, m, votes)
		for ell := 1; ell <= 2; ell++ {
			p := election.Params{"committee_size": m, "feature_l": ell}
			fast := value(t, compute(t, r, env, "number_of_cohesive_groups", e, p))
			brute := value(t, compute(t, r, env, "number_of_cohesive_groups_brute", e, p))
			assert.InDelta(t, brute, fast, 1e-6, "trial %d ell %d votes %v", trial, ell, votes)
		}
	}
}

func withCommittee(t *testing.T, m int, votes [][]int, rule string, committee []int) *election.ApprovalElection {
	t.Helper()
	a := approval(t, m, votes)
	a.SetWinningCommittee(rule, committee)
	return a
}

func TestCommitteeProperties(t *testing.T) {
	r := NewRegistry()
	env := DefaultEnv()
	p := election.Params{"committee_size": 2}

	split := [][]int{{0, 1}, {0, 1}, {2}, {2}}
	assert.Equal(t, 0.0, value(t, compute(t, r, env, "ejr", withCommittee(t, 3, split, "pav", []int{0, 1}), p)))
	assert.Equal(t, 1.0, value(t, compute(t, r, env, "ejr", withCommittee(t, 3, split, "pav", []int{0, 2}), p)))

	skewed := [][]int{{0}, {0}, {0}, {1}}
	assert.Equal(t, 1.0, value(t, compute(t, r, env, "priceability", withCommittee(t, 3, skewed, "pav", []int{0, 1}), p)))
	assert.Equal(t, 0.0, value(t, compute(t, r, env, "priceability", withCommittee(t, 3, skewed, "pav", []int{1, 2}), p)))
	assert.Equal(t, 1.0, value(t, compute(t, r, env, "core", withCommittee(t, 3, skewed, "pav", []int{0, 1}), p)))
	assert.Equal(t, 0.0, value(t, compute(t, r, env, "core", withCommittee(t, 3, skewed, "pav", []int{1, 2}), p)))
}

func TestProportionalityDegree(t *testing.T) {
	a := withCommittee(t, 3, [][]int{{0}, {0}, {1}, {1}}, "av", []int{0, 2})
	res := compute(t, NewRegistry(), DefaultEnv(), "proportionality_degree_av", a, election.Params{"committee_size": 2})
	assert.InDelta(t, 0.0, value(t, res), 1e-9)
	require.Len(t, res.Values, 2)
	assert.InDelta(t, 0.0, res.Values[0], 1e-9)
	assert.True(t, math.IsNaN(res.Values[1]))
}

func TestApprovalFeatures(t *testing.T) {
	r := NewRegistry()
	env := DefaultEnv()
	a := approval(t, 2, [][]int{{0}, {0, 1}})
	assert.InDelta(t, math.Log(2), value(t, compute(t, r, env, "abstract", a, nil)), 1e-9)
	assert.Equal(t, 2.0, value(t, compute(t, r, env, "max_approval_score", a, nil)))
	assert.Equal(t, 1.0, value(t, compute(t, r, env, "justified_ratio", a, election.Params{"committee_size": 2})))

	parties := approval(t, 3, [][]int{{0, 1}, {0, 1}, {2}, {1, 2}})
	res := compute(t, r, env, "partylist", parties, nil)
	assert.InDelta(t, 1.0, value(t, res), 1e-9)
	assert.Equal(t, []float64{1, 2}, res.Values)
}

func TestListByKind(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.List(election.Ordinal), "lowest_dodgson_score")
	assert.Contains(t, r.List(election.Approval), "cohesiveness")
	assert.NotContains(t, r.List(election.Approval), "is_condorcet")
}
