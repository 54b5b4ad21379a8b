package assignment

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/combin"
)

func bruteLAP(cost [][]float64) float64 {
	n := len(cost)
	best := math.Inf(1)
	for _, perm := range combin.Permutations(n, n) {
		s := 0.0
		for i, j := range perm {
			s += cost[i][j]
		}
		best = math.Min(best, s)
	}
	return best
}

func TestSolveMatchesEnumeration(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 0))
	for trial := 0; trial < 25; trial++ {
		n := 1 + rng.IntN(6)
		cost := make([][]float64, n)
		for i := range cost {
			cost[i] = make([]float64, n)
			for j := range cost[i] {
				cost[i][j] = float64(rng.IntN(10))
			}
		}
		obj, perm, err := Solve(cost)
		require.NoError(t, err)
		assert.InDelta(t, bruteLAP(cost), obj, 1e-9)

		seen := make(map[int]bool)
		total := 0.0
		for i, j := range perm {
			assert.False(t, seen[j], "column %d assigned twice", j)
			seen[j] = true
			total += cost[i][j]
		}
		assert.InDelta(t, obj, total, 1e-9)
	}
}

func TestSolveRectangular(t *testing.T) {
	obj, perm, err := Solve([][]float64{
		{4, 1, 4},
		{2, 0, 5},
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, obj, 1e-12)
	assert.Equal(t, []int{1, 0}, perm)

	obj, perm, err = Solve([][]float64{{4, 1}, {2, 0}, {0, 9}})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, obj, 1e-12)
	assert.Equal(t, []int{-1, 1, 0}, perm)
}

func TestSolveForbiddenPairs(t *testing.T) {
	inf := math.Inf(1)
	obj, perm, err := Solve([][]float64{{inf, 1}, {2, inf}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, obj)
	assert.Equal(t, []int{1, 0}, perm)

	_, _, err = Solve([][]float64{{inf, inf}, {2, 1}})
	assert.ErrorIs(t, err, ErrInfeasible)

	_, _, err = Solve([][]float64{{math.NaN()}})
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestSolveCanonicalPrefersSmallestPermutation(t *testing.T) {
	// identity and reversal both cost 2
	cost := [][]float64{
		{1, 2, 1},
		{2, 0, 2},
		{1, 2, 1},
	}
	obj, perm, err := SolveCanonical(cost)
	require.NoError(t, err)
	assert.Equal(t, 2.0, obj)
	assert.Equal(t, []int{0, 1, 2}, perm)

	obj, perm, err = SolveCanonical([][]float64{{5, 0}, {0, 5}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, obj)
	assert.Equal(t, []int{1, 0}, perm)
}

func TestMatchMatrices(t *testing.T) {
	l1 := func(x, y []float64) float64 {
		s := 0.0
		for i := range x {
			s += math.Abs(x[i] - y[i])
		}
		return s
	}
	a := [][]float64{{1, 0}, {0, 1}}
	b := [][]float64{{0, 1}, {1, 0}}
	obj, perm, err := MatchMatrices(a, b, l1)
	require.NoError(t, err)
	assert.Zero(t, obj)
	assert.Equal(t, []int{1, 0}, perm)
}

func positions(votes [][]int) [][]int {
	out := make([][]int, len(votes))
	for v, vote := range votes {
		out[v] = make([]int, len(vote))
		for k, c := range vote {
			out[v][c] = k
		}
	}
	return out
}

func randomVotes(rng *rand.Rand, n, m int) [][]int {
	votes := make([][]int, n)
	for v := range votes {
		votes[v] = rng.Perm(m)
	}
	return votes
}

func TestSpearmanBAPExactMethodsAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 0))
	ctx := context.Background()
	shapes := [][2]int{{3, 3}, {4, 3}, {2, 5}, {5, 4}, {3, 1}, {1, 4}}
	for _, shape := range shapes {
		n, m := shape[0], shape[1]
		for trial := 0; trial < 4; trial++ {
			u := positions(randomVotes(rng, n, m))
			w := positions(randomVotes(rng, n, m))

			bf, err := SpearmanBAP(ctx, u, w, BruteForce, BAPOptions{})
			require.NoError(t, err)
			bb, err := SpearmanBAP(ctx, u, w, BranchAndBound, BAPOptions{})
			require.NoError(t, err)
			aa, err := SpearmanBAP(ctx, u, w, Alternating, BAPOptions{Restarts: 3, Rand: rand.New(rand.NewPCG(1, 0))})
			require.NoError(t, err)

			assert.InDelta(t, bf.Objective, bb.Objective, 1e-9, "n=%d m=%d", n, m)
			assert.GreaterOrEqual(t, aa.Objective, bf.Objective-1e-9)
			assert.InDelta(t, bb.Objective, evaluate(u, w, bb.VoterMatch, bb.CandidateMatch), 1e-9)
			assert.InDelta(t, aa.Objective, evaluate(u, w, aa.VoterMatch, aa.CandidateMatch), 1e-9)
		}
	}
}

func TestSpearmanBAPRenamedElectionIsZero(t *testing.T) {
	votes := [][]int{{0, 1, 2, 3}, {1, 0, 3, 2}, {3, 2, 1, 0}}
	rename := []int{2, 0, 3, 1}
	renamed := make([][]int, len(votes))
	for v, vote := range votes {
		renamed[len(votes)-1-v] = make([]int, len(vote))
		for k, c := range vote {
			renamed[len(votes)-1-v][k] = rename[c]
		}
	}
	for _, method := range []BAPMethod{BruteForce, BranchAndBound, Alternating} {
		res, err := SpearmanBAP(context.Background(), positions(votes), positions(renamed), method, BAPOptions{Restarts: 5, Rand: rand.New(rand.NewPCG(3, 0))})
		require.NoError(t, err)
		if method != Alternating {
			assert.Zero(t, res.Objective, "method %s", method)
		}
	}
}

func TestSpearmanBAPLimits(t *testing.T) {
	u := positions(randomVotes(rand.New(rand.NewPCG(1, 0)), 5, 5))
	_, err := SpearmanBAP(context.Background(), u, u, BruteForce, BAPOptions{Limit: 100})
	assert.ErrorIs(t, err, ErrTooLarge)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = SpearmanBAP(ctx, u, u, BranchAndBound, BAPOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = ParseBAPMethod("qap")
	assert.Error(t, err)
}

func evaluate(u, w [][]int, sigma, tau []int) float64 {
	s := 0.0
	for v := range u {
		for c := range u[v] {
			s += math.Abs(float64(u[v][c] - w[sigma[v]][tau[c]]))
		}
	}
	return s
}
