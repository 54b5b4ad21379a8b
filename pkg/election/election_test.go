package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOrdinal(t *testing.T, m int, votes [][]int) *OrdinalElection {
	t.Helper()
	e, err := NewOrdinalElection("e", "test", nil, m, votes)
	require.NoError(t, err)
	return e
}

func TestFrequencyMatrixIsDoublyStochastic(t *testing.T) {
	e := mustOrdinal(t, 4, [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 0, 3, 2},
		{2, 3, 0, 1},
		{0, 2, 1, 3},
	})
	freq := e.FrequencyMatrix()

	for c := 0; c < 4; c++ {
		row, col := 0.0, 0.0
		for k := 0; k < 4; k++ {
			row += freq[c][k]
			col += freq[k][c]
			assert.GreaterOrEqual(t, freq[c][k], 0.0)
			assert.LessOrEqual(t, freq[c][k], 1.0)
		}
		assert.InDelta(t, 1.0, row, 1e-12, "row %d", c)
		assert.InDelta(t, 1.0, col, 1e-12, "column %d", c)
	}
}

func TestPairwiseMatrixComplements(t *testing.T) {
	e := mustOrdinal(t, 3, [][]int{{0, 1, 2}, {2, 0, 1}, {1, 2, 0}, {0, 2, 1}})
	p, err := e.PairwiseMatrix()
	require.NoError(t, err)

	for a := 0; a < 3; a++ {
		assert.Zero(t, p[a][a])
		for b := 0; b < 3; b++ {
			if a != b {
				assert.InDelta(t, 1.0, p[a][b]+p[b][a], 1e-12)
			}
		}
	}
	assert.InDelta(t, 0.75, p[0][1], 1e-12)
	assert.InDelta(t, 0.5, p[0][2], 1e-12)
}

func TestPairwiseMatrixTruncated(t *testing.T) {
	// voter 0 ranks only candidate 1; voter 1 ranks nothing
	e := mustOrdinal(t, 3, [][]int{
		{1, Unranked, Unranked},
		{Unranked, Unranked, Unranked},
	})
	assert.True(t, e.IsTruncated())

	p, err := e.PairwiseMatrix()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, p[1][0], 1e-12)
	assert.InDelta(t, 0.5, p[1][2], 1e-12)
	assert.Zero(t, p[0][2])
	assert.Zero(t, p[2][0])

	freq := e.FrequencyMatrix()
	assert.InDelta(t, 0.5, freq[1][0], 1e-12)
	assert.Zero(t, freq[0][0])
}

func TestBordaVector(t *testing.T) {
	e1 := mustOrdinal(t, 3, [][]int{{0, 1, 2}, {0, 1, 2}, {0, 1, 2}})
	e2 := mustOrdinal(t, 3, [][]int{{2, 1, 0}, {2, 1, 0}, {2, 1, 0}})

	assert.InDeltaSlice(t, []float64{6, 3, 0}, e1.BordaVector(), 1e-9)
	assert.InDeltaSlice(t, []float64{6, 3, 0}, e2.BordaVector(), 1e-9)
	assert.InDeltaSlice(t, []float64{0, 3, 6}, e2.BordaScores(), 1e-9)
}

func TestSingleCandidate(t *testing.T) {
	e := mustOrdinal(t, 1, [][]int{{0}, {0}})
	assert.Equal(t, [][]float64{{1}}, e.FrequencyMatrix())
	p, err := e.PairwiseMatrix()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0}}, p)
	assert.Equal(t, []float64{0}, e.BordaVector())
}

func TestDistinctVotes(t *testing.T) {
	e := mustOrdinal(t, 2, [][]int{{0, 1}, {1, 0}, {0, 1}, {0, 1}})
	distinct, quantities := e.DistinctVotes()
	assert.Equal(t, [][]int{{0, 1}, {1, 0}}, distinct)
	assert.Equal(t, []int{3, 1}, quantities)
}

func TestOrdinalValidation(t *testing.T) {
	tests := []struct {
		name  string
		m     int
		votes [][]int
	}{
		{"wrong length", 3, [][]int{{0, 1}}},
		{"unknown candidate", 2, [][]int{{0, 5}}},
		{"duplicate", 2, [][]int{{1, 1}}},
		{"gap in truncated ballot", 3, [][]int{{0, Unranked, 2}}},
		{"leading gap", 2, [][]int{{Unranked, 1}}},
		{"no candidates", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrdinalElection("bad", "test", nil, tt.m, tt.votes)
			assert.ErrorIs(t, err, ErrBadInput)
		})
	}
}

func TestPseudoOrdinal(t *testing.T) {
	_, err := NewPseudoOrdinal("p", "pseudo_identity", nil, 10, [][]float64{{1, 0}, {0}})
	assert.ErrorIs(t, err, ErrBadInput)

	e, err := NewPseudoOrdinal("p", "pseudo_identity", nil, 10, [][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.True(t, e.IsPseudo())
	assert.Nil(t, e.Potes())

	_, err = e.PairwiseMatrix()
	assert.ErrorIs(t, err, ErrNotApplicable)
	_, err = e.VoterlikenessMatrix(SwapMetric)
	assert.ErrorIs(t, err, ErrNotApplicable)
	assert.InDeltaSlice(t, []float64{10, 0}, e.BordaVector(), 1e-9)
}

func TestVoteMetrics(t *testing.T) {
	p1 := PotesOf([]int{0, 1, 2})
	p2 := PotesOf([]int{2, 1, 0})
	assert.Equal(t, 3, SwapDistance(p1, p2))
	assert.Equal(t, 4, SpearmanDistance(p1, p2))

	truncated := PotesOf([]int{1, Unranked, Unranked})
	assert.Equal(t, []int{Unranked, 0, Unranked}, truncated)
	assert.Equal(t, 1, SwapDistance(p1, truncated))

	e := mustOrdinal(t, 3, [][]int{{0, 1, 2}, {2, 1, 0}, {0, 1, 2}})
	vl, err := e.VoterlikenessMatrix(SwapMetric)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 3, 0}, {3, 0, 3}, {0, 3, 0}}, vl)
}

func TestApprovalDerived(t *testing.T) {
	e, err := NewApprovalElection("a", "test", nil, 3, [][]int{{1, 0}, {0}, {2, 1}, {}})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2, 1}, e.ApprovalCounts())
	assert.InDeltaSlice(t, []float64{0.25, 0.5, 0.5}, e.ApprovalwiseVector(), 1e-12)
	assert.Equal(t, [][]int{{0, 1}, {0, 2}, {2}}, e.ReverseApprovals())
	assert.Equal(t, []int{0, 1}, e.Votes()[0])

	cl := e.CandidatelikenessMatrix()
	for a := 0; a < 3; a++ {
		assert.Zero(t, cl[a][a])
		for b := 0; b < 3; b++ {
			assert.Equal(t, cl[a][b], cl[b][a])
		}
	}
	// voters 1 and 2 split {0,1}
	assert.InDelta(t, 0.5, cl[0][1], 1e-12)
	assert.InDelta(t, 0.75, cl[0][2], 1e-12)
}

func TestApprovalValidation(t *testing.T) {
	_, err := NewApprovalElection("a", "test", nil, 2, [][]int{{0, 0}})
	assert.ErrorIs(t, err, ErrBadInput)
	_, err = NewApprovalElection("a", "test", nil, 2, [][]int{{3}})
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestWinningCommittee(t *testing.T) {
	e, err := NewApprovalElection("a", "test", nil, 3, [][]int{{0}})
	require.NoError(t, err)
	_, ok := e.WinningCommittee("av")
	assert.False(t, ok)

	e.SetWinningCommittee("av", []int{2, 0})
	w, ok := e.WinningCommittee("av")
	require.True(t, ok)
	assert.Equal(t, []int{0, 2}, w)
}

func TestSetOperations(t *testing.T) {
	assert.Equal(t, 2, Intersection([]int{0, 1, 3}, []int{1, 2, 3}))
	assert.Equal(t, 2, SymmetricDifference([]int{0, 1, 3}, []int{1, 2, 3}))
	assert.Equal(t, 0, Intersection(nil, []int{1}))
}

func TestParams(t *testing.T) {
	p := Params{"alpha": 0.5, "size": 3, "flag": "true", "xs": []interface{}{1, 2.5}}
	assert.Equal(t, 0.5, p.Float("alpha", 0))
	assert.Equal(t, 3, p.Int("size", 0))
	assert.True(t, p.Bool("flag", false))
	assert.Equal(t, []float64{1, 2.5}, p.Floats("xs"))
	assert.Equal(t, 7.0, p.Float("missing", 7))
	assert.Equal(t, []string{"alpha", "flag", "size", "xs"}, p.Keys())
}
