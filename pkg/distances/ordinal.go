package distances

import (
	"context"
	"sort"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
)

// Positionwise matches candidates by the inner distance between their rows
// of the frequency matrices. Works on pseudo-elections.
func Positionwise(_ context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	o1, o2, err := ordinalPair(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return 0, nil, err
	}
	cost := assignment.CostMatrix(o1.FrequencyMatrix(), o2.FrequencyMatrix(), inner.Fn)
	return lap(cost, opts)
}

// PositionwiseInfinity compares frequency matrices of different sizes by
// stretching both to L = lcm(m1, m2): each candidate row is copied L/m times
// and each position split into L/m equal parts. The matching objective is
// divided by L.
func PositionwiseInfinity(_ context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	o1, o2, err := ordinalPair(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	m1, m2 := o1.NumCandidates(), o2.NumCandidates()
	l := lcm(m1, m2)
	s1, s2 := stretch(o1.FrequencyMatrix(), l), stretch(o2.FrequencyMatrix(), l)

	memo := assignment.CostMatrix(s1, s2, inner.Fn)
	r1, r2 := l/m1, l/m2
	cost := make([][]float64, l)
	for i := range cost {
		cost[i] = make([]float64, l)
		for j := range cost[i] {
			cost[i][j] = memo[i/r1][j/r2]
		}
	}
	obj, match, err := lap(cost, opts)
	if err != nil {
		return 0, nil, err
	}
	return obj / float64(l), match, nil
}

// stretch returns one length-l row per original candidate.
func stretch(freq [][]float64, l int) [][]float64 {
	m := len(freq)
	r := l / m
	out := make([][]float64, m)
	for c, row := range freq {
		s := make([]float64, l)
		for k := range s {
			s[k] = row[k/r] / float64(r)
		}
		out[c] = s
	}
	return out
}

func lcm(a, b int) int {
	x, y := a, b
	for y != 0 {
		x, y = y, x%y
	}
	return a / x * b
}

// Bordawise is the inner distance between the descending Borda vectors.
func Bordawise(_ context.Context, e1, e2 election.Election, inner InnerDistance, _ *Options) (float64, []int, error) {
	o1, o2, err := ordinalPair(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return 0, nil, err
	}
	return inner.Fn(o1.BordaVector(), o2.BordaVector()), nil, nil
}

// Pairwise matches candidates by the inner distance between rows of the
// pairwise matrices. Columns are compared as stored, so this is a row-wise
// relaxation of the quadratic assignment problem.
func Pairwise(_ context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	o1, o2, err := ordinalPair(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return 0, nil, err
	}
	p1, err := o1.PairwiseMatrix()
	if err != nil {
		return 0, nil, err
	}
	p2, err := o2.PairwiseMatrix()
	if err != nil {
		return 0, nil, err
	}
	return lap(assignment.CostMatrix(p1, p2, inner.Fn), opts)
}

func voterlikeness(e1, e2 election.Election, opts *Options) ([][]float64, [][]float64, error) {
	o1, o2, err := ordinalPair(e1, e2)
	if err != nil {
		return nil, nil, err
	}
	if err := requireVotes(e1, e2); err != nil {
		return nil, nil, err
	}
	if err := sameVoters(e1, e2); err != nil {
		return nil, nil, err
	}
	metric := opts.VoteMetric
	if metric.Fn == nil {
		metric = election.SwapMetric
	}
	v1, err := o1.VoterlikenessMatrix(metric)
	if err != nil {
		return nil, nil, err
	}
	v2, err := o2.VoterlikenessMatrix(metric)
	if err != nil {
		return nil, nil, err
	}
	return v1, v2, nil
}

// Voterlikeness matches voters by the inner distance between rows of the
// voter-distance matrices.
func Voterlikeness(_ context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	v1, v2, err := voterlikeness(e1, e2, opts)
	if err != nil {
		return 0, nil, err
	}
	return lap(assignment.CostMatrix(v1, v2, inner.Fn), opts)
}

// AggregatedVoterlikeness compares the sorted multisets of pairwise voter
// distances, which needs no matching at all.
func AggregatedVoterlikeness(_ context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	v1, v2, err := voterlikeness(e1, e2, opts)
	if err != nil {
		return 0, nil, err
	}
	return inner.Fn(upperTriangle(v1), upperTriangle(v2)), nil, nil
}

func upperTriangle(a [][]float64) []float64 {
	var out []float64
	for i := range a {
		out = append(out, a[i][i+1:]...)
	}
	sort.Float64s(out)
	return out
}
