package distances

import (
	"context"
	"sort"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
)

// Approvalwise is the inner distance between the sorted approval-frequency
// vectors.
func Approvalwise(_ context.Context, e1, e2 election.Election, inner InnerDistance, _ *Options) (float64, []int, error) {
	a1, a2, err := approvalPair(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return 0, nil, err
	}
	return inner.Fn(a1.ApprovalwiseVector(), a2.ApprovalwiseVector()), nil, nil
}

func reverseApprovals(e1, e2 election.Election) ([][]int, [][]int, error) {
	a1, a2, err := approvalPair(e1, e2)
	if err != nil {
		return nil, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return nil, nil, err
	}
	if err := sameVoters(e1, e2); err != nil {
		return nil, nil, err
	}
	return a1.ReverseApprovals(), a2.ReverseApprovals(), nil
}

// Hamming matches candidates minimising the total size of the symmetric
// differences between their sets of approving voters.
func Hamming(_ context.Context, e1, e2 election.Election, _ InnerDistance, opts *Options) (float64, []int, error) {
	r1, r2, err := reverseApprovals(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	cost := make([][]float64, len(r1))
	for c := range r1 {
		cost[c] = make([]float64, len(r2))
		for d := range r2 {
			cost[c][d] = float64(election.SymmetricDifference(r1[c], r2[d]))
		}
	}
	return lap(cost, opts)
}

// Jaccard matches candidates under the cost 1 - |A∩B|/|A∪B| between their
// sets of approving voters. Two empty sets cost 0 rather than 1 so that an
// election stays at distance 0 from itself when some candidate has no
// approvals.
func Jaccard(_ context.Context, e1, e2 election.Election, _ InnerDistance, opts *Options) (float64, []int, error) {
	r1, r2, err := reverseApprovals(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	cost := make([][]float64, len(r1))
	for c := range r1 {
		cost[c] = make([]float64, len(r2))
		for d := range r2 {
			inter := election.Intersection(r1[c], r2[d])
			union := len(r1[c]) + len(r2[d]) - inter
			if union > 0 {
				cost[c][d] = 1 - float64(inter)/float64(union)
			}
		}
	}
	return lap(cost, opts)
}

// Candidatelikeness matches candidates by the inner distance between the
// sorted rows of the candidatelikeness matrices. Sorting each row drops the
// column labels, which keeps the distance invariant under renaming.
func Candidatelikeness(_ context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	a1, a2, err := approvalPair(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return 0, nil, err
	}
	cost := assignment.CostMatrix(sortedRows(a1.CandidatelikenessMatrix()), sortedRows(a2.CandidatelikenessMatrix()), inner.Fn)
	return lap(cost, opts)
}

func sortedRows(a [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for i, row := range a {
		out[i] = append([]float64(nil), row...)
		sort.Float64s(out[i])
	}
	return out
}
