package features

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/gilchrisn/election-map/pkg/election"
)

func registerApproval(r *Registry) {
	r.Register("abstract", election.Approval, abstract)
	r.Register("max_approval_score", election.Approval, maxApprovalScore)
	r.Register("justified_ratio", election.Approval, justifiedRatio)
}

// abstract sums log C(n, count_c) over candidates.
func abstract(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	n := float64(a.NumVoters())
	total := 0.0
	for _, count := range a.ApprovalCounts() {
		total += combin.LogGeneralizedBinomial(n, float64(count))
	}
	return Scalar(total), nil
}

func maxApprovalScore(_ context.Context, _ *Env, e election.Election, _ election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	best := 0
	for _, count := range a.ApprovalCounts() {
		best = max(best, count)
	}
	return Scalar(float64(best)), nil
}

// justifiedRatio is the fraction of candidates approved by at least n/k
// voters.
func justifiedRatio(_ context.Context, _ *Env, e election.Election, p election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	k, err := committeeSize(a, p)
	if err != nil {
		return Result{}, err
	}
	quota := float64(a.NumVoters()) / float64(k)
	justified := 0
	for _, count := range a.ApprovalCounts() {
		if float64(count) >= quota {
			justified++
		}
	}
	return Scalar(float64(justified) / float64(a.NumCandidates())), nil
}

// committeeSize reads committee_size, defaulting to min(10, m).
func committeeSize(a *election.ApprovalElection, p election.Params) (int, error) {
	m := a.NumCandidates()
	k := p.Int("committee_size", min(10, m))
	if k < 1 || k > m {
		return 0, fmt.Errorf("%w: committee_size %d outside [1, %d]", election.ErrBadInput, k, m)
	}
	return k, nil
}

// winningCommittee returns the cached committee of rule or asks the rule
// engine for one and caches it on the election.
func winningCommittee(ctx context.Context, env *Env, a *election.ApprovalElection, rule string, p election.Params) ([]int, error) {
	if committee, ok := a.WinningCommittee(rule); ok {
		return committee, nil
	}
	if env.Rules == nil {
		return nil, fmt.Errorf("%w: rule %s", ErrNoRuleEngine, rule)
	}
	k, err := committeeSize(a, p)
	if err != nil {
		return nil, err
	}
	committee, err := env.Rules.Committee(ctx, a, rule, k)
	if err != nil {
		return nil, err
	}
	a.SetWinningCommittee(rule, committee)
	return committee, nil
}

// satisfaction returns |A_v ∩ W| per voter.
func satisfaction(a *election.ApprovalElection, committee []int) []int {
	in := make([]bool, a.NumCandidates())
	for _, c := range committee {
		in[c] = true
	}
	sat := make([]int, a.NumVoters())
	for v, vote := range a.Votes() {
		for _, c := range vote {
			if in[c] {
				sat[v]++
			}
		}
	}
	return sat
}

// quota is ceil(ell * n / k), the size an ell-cohesive group must reach.
func quota(ell, n, k int) int {
	return (ell*n + k - 1) / k
}
