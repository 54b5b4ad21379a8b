package features

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

func registerCohesive(r *Registry) {
	r.Register("number_of_cohesive_groups", election.Approval, numberOfCohesiveGroups(countCohesiveInclusionExclusion))
	r.Register("number_of_cohesive_groups_brute", election.Approval, numberOfCohesiveGroups(countCohesiveBrute))
	r.Register("cohesiveness", election.Approval, cohesiveness)
	for _, rule := range []string{"av", "pav", "cc"} {
		r.Register("proportionality_degree_"+rule, election.Approval, proportionalityDegree(rule))
	}
	r.Register("ejr", election.Approval, ejr)
}

// approvalMasks encodes every ballot as a candidate bitmask.
func approvalMasks(a *election.ApprovalElection) ([]uint64, error) {
	if a.NumCandidates() > 64 {
		return nil, fmt.Errorf("%w: bitmask enumeration supports at most 64 candidates, got %d",
			assignment.ErrTooLarge, a.NumCandidates())
	}
	masks := make([]uint64, a.NumVoters())
	for v, vote := range a.Votes() {
		for _, c := range vote {
			masks[v] |= 1 << uint(c)
		}
	}
	return masks, nil
}

// atLeast returns tail[x] = sum_{j >= s} C(x, j) for x = 0..n.
func atLeast(n, s int) []float64 {
	tail := make([]float64, n+1)
	for x := 0; x <= n; x++ {
		for j := max(s, 0); j <= x; j++ {
			tail[x] += combin.GeneralizedBinomial(float64(x), float64(j))
		}
	}
	return tail
}

type cohesiveCounter func(ctx context.Context, env *Env, a *election.ApprovalElection, ell, size int) (float64, error)

// numberOfCohesiveGroups counts voter groups of at least ceil(ell n / k)
// voters sharing at least ell approved candidates.
func numberOfCohesiveGroups(count cohesiveCounter) Func {
	return func(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
		a, err := approvalOf(e)
		if err != nil {
			return Result{}, err
		}
		k, err := committeeSize(a, p)
		if err != nil {
			return Result{}, err
		}
		ell := p.Int("feature_l", 1)
		if ell < 1 {
			return Result{}, fmt.Errorf("%w: feature_l must be positive, got %d", election.ErrBadInput, ell)
		}
		total, err := count(ctx, env, a, ell, quota(ell, a.NumVoters(), k))
		if err != nil {
			return Result{}, err
		}
		return Scalar(total), nil
	}
}

// countCohesiveInclusionExclusion counts groups lying in at least ell of
// the sets G_c = {groups whose members all approve c}:
// sum_{|T| >= ell} (-1)^(|T|-ell) C(|T|-1, ell-1) #{groups within V_T}.
func countCohesiveInclusionExclusion(ctx context.Context, env *Env, a *election.ApprovalElection, ell, size int) (float64, error) {
	m, n := a.NumCandidates(), a.NumVoters()
	if m > 30 {
		return 0, fmt.Errorf("%w: inclusion-exclusion over %d candidates", assignment.ErrTooLarge, m)
	}
	if err := enumerationAllowed(env, math.Ldexp(1, m), "candidate subsets"); err != nil {
		return 0, err
	}
	masks, err := approvalMasks(a)
	if err != nil {
		return 0, err
	}
	tail := atLeast(n, size)
	total := 0.0
	for t := uint64(1); t < 1<<uint(m); t++ {
		if t&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		width := bits.OnesCount64(t)
		if width < ell {
			continue
		}
		voters := 0
		for _, mask := range masks {
			if mask&t == t {
				voters++
			}
		}
		if tail[voters] == 0 {
			continue
		}
		coef := combin.GeneralizedBinomial(float64(width-1), float64(ell-1))
		if (width-ell)%2 == 1 {
			coef = -coef
		}
		total += coef * tail[voters]
	}
	return math.Round(total), nil
}

// countCohesiveBrute enumerates every voter subset.
func countCohesiveBrute(ctx context.Context, env *Env, a *election.ApprovalElection, ell, size int) (float64, error) {
	n := a.NumVoters()
	if n > 30 {
		return 0, fmt.Errorf("%w: voter subsets of %d voters", assignment.ErrTooLarge, n)
	}
	if err := enumerationAllowed(env, math.Ldexp(1, n), "voter subsets"); err != nil {
		return 0, err
	}
	masks, err := approvalMasks(a)
	if err != nil {
		return 0, err
	}
	count := 0
	for s := uint64(1); s < 1<<uint(n); s++ {
		if s&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if bits.OnesCount64(s) < size {
			continue
		}
		common := ^uint64(0)
		for v := 0; v < n; v++ {
			if s&(1<<uint(v)) != 0 {
				common &= masks[v]
			}
		}
		if bits.OnesCount64(common) >= ell {
			count++
		}
	}
	return float64(count), nil
}

// cohesionModel adds group variables x (one per voter in eligible, nil =
// all voters) and common-candidate variables y, tied so that every chosen
// candidate is approved by every chosen voter.
func cohesionModel(name string, a *election.ApprovalElection, eligible []bool) (*milp.Model, []milp.Var, []milp.Var) {
	n, m := a.NumVoters(), a.NumCandidates()
	model := milp.NewModel(name)
	x := make([]milp.Var, n)
	for v := range x {
		x[v] = -1
		if eligible == nil || eligible[v] {
			x[v] = model.AddBinary(fmt.Sprintf("x_%d", v))
		}
	}
	y := make([]milp.Var, m)
	for c := range y {
		y[c] = model.AddBinary(fmt.Sprintf("y_%d", c))
	}
	approves := a.ApprovalMatrix()
	for c := 0; c < m; c++ {
		var terms []milp.Term
		for v := 0; v < n; v++ {
			if x[v] >= 0 && !approves[v][c] {
				terms = append(terms, milp.T(x[v], 1))
			}
		}
		if len(terms) == 0 {
			continue
		}
		// y_c = 1 forbids every voter that does not approve c
		bound := float64(len(terms))
		terms = append(terms, milp.T(y[c], bound))
		model.AddConstraint(fmt.Sprintf("common_%d", c), terms, milp.LessEq, bound)
	}
	return model, x, y
}

func sumTerms(vars []milp.Var) []milp.Term {
	var terms []milp.Term
	for _, v := range vars {
		if v >= 0 {
			terms = append(terms, milp.T(v, 1))
		}
	}
	return terms
}

// cohesiveness is the largest ell such that some group of at least
// ceil(ell n / k) voters approves ell common candidates, as one ILP with ell
// as an integer variable.
func cohesiveness(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	k, err := committeeSize(a, p)
	if err != nil {
		return Result{}, err
	}
	n := a.NumVoters()
	if n == 0 {
		return Scalar(0), nil
	}
	model, x, y := cohesionModel("cohesiveness_"+a.ID(), a, nil)
	ell := model.AddInteger("ell", 0, float64(k))
	// k * |group| >= ell * n
	group := sumTerms(x)
	for i := range group {
		group[i].Coef = float64(k)
	}
	model.AddConstraint("group_size", append(group, milp.T(ell, -float64(n))), milp.GreaterEq, 0)
	model.AddConstraint("common_size", append(sumTerms(y), milp.T(ell, -1)), milp.GreaterEq, 0)
	model.SetObjective([]milp.Term{milp.T(ell, 1)}, 0, true)

	sol, err := solve(ctx, env, model)
	if err != nil {
		return Result{}, err
	}
	if sol.Status != milp.Optimal {
		return Result{}, fmt.Errorf("%w: cohesiveness model is %s", ErrNotSolved, sol.Status)
	}
	return Scalar(math.Round(sol.Objective)), nil
}

// proportionalityDegree reports, for ell = 1..k, the lowest average
// satisfaction |A_v ∩ W| over ell-cohesive groups (Values, NaN where no such
// group exists) and as Value the minimum of degree(ell)/ell.
func proportionalityDegree(rule string) Func {
	return func(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
		a, err := approvalOf(e)
		if err != nil {
			return Result{}, err
		}
		k, err := committeeSize(a, p)
		if err != nil {
			return Result{}, err
		}
		committee, err := winningCommittee(ctx, env, a, rule, p)
		if err != nil {
			return Result{}, err
		}
		sat := satisfaction(a, committee)
		n := a.NumVoters()

		degrees := make([]float64, k)
		value := math.Inf(1)
		for ell := 1; ell <= k; ell++ {
			degrees[ell-1] = math.NaN()
			size := quota(ell, n, k)
			if size > n || size == 0 {
				continue
			}
			model, x, y := cohesionModel(fmt.Sprintf("pd_%s_%s_%d", rule, a.ID(), ell), a, nil)
			model.AddConstraint("group_size", sumTerms(x), milp.Equal, float64(size))
			model.AddConstraint("common_size", sumTerms(y), milp.GreaterEq, float64(ell))
			objective := make([]milp.Term, n)
			for v := range x {
				objective[v] = milp.T(x[v], float64(sat[v]))
			}
			model.SetObjective(objective, 0, false)

			sol, err := solve(ctx, env, model)
			if err != nil {
				return Result{}, err
			}
			if sol.Status != milp.Optimal {
				continue
			}
			degrees[ell-1] = sol.Objective / float64(size)
			value = math.Min(value, degrees[ell-1]/float64(ell))
		}
		if math.IsInf(value, 1) {
			return Result{}, fmt.Errorf("%w: %s has no cohesive group", election.ErrNotApplicable, a.ID())
		}
		return Result{Value: &value, Values: degrees}, nil
	}
}

// ejr is 1 when the committee of params["rule"] satisfies extended
// justified representation, 0 otherwise. For each ell an ILP looks for an
// ell-cohesive group none of whose members has ell approved winners.
func ejr(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	k, err := committeeSize(a, p)
	if err != nil {
		return Result{}, err
	}
	committee, err := winningCommittee(ctx, env, a, p.String("rule", "pav"), p)
	if err != nil {
		return Result{}, err
	}
	sat := satisfaction(a, committee)
	n := a.NumVoters()

	for ell := 1; ell <= k; ell++ {
		size := quota(ell, n, k)
		eligible := make([]bool, n)
		count := 0
		for v := range eligible {
			if sat[v] < ell {
				eligible[v] = true
				count++
			}
		}
		if count < size || size == 0 {
			continue
		}
		model, x, y := cohesionModel(fmt.Sprintf("ejr_%s_%d", a.ID(), ell), a, eligible)
		model.AddConstraint("group_size", sumTerms(x), milp.GreaterEq, float64(size))
		model.AddConstraint("common_size", sumTerms(y), milp.GreaterEq, float64(ell))
		sol, err := solve(ctx, env, model)
		if err != nil {
			return Result{}, err
		}
		if sol.Status == milp.Optimal {
			return Scalar(0), nil
		}
	}
	return Scalar(1), nil
}
