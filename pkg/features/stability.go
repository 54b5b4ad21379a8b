package features

import (
	"context"
	"fmt"
	"math"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

func registerStability(r *Registry) {
	r.Register("priceability", election.Approval, priceability)
	r.Register("core", election.Approval, core)
	r.Register("partylist", election.Approval, partylist)
}

// priceability is 1 when the committee of params["rule"] admits a price
// system: every voter spends at most one unit on approved winners, every
// winner collects exactly the price and no losing candidate's supporters
// have more than the price left over.
func priceability(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	committee, err := winningCommittee(ctx, env, a, p.String("rule", "pav"), p)
	if err != nil {
		return Result{}, err
	}
	m := a.NumCandidates()
	in := make([]bool, m)
	for _, c := range committee {
		in[c] = true
	}

	model := milp.NewModel("priceability_" + a.ID())
	price := model.AddContinuous("price", 0, math.Inf(1))
	collected := make([][]milp.Term, m)
	spent := make([][]milp.Term, a.NumVoters())
	for v, vote := range a.Votes() {
		for _, c := range vote {
			if !in[c] {
				continue
			}
			pay := model.AddContinuous(fmt.Sprintf("pay_%d_%d", v, c), 0, 1)
			collected[c] = append(collected[c], milp.T(pay, 1))
			spent[v] = append(spent[v], milp.T(pay, 1))
		}
		if len(spent[v]) > 0 {
			model.AddConstraint(fmt.Sprintf("budget_%d", v), spent[v], milp.LessEq, 1)
		}
	}
	supporters := a.ReverseApprovals()
	for c := 0; c < m; c++ {
		if in[c] {
			model.AddConstraint(fmt.Sprintf("price_%d", c), append(collected[c], milp.T(price, -1)), milp.Equal, 0)
			continue
		}
		// sum over supporters of (1 - spent_v) <= price
		terms := []milp.Term{milp.T(price, 1)}
		for _, v := range supporters[c] {
			terms = append(terms, spent[v]...)
		}
		model.AddConstraint(fmt.Sprintf("leftover_%d", c), terms, milp.GreaterEq, float64(len(supporters[c])))
	}
	model.SetObjective(nil, 0, false)

	sol, err := solve(ctx, env, model)
	if err != nil {
		return Result{}, err
	}
	if sol.Status == milp.Optimal {
		return Scalar(1), nil
	}
	return Scalar(0), nil
}

// core is 1 when no group S and candidate set T with |T| <= |S| k / n make
// every member of S strictly happier than under the committee, 0 otherwise.
func core(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
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
	n, m := a.NumVoters(), a.NumCandidates()
	if n == 0 {
		return Scalar(1), nil
	}

	model := milp.NewModel("core_" + a.ID())
	x := make([]milp.Var, n)
	for v := range x {
		x[v] = model.AddBinary(fmt.Sprintf("x_%d", v))
	}
	y := make([]milp.Var, m)
	for c := range y {
		y[c] = model.AddBinary(fmt.Sprintf("y_%d", c))
	}
	// n |T| <= k |S|
	budget := make([]milp.Term, 0, n+m)
	for _, yc := range y {
		budget = append(budget, milp.T(yc, float64(n)))
	}
	for _, xv := range x {
		budget = append(budget, milp.T(xv, -float64(k)))
	}
	model.AddConstraint("budget", budget, milp.LessEq, 0)
	model.AddConstraint("nonempty", sumTerms(x), milp.GreaterEq, 1)
	for v, vote := range a.Votes() {
		terms := make([]milp.Term, 0, len(vote)+1)
		for _, c := range vote {
			terms = append(terms, milp.T(y[c], 1))
		}
		terms = append(terms, milp.T(x[v], -float64(sat[v]+1)))
		model.AddConstraint(fmt.Sprintf("improves_%d", v), terms, milp.GreaterEq, 0)
	}
	model.SetObjective(nil, 0, false)

	sol, err := solve(ctx, env, model)
	if err != nil {
		return Result{}, err
	}
	if sol.Status == milp.Optimal {
		return Scalar(0), nil
	}
	return Scalar(1), nil
}

// partylist finds the fewest approval edits turning the election into a
// party-list profile, where any two ballots are identical or disjoint.
// Value is the number of edits; Values holds the edits and the number of
// parties with at least large_party_size voters.
func partylist(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error) {
	a, err := approvalOf(e)
	if err != nil {
		return Result{}, err
	}
	large := p.Int("large_party_size", 2)
	n, m := a.NumVoters(), a.NumCandidates()
	approves := a.ApprovalMatrix()

	model := milp.NewModel("partylist_" + a.ID())
	edited := make([][]milp.Var, n)
	var objective []milp.Term
	constant := 0.0
	for v := range edited {
		edited[v] = make([]milp.Var, m)
		for c := range edited[v] {
			edited[v][c] = model.AddBinary(fmt.Sprintf("a_%d_%d", v, c))
			// |a_vc - approves_vc|
			if approves[v][c] {
				constant++
				objective = append(objective, milp.T(edited[v][c], -1))
			} else {
				objective = append(objective, milp.T(edited[v][c], 1))
			}
		}
	}
	for v := 0; v < n; v++ {
		for w := v + 1; w < n; w++ {
			// same = 1: identical ballots, same = 0: disjoint ballots
			same := model.AddBinary(fmt.Sprintf("s_%d_%d", v, w))
			for c := 0; c < m; c++ {
				av, aw := edited[v][c], edited[w][c]
				model.AddConstraint(fmt.Sprintf("eq1_%d_%d_%d", v, w, c),
					[]milp.Term{milp.T(av, 1), milp.T(aw, -1), milp.T(same, 1)}, milp.LessEq, 1)
				model.AddConstraint(fmt.Sprintf("eq2_%d_%d_%d", v, w, c),
					[]milp.Term{milp.T(aw, 1), milp.T(av, -1), milp.T(same, 1)}, milp.LessEq, 1)
				model.AddConstraint(fmt.Sprintf("disj_%d_%d_%d", v, w, c),
					[]milp.Term{milp.T(av, 1), milp.T(aw, 1), milp.T(same, -1)}, milp.LessEq, 1)
			}
		}
	}
	model.SetObjective(objective, constant, false)

	sol, err := solve(ctx, env, model)
	if err != nil {
		return Result{}, err
	}
	if sol.Status != milp.Optimal {
		return Result{}, fmt.Errorf("%w: party-list model is %s", ErrNotSolved, sol.Status)
	}

	parties := make(map[string]int)
	for v := range edited {
		key := make([]byte, m)
		empty := true
		for c := range key {
			key[c] = '0'
			if sol.Value(edited[v][c]) > 0.5 {
				key[c] = '1'
				empty = false
			}
		}
		if !empty {
			parties[string(key)]++
		}
	}
	largeParties := 0
	for _, size := range parties {
		if size >= large {
			largeParties++
		}
	}
	edits := math.Round(sol.Objective)
	return Result{Value: &edits, Values: []float64{edits, float64(largeParties)}}, nil
}
