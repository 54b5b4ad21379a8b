// Package rules computes winning committees of approval elections. The
// Engine interface is the seam rule-dependent features consume; Builtin
// covers the Thiele family (av, cc, pav), satisfaction approval voting and
// the sequential variants of cc and pav.
package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

// ErrUnknownRule is returned for rule ids the engine does not implement.
var ErrUnknownRule = errors.New("unknown voting rule")

// Engine selects one winning committee of size k (resolute).
type Engine interface {
	Committee(ctx context.Context, e *election.ApprovalElection, rule string, k int) ([]int, error)
	Rules() []string
}

// Weight is a Thiele weight: the utility of a voter with ell approved
// committee members.
type Weight func(ell int) float64

var thiele = map[string]Weight{
	"av": func(ell int) float64 { return float64(ell) },
	"cc": func(ell int) float64 {
		if ell > 0 {
			return 1
		}
		return 0
	},
	"pav": Harmonic,
}

// Harmonic returns 1 + 1/2 + ... + 1/ell.
func Harmonic(ell int) float64 {
	h := 0.0
	for i := 1; i <= ell; i++ {
		h += 1 / float64(i)
	}
	return h
}

// ThieleWeight resolves "av", "cc" or "pav".
func ThieleWeight(rule string) (Weight, bool) {
	w, ok := thiele[rule]
	return w, ok
}

// Builtin is the default engine. Optimal Thiele committees are found by
// enumeration when C(m, k) fits EnumerationLimit, and by ILP otherwise.
type Builtin struct {
	Solver           milp.Solver
	EnumerationLimit int
	Logger           zerolog.Logger
}

// NewBuiltin creates an engine; a nil solver restricts it to enumeration.
func NewBuiltin(solver milp.Solver, logger zerolog.Logger) *Builtin {
	return &Builtin{Solver: solver, EnumerationLimit: 200000, Logger: logger}
}

// Rules lists the rule ids Committee accepts.
func (b *Builtin) Rules() []string {
	return []string{"av", "cc", "pav", "sav", "seqcc", "seqpav"}
}

// Committee returns a sorted winning committee. Ties are broken towards the
// lexicographically smallest committee (exact rules) or the smallest
// candidate index (greedy rules).
func (b *Builtin) Committee(ctx context.Context, e *election.ApprovalElection, rule string, k int) ([]int, error) {
	m := e.NumCandidates()
	if k < 0 || k > m {
		return nil, fmt.Errorf("%w: committee size %d outside [0, %d]", election.ErrBadInput, k, m)
	}
	var (
		committee []int
		err       error
	)
	switch rule {
	case "av":
		committee = topK(scoreAV(e), k)
	case "sav":
		committee = topK(scoreSAV(e), k)
	case "cc", "pav":
		committee, err = b.optimal(ctx, e, thiele[rule], rule, k)
	case "seqcc":
		committee = Sequential(e, thiele["cc"], k)
	case "seqpav":
		committee = Sequential(e, thiele["pav"], k)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rule)
	}
	if err != nil {
		return nil, err
	}
	sort.Ints(committee)
	return committee, nil
}

func scoreAV(e *election.ApprovalElection) []float64 {
	counts := e.ApprovalCounts()
	out := make([]float64, len(counts))
	for c, x := range counts {
		out[c] = float64(x)
	}
	return out
}

func scoreSAV(e *election.ApprovalElection) []float64 {
	out := make([]float64, e.NumCandidates())
	for _, vote := range e.Votes() {
		for _, c := range vote {
			out[c] += 1 / float64(len(vote))
		}
	}
	return out
}

// topK picks the k best candidates, lower index first on ties.
func topK(scores []float64, k int) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
	return append([]int(nil), order[:k]...)
}

// Score is the Thiele score of committee under weight w.
func Score(e *election.ApprovalElection, w Weight, committee []int) float64 {
	in := make([]bool, e.NumCandidates())
	for _, c := range committee {
		in[c] = true
	}
	total := 0.0
	for _, vote := range e.Votes() {
		ell := 0
		for _, c := range vote {
			if in[c] {
				ell++
			}
		}
		total += w(ell)
	}
	return total
}

// Sequential grows the committee greedily by marginal Thiele score.
func Sequential(e *election.ApprovalElection, w Weight, k int) []int {
	m := e.NumCandidates()
	in := make([]bool, m)
	sat := make([]int, e.NumVoters())
	votes := e.Votes()
	committee := make([]int, 0, k)
	for len(committee) < k {
		best, bestGain := -1, math.Inf(-1)
		for c := 0; c < m; c++ {
			if in[c] {
				continue
			}
			gain := 0.0
			for v, vote := range votes {
				if approves(vote, c) {
					gain += w(sat[v]+1) - w(sat[v])
				}
			}
			if gain > bestGain+1e-12 {
				best, bestGain = c, gain
			}
		}
		in[best] = true
		committee = append(committee, best)
		for v, vote := range votes {
			if approves(vote, best) {
				sat[v]++
			}
		}
	}
	return committee
}

func approves(vote []int, c int) bool {
	i := sort.SearchInts(vote, c)
	return i < len(vote) && vote[i] == c
}

func (b *Builtin) optimal(ctx context.Context, e *election.ApprovalElection, w Weight, rule string, k int) ([]int, error) {
	m := e.NumCandidates()
	if b.EnumerationLimit <= 0 || combin.Binomial(m, k) <= b.EnumerationLimit {
		return enumerate(ctx, e, w, k)
	}
	if b.Solver == nil {
		return nil, fmt.Errorf("%w: %s committee needs C(%d,%d) evaluations and no solver is configured",
			milp.ErrSolverUnavailable, rule, m, k)
	}
	return b.solveThiele(ctx, e, w, rule, k)
}

func enumerate(ctx context.Context, e *election.ApprovalElection, w Weight, k int) ([]int, error) {
	m := e.NumCandidates()
	if k == 0 {
		return []int{}, nil
	}
	gen := combin.NewCombinationGenerator(m, k)
	comb := make([]int, k)
	var best []int
	bestScore := math.Inf(-1)
	for gen.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gen.Combination(comb)
		if s := Score(e, w, comb); s > bestScore+1e-9 {
			bestScore = s
			best = append(best[:0], comb...)
		}
	}
	return best, nil
}

// solveThiele is the standard Thiele ILP over distinct ballots: x[c] marks
// committee members, y[b][l] marks that ballot b has at least l members.
// Concave weights make the y fill from l = 1 upwards.
func (b *Builtin) solveThiele(ctx context.Context, e *election.ApprovalElection, w Weight, rule string, k int) ([]int, error) {
	m := e.NumCandidates()
	model := milp.NewModel(fmt.Sprintf("%s_%s_k%d", rule, e.ID(), k))
	x := make([]milp.Var, m)
	size := make([]milp.Term, m)
	for c := range x {
		x[c] = model.AddBinary(fmt.Sprintf("x_%d", c))
		size[c] = milp.T(x[c], 1)
	}
	model.AddConstraint("size", size, milp.Equal, float64(k))

	ballots, quantities := e.DistinctVotes()
	var objective []milp.Term
	for i, vote := range ballots {
		top := min(k, len(vote))
		if top == 0 {
			continue
		}
		terms := make([]milp.Term, 0, top+len(vote))
		for ell := 1; ell <= top; ell++ {
			y := model.AddBinary(fmt.Sprintf("y_%d_%d", i, ell))
			terms = append(terms, milp.T(y, 1))
			gain := (w(ell) - w(ell-1)) * float64(quantities[i])
			objective = append(objective, milp.T(y, gain))
		}
		for _, c := range vote {
			terms = append(terms, milp.T(x[c], -1))
		}
		model.AddConstraint(fmt.Sprintf("sat_%d", i), terms, milp.LessEq, 0)
	}
	model.SetObjective(objective, 0, true)

	sol, err := b.Solver.Solve(ctx, model)
	if err != nil {
		return nil, err
	}
	if sol.Status != milp.Optimal {
		return nil, fmt.Errorf("%s committee for %s: solver status %s", rule, e.ID(), sol.Status)
	}
	b.Logger.Debug().
		Str("rule", rule).
		Str("election", e.ID()).
		Int("k", k).
		Int("nodes", sol.Nodes).
		Msg("committee solved by ILP")
	committee := make([]int, 0, k)
	for c := range x {
		if sol.Value(x[c]) > 0.5 {
			committee = append(committee, c)
		}
	}
	return committee, nil
}
