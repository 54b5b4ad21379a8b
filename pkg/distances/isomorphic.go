package distances

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

// ErrNotSolved is returned when an exact kernel stops before proving
// optimality (time or node limit, numerical trouble).
var ErrNotSolved = errors.New("distance not solved to optimality")

func isomorphicInputs(e1, e2 election.Election) (*election.OrdinalElection, *election.OrdinalElection, error) {
	o1, o2, err := ordinalPair(e1, e2)
	if err != nil {
		return nil, nil, err
	}
	if err := requireVotes(e1, e2); err != nil {
		return nil, nil, err
	}
	if err := sameCandidates(e1, e2); err != nil {
		return nil, nil, err
	}
	return o1, o2, nil
}

// candidatePermutations walks every candidate permutation, stopping early
// when visit returns false. It refuses to start above limit (0 = none).
func candidatePermutations(ctx context.Context, m, limit int, visit func(tau []int) bool) error {
	if limit > 0 && (m > 20 || combin.NumPermutations(m, m) > limit) {
		return fmt.Errorf("%w: %d! candidate permutations exceed the limit of %d", assignment.ErrTooLarge, m, limit)
	}
	gen := combin.NewPermutationGenerator(m, m)
	tau := make([]int, m)
	for gen.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen.Permutation(tau)
		if !visit(tau) {
			break
		}
	}
	return nil
}

// Swap is the isomorphic swap (Kendall tau) distance: the minimum over
// candidate renamings of the optimal voter matching under swap cost.
// Candidates are enumerated exhaustively; voters are matched by LAP.
func Swap(ctx context.Context, e1, e2 election.Election, _ InnerDistance, opts *Options) (float64, []int, error) {
	o1, o2, err := isomorphicInputs(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameVoters(e1, e2); err != nil {
		return 0, nil, err
	}
	n, m := o1.NumVoters(), o1.NumCandidates()
	p1, p2 := o1.Potes(), o2.Potes()

	best := math.Inf(1)
	var bestTau []int
	renamed := make([][]int, n)
	for v := range renamed {
		renamed[v] = make([]int, m)
	}
	cost := make([][]float64, n)
	for v := range cost {
		cost[v] = make([]float64, n)
	}
	var lapErr error
	err = candidatePermutations(ctx, m, opts.BruteForceLimit, func(tau []int) bool {
		for v := 0; v < n; v++ {
			for c := 0; c < m; c++ {
				renamed[v][tau[c]] = p1[v][c]
			}
		}
		for v := 0; v < n; v++ {
			for w := 0; w < n; w++ {
				cost[v][w] = float64(election.SwapDistance(renamed[v], p2[w]))
			}
		}
		obj, _, err := assignment.Solve(cost)
		if err != nil {
			lapErr = err
			return false
		}
		if obj < best-1e-9 {
			best = obj
			bestTau = append(bestTau[:0], tau...)
		}
		return best > 0
	})
	if err != nil {
		return 0, nil, err
	}
	if lapErr != nil {
		return 0, nil, lapErr
	}
	return best, bestTau, nil
}

// Spearman is the isomorphic Spearman distance computed with the configured
// bilinear assignment method.
func Spearman(ctx context.Context, e1, e2 election.Election, _ InnerDistance, opts *Options) (float64, []int, error) {
	return spearman(ctx, e1, e2, opts.BAPMethod, opts)
}

func spearmanWith(method assignment.BAPMethod) Func {
	return func(ctx context.Context, e1, e2 election.Election, _ InnerDistance, opts *Options) (float64, []int, error) {
		return spearman(ctx, e1, e2, method, opts)
	}
}

func spearman(ctx context.Context, e1, e2 election.Election, method assignment.BAPMethod, opts *Options) (float64, []int, error) {
	o1, o2, err := isomorphicInputs(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	if err := sameVoters(e1, e2); err != nil {
		return 0, nil, err
	}
	res, err := assignment.SpearmanBAP(ctx, positions(o1), positions(o2), method, assignment.BAPOptions{
		Limit:    opts.BruteForceLimit,
		Restarts: opts.BAPRestarts,
		Rand:     opts.Rand,
	})
	if err != nil {
		return 0, nil, err
	}
	if !res.Exact {
		opts.Logger.Debug().
			Str("e1", e1.ID()).
			Str("e2", e2.ID()).
			Str("method", string(method)).
			Float64("objective", res.Objective).
			Msg("Spearman distance is a heuristic upper bound")
	}
	return res.Objective, res.CandidateMatch, nil
}

// positions maps unranked candidates to position m.
func positions(e *election.OrdinalElection) [][]int {
	m := e.NumCandidates()
	potes := e.Potes()
	out := make([][]int, len(potes))
	for v, row := range potes {
		r := make([]int, m)
		for c, p := range row {
			if p == election.Unranked {
				p = m
			}
			r[c] = p
		}
		out[v] = r
	}
	return out
}

// Discrete is max(n1, n2) minus the largest number of voters that can be
// paired with identical ballots under one candidate renaming. It is solved
// as an integer program over distinct ballots; without a solver it falls
// back to enumerating candidate permutations.
func Discrete(ctx context.Context, e1, e2 election.Election, _ InnerDistance, opts *Options) (float64, []int, error) {
	o1, o2, err := isomorphicInputs(e1, e2)
	if err != nil {
		return 0, nil, err
	}
	n := o1.NumVoters()
	if o2.NumVoters() > n {
		n = o2.NumVoters()
	}

	if opts.Solver != nil {
		common, tau, err := discreteMILP(ctx, o1, o2, opts.Solver)
		switch {
		case err == nil:
			return float64(n - common), tau, nil
		case errors.Is(err, milp.ErrSolverUnavailable):
			opts.Logger.Warn().
				Err(err).
				Str("e1", e1.ID()).
				Str("e2", e2.ID()).
				Msg("MILP solver unavailable, enumerating candidate permutations for discrete distance")
		default:
			return 0, nil, err
		}
	}
	common, tau, err := discreteBruteForce(ctx, o1, o2, opts.BruteForceLimit)
	if err != nil {
		return 0, nil, err
	}
	return float64(n - common), tau, nil
}

func discreteBruteForce(ctx context.Context, o1, o2 *election.OrdinalElection, limit int) (int, []int, error) {
	d1, q1 := o1.DistinctVotes()
	d2, q2 := o2.DistinctVotes()
	m := o1.NumCandidates()
	target := make(map[string]int, len(d2))
	for i, vote := range d2 {
		target[ballotKey(vote)] = q2[i]
	}

	best := -1
	var bestTau []int
	total := o1.NumVoters()
	if o2.NumVoters() < total {
		total = o2.NumVoters()
	}
	renamed := make([]int, m)
	err := candidatePermutations(ctx, m, limit, func(tau []int) bool {
		common := 0
		for i, vote := range d1 {
			for k, c := range vote {
				if c == election.Unranked {
					renamed[k] = c
				} else {
					renamed[k] = tau[c]
				}
			}
			if q, ok := target[ballotKey(renamed)]; ok {
				common += min(q, q1[i])
			}
		}
		if common > best {
			best = common
			bestTau = append(bestTau[:0], tau...)
		}
		return best < total
	})
	if err != nil {
		return 0, nil, err
	}
	return best, bestTau, nil
}

func ballotKey(vote []int) string {
	var sb strings.Builder
	for _, c := range vote {
		sb.WriteString(strconv.Itoa(c))
		sb.WriteByte(',')
	}
	return sb.String()
}

// discreteMILP maximises the number of paired voters. Variables: M[c][d]
// binary candidate matching; N[a][b] integer number of copies of distinct
// ballot a paired with distinct ballot b, allowed only when M maps a onto b
// position by position.
func discreteMILP(ctx context.Context, o1, o2 *election.OrdinalElection, solver milp.Solver) (int, []int, error) {
	d1, q1 := o1.DistinctVotes()
	d2, q2 := o2.DistinctVotes()
	m := o1.NumCandidates()

	model := milp.NewModel(fmt.Sprintf("discrete_%s_%s", o1.ID(), o2.ID()))
	match := make([][]milp.Var, m)
	for c := range match {
		match[c] = make([]milp.Var, m)
		for d := range match[c] {
			match[c][d] = model.AddBinary(fmt.Sprintf("M_%d_%d", c, d))
		}
	}
	for c := 0; c < m; c++ {
		row := make([]milp.Term, m)
		col := make([]milp.Term, m)
		for d := 0; d < m; d++ {
			row[d] = milp.T(match[c][d], 1)
			col[d] = milp.T(match[d][c], 1)
		}
		model.AddConstraint(fmt.Sprintf("row_%d", c), row, milp.Equal, 1)
		model.AddConstraint(fmt.Sprintf("col_%d", c), col, milp.Equal, 1)
	}

	var objective []milp.Term
	fromA := make([][]milp.Term, len(d1))
	toB := make([][]milp.Term, len(d2))
	for a, va := range d1 {
		for b, vb := range d2 {
			if !compatible(va, vb) {
				continue
			}
			bound := float64(min(q1[a], q2[b]))
			x := model.AddInteger(fmt.Sprintf("N_%d_%d", a, b), 0, bound)
			objective = append(objective, milp.T(x, 1))
			fromA[a] = append(fromA[a], milp.T(x, 1))
			toB[b] = append(toB[b], milp.T(x, 1))
			for k, c := range va {
				if c == election.Unranked {
					continue
				}
				model.AddConstraint(fmt.Sprintf("agree_%d_%d_%d", a, b, k),
					[]milp.Term{milp.T(x, 1), milp.T(match[c][vb[k]], -bound)}, milp.LessEq, 0)
			}
		}
	}
	for a, terms := range fromA {
		if len(terms) > 0 {
			model.AddConstraint(fmt.Sprintf("supply_%d", a), terms, milp.LessEq, float64(q1[a]))
		}
	}
	for b, terms := range toB {
		if len(terms) > 0 {
			model.AddConstraint(fmt.Sprintf("demand_%d", b), terms, milp.LessEq, float64(q2[b]))
		}
	}
	model.SetObjective(objective, 0, true)

	sol, err := solver.Solve(ctx, model)
	if err != nil {
		return 0, nil, err
	}
	if sol.Status != milp.Optimal {
		return 0, nil, fmt.Errorf("%w: discrete distance between %s and %s ended with status %s",
			ErrNotSolved, o1.ID(), o2.ID(), sol.Status)
	}
	tau := make([]int, m)
	for c := 0; c < m; c++ {
		for d := 0; d < m; d++ {
			if sol.Value(match[c][d]) > 0.5 {
				tau[c] = d
			}
		}
	}
	return int(math.Round(sol.Objective)), tau, nil
}

// compatible reports whether two ballots leave the same positions empty.
func compatible(a, b []int) bool {
	for k := range a {
		if (a[k] == election.Unranked) != (b[k] == election.Unranked) {
			return false
		}
	}
	return true
}
