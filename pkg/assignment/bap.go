package assignment

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/combin"
)

// BAPMethod selects a bilinear assignment strategy.
type BAPMethod string

const (
	// BruteForce enumerates permutations of the shorter side (exact).
	BruteForce BAPMethod = "bf"
	// Alternating fixes one side and solves the induced LAP for the other (heuristic).
	Alternating BAPMethod = "aa"
	// BranchAndBound fixes candidates one by one under a LAP lower bound (exact).
	BranchAndBound BAPMethod = "bb"
)

// ParseBAPMethod resolves "bf", "aa" or "bb".
func ParseBAPMethod(s string) (BAPMethod, error) {
	switch m := BAPMethod(s); m {
	case BruteForce, Alternating, BranchAndBound:
		return m, nil
	}
	return "", fmt.Errorf("unknown bilinear assignment method %q", s)
}

// BAPOptions tunes SpearmanBAP.
type BAPOptions struct {
	// Limit caps the number of permutations brute force may enumerate (0 = none).
	Limit int
	// Restarts is the number of alternating-heuristic starts (at least one).
	Restarts int
	// Rand seeds random starts after the first; nil uses identity starts only.
	Rand *rand.Rand
}

// BAPResult is an optimal (or heuristic) pair of matchings.
type BAPResult struct {
	Objective float64
	// VoterMatch[v] is the voter of the second election paired with voter v.
	VoterMatch []int
	// CandidateMatch[c] is the candidate of the second election paired with c.
	CandidateMatch []int
	Exact          bool
}

// SpearmanBAP minimises sum_v sum_c |u[v][c] - w[sigma(v)][tau(c)]| over voter
// permutations sigma and candidate permutations tau. u and w are n x m
// position tables of equal shape (unranked candidates already mapped to a
// position). Exact methods return ctx.Err() when cancelled.
func SpearmanBAP(ctx context.Context, u, w [][]int, method BAPMethod, opts BAPOptions) (BAPResult, error) {
	n := len(u)
	if n != len(w) {
		return BAPResult{}, fmt.Errorf("%w: elections have %d and %d voters", ErrInfeasible, n, len(w))
	}
	if n == 0 {
		return BAPResult{Exact: true, VoterMatch: []int{}, CandidateMatch: []int{}}, nil
	}
	m := len(u[0])
	for v := range u {
		if len(u[v]) != m || len(w[v]) != m {
			return BAPResult{}, fmt.Errorf("%w: ragged position tables", ErrInfeasible)
		}
	}

	p := newBilinear(u, w)
	// the enumerated / branched side is the candidate side; make it the shorter one
	transposed := false
	if n < m {
		p = p.transpose()
		transposed = true
	}

	var (
		res BAPResult
		err error
	)
	switch method {
	case BruteForce:
		res, err = p.bruteForce(ctx, opts.Limit)
	case Alternating:
		res, err = p.alternating(ctx, opts)
	case BranchAndBound, "":
		res, err = p.branchAndBound(ctx)
	default:
		return BAPResult{}, fmt.Errorf("unknown bilinear assignment method %q", method)
	}
	if err != nil {
		return BAPResult{}, err
	}
	if transposed {
		res.VoterMatch, res.CandidateMatch = res.CandidateMatch, res.VoterMatch
	}
	return res, nil
}

// bilinear holds rows x cols tables; rows are matched by LAP and cols by the
// outer search.
type bilinear struct {
	u, w       [][]float64
	rows, cols int
}

func newBilinear(u, w [][]int) *bilinear {
	return &bilinear{u: toFloat(u), w: toFloat(w), rows: len(u), cols: len(u[0])}
}

func (p *bilinear) transpose() *bilinear {
	return &bilinear{u: transpose(p.u), w: transpose(p.w), rows: p.cols, cols: p.rows}
}

// rowCost returns C[r][s] = sum_c |u[r][c] - w[s][tau[c]]|.
func (p *bilinear) rowCost(tau []int) [][]float64 {
	cost := make([][]float64, p.rows)
	for r := 0; r < p.rows; r++ {
		cost[r] = make([]float64, p.rows)
		for s := 0; s < p.rows; s++ {
			d := 0.0
			for c, t := range tau {
				d += math.Abs(p.u[r][c] - p.w[s][t])
			}
			cost[r][s] = d
		}
	}
	return cost
}

// colCost returns C[c][d] = sum_r |u[r][c] - w[sigma[r]][d]|.
func (p *bilinear) colCost(sigma []int) [][]float64 {
	cost := make([][]float64, p.cols)
	for c := 0; c < p.cols; c++ {
		cost[c] = make([]float64, p.cols)
		for d := 0; d < p.cols; d++ {
			x := 0.0
			for r, s := range sigma {
				x += math.Abs(p.u[r][c] - p.w[s][d])
			}
			cost[c][d] = x
		}
	}
	return cost
}

func (p *bilinear) bruteForce(ctx context.Context, limit int) (BAPResult, error) {
	if limit > 0 && (p.cols > 20 || combin.NumPermutations(p.cols, p.cols) > limit) {
		return BAPResult{}, fmt.Errorf("%w: %d! permutations exceed %d", ErrTooLarge, p.cols, limit)
	}
	best := BAPResult{Objective: math.Inf(1), Exact: true}
	gen := combin.NewPermutationGenerator(p.cols, p.cols)
	tau := make([]int, p.cols)
	for gen.Next() {
		if err := ctx.Err(); err != nil {
			return BAPResult{}, err
		}
		gen.Permutation(tau)
		obj, sigma, err := Solve(p.rowCost(tau))
		if err != nil {
			return BAPResult{}, err
		}
		if obj < best.Objective {
			best.Objective = obj
			best.VoterMatch = sigma
			best.CandidateMatch = append([]int(nil), tau...)
		}
	}
	return best, nil
}

func (p *bilinear) alternating(ctx context.Context, opts BAPOptions) (BAPResult, error) {
	restarts := opts.Restarts
	if restarts < 1 {
		restarts = 1
	}
	best := BAPResult{Objective: math.Inf(1)}
	for r := 0; r < restarts; r++ {
		tau := identity(p.cols)
		if r > 0 && opts.Rand != nil {
			tau = opts.Rand.Perm(p.cols)
		}
		res, err := p.descend(ctx, tau)
		if err != nil {
			if best.VoterMatch != nil {
				return best, nil
			}
			return BAPResult{}, err
		}
		if res.Objective < best.Objective {
			best = res
		}
	}
	return best, nil
}

// descend alternates row and column LAPs from tau until the objective stops
// improving.
func (p *bilinear) descend(ctx context.Context, tau []int) (BAPResult, error) {
	prev := math.Inf(1)
	var sigma []int
	for {
		if err := ctx.Err(); err != nil {
			return BAPResult{}, err
		}
		_, s, err := Solve(p.rowCost(tau))
		if err != nil {
			return BAPResult{}, err
		}
		obj, t, err := Solve(p.colCost(s))
		if err != nil {
			return BAPResult{}, err
		}
		if obj >= prev-1e-12 {
			return BAPResult{Objective: prev, VoterMatch: sigma, CandidateMatch: tau}, nil
		}
		prev, sigma, tau = obj, s, t
	}
}

// branchAndBound fixes tau(0), tau(1), ... in DFS order. The bound of a
// partial assignment is the row LAP whose (r,s) entry is the fixed-column
// cost plus the optimal 1-D matching of the remaining values of u[r] and
// w[s]; at a leaf the bound is exact.
func (p *bilinear) branchAndBound(ctx context.Context) (BAPResult, error) {
	seed, err := p.descend(ctx, identity(p.cols))
	if err != nil {
		return BAPResult{}, err
	}
	best := seed
	best.Exact = true

	tau := make([]int, p.cols)
	usedTarget := make([]bool, p.cols)
	fixedCost := make([][]float64, p.rows)
	for r := range fixedCost {
		fixedCost[r] = make([]float64, p.rows)
	}

	var visit func(depth int) error
	visit = func(depth int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if depth == p.cols {
			obj, sigma, err := Solve(fixedCost)
			if err != nil {
				return err
			}
			if obj < best.Objective-1e-12 {
				best.Objective = obj
				best.VoterMatch = sigma
				best.CandidateMatch = append([]int(nil), tau...)
			}
			return nil
		}

		type child struct {
			target int
			bound  float64
		}
		var children []child
		for d := 0; d < p.cols; d++ {
			if usedTarget[d] {
				continue
			}
			p.addColumn(fixedCost, depth, d, 1)
			usedTarget[d] = true
			bound, err := p.bound(fixedCost, depth+1, usedTarget)
			usedTarget[d] = false
			p.addColumn(fixedCost, depth, d, -1)
			if err != nil {
				return err
			}
			if bound < best.Objective-1e-9 {
				children = append(children, child{d, bound})
			}
		}
		sort.SliceStable(children, func(i, j int) bool { return children[i].bound < children[j].bound })

		for _, ch := range children {
			if ch.bound >= best.Objective-1e-9 {
				break
			}
			tau[depth] = ch.target
			usedTarget[ch.target] = true
			p.addColumn(fixedCost, depth, ch.target, 1)
			err := visit(depth + 1)
			p.addColumn(fixedCost, depth, ch.target, -1)
			usedTarget[ch.target] = false
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := visit(0); err != nil {
		return BAPResult{}, err
	}
	return best, nil
}

func (p *bilinear) addColumn(fixedCost [][]float64, c, d int, sign float64) {
	for r := 0; r < p.rows; r++ {
		for s := 0; s < p.rows; s++ {
			fixedCost[r][s] += sign * math.Abs(p.u[r][c]-p.w[s][d])
		}
	}
}

func (p *bilinear) bound(fixedCost [][]float64, from int, usedTarget []bool) (float64, error) {
	if from == p.cols {
		obj, _, err := Solve(fixedCost)
		return obj, err
	}
	left := make([][]float64, p.rows)
	right := make([][]float64, p.rows)
	for r := 0; r < p.rows; r++ {
		left[r] = sortedCopy(p.u[r][from:])
		vals := make([]float64, 0, p.cols-from)
		for d, used := range usedTarget {
			if !used {
				vals = append(vals, p.w[r][d])
			}
		}
		sort.Float64s(vals)
		right[r] = vals
	}
	cost := make([][]float64, p.rows)
	for r := 0; r < p.rows; r++ {
		cost[r] = make([]float64, p.rows)
		for s := 0; s < p.rows; s++ {
			x := fixedCost[r][s]
			for k := range left[r] {
				x += math.Abs(left[r][k] - right[s][k])
			}
			cost[r][s] = x
		}
	}
	obj, _, err := Solve(cost)
	return obj, err
}

func sortedCopy(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

func identity(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func toFloat(a [][]int) [][]float64 {
	out := make([][]float64, len(a))
	for i, row := range a {
		out[i] = make([]float64, len(row))
		for j, x := range row {
			out[i][j] = float64(x)
		}
	}
	return out
}
