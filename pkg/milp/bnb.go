package milp

import (
	"context"
	"errors"
	"math"
	"time"
)

// BranchAndBound is an LP-based branch-and-bound MILP solver. Relaxations
// run on gonum's simplex; the tree is explored depth first, branching on the
// most fractional integer variable and visiting the nearer child first.
type BranchAndBound struct {
	opts Options
}

// NewBranchAndBound returns a solver with opts; a zero Tolerance becomes 1e-8.
func NewBranchAndBound(opts Options) *BranchAndBound {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-8
	}
	return &BranchAndBound{opts: opts}
}

func (s *BranchAndBound) Name() string { return "bnb" }

type bbNode struct {
	lo, hi []float64
}

// bbEngine keeps the search state of a single solve.
type bbEngine struct {
	model *Model
	tol   float64
	// integrality tolerance is looser than the LP tolerance
	intTol float64

	useDeadline bool
	deadline    time.Time
	nodeLimit   int

	nodes     int
	incumbent []float64
	bestObj   float64 // internal (minimisation) sense
}

// Solve runs branch-and-bound on m.
func (s *BranchAndBound) Solve(ctx context.Context, m *Model) (*Solution, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	e := &bbEngine{
		model:     m,
		tol:       s.opts.Tolerance,
		intTol:    math.Max(s.opts.Tolerance, 1e-6),
		nodeLimit: s.opts.NodeLimit,
		bestObj:   math.Inf(1),
	}
	if s.opts.TimeLimit > 0 {
		e.useDeadline = true
		e.deadline = start.Add(s.opts.TimeLimit)
	}

	status, err := e.run(ctx)
	sol := &Solution{Status: status, Nodes: e.nodes, Elapsed: time.Since(start)}
	if e.incumbent != nil {
		sol.Values = e.incumbent
		sol.Objective = m.Evaluate(e.incumbent)
	}
	s.opts.Logger.Debug().
		Str("model", m.Name).
		Int("vars", m.NumVars()).
		Int("rows", m.NumConstraints()).
		Int("nodes", e.nodes).
		Str("status", status.String()).
		Dur("elapsed", sol.Elapsed).
		Msg("milp solve finished")
	return sol, err
}

func (e *bbEngine) run(ctx context.Context) (Status, error) {
	n := len(e.model.vars)
	root := bbNode{lo: make([]float64, n), hi: make([]float64, n)}
	for j, v := range e.model.vars {
		root.lo[j], root.hi[j] = v.lo, v.hi
		if v.typ != Continuous {
			root.lo[j] = math.Ceil(v.lo - e.intTol)
			if !math.IsInf(v.hi, 1) {
				root.hi[j] = math.Floor(v.hi + e.intTol)
			}
			if root.hi[j] < root.lo[j] {
				return Infeasible, nil
			}
		}
	}

	stack := []bbNode{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Cancelled, nil
		}
		if e.useDeadline && time.Now().After(e.deadline) {
			return TimeLimit, nil
		}
		if e.nodeLimit > 0 && e.nodes >= e.nodeLimit {
			return NodeLimit, nil
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e.nodes++

		obj, x, status, err := relax(e.model, node.lo, node.hi, e.tol)
		switch status {
		case lpInfeasible:
			continue
		case lpUnbounded:
			if e.nodes == 1 {
				return Unbounded, nil
			}
			continue
		case lpNumerical:
			if !errors.Is(err, ErrNumerical) {
				err = errors.Join(ErrNumerical, err)
			}
			return Numerical, err
		}
		if e.incumbent != nil && obj >= e.bestObj-e.tol*math.Max(1, math.Abs(e.bestObj)) {
			continue
		}

		branch, frac := -1, 0.0
		for j, v := range e.model.vars {
			if v.typ == Continuous {
				continue
			}
			f := x[j] - math.Floor(x[j])
			d := math.Min(f, 1-f)
			if d > e.intTol && d > frac {
				branch, frac = j, d
			}
		}
		if branch < 0 {
			for j, v := range e.model.vars {
				if v.typ != Continuous {
					x[j] = math.Round(x[j])
				}
			}
			e.incumbent = x
			e.bestObj = obj
			continue
		}

		down := bbNode{lo: node.lo, hi: cloneWith(node.hi, branch, math.Floor(x[branch]))}
		up := bbNode{lo: cloneWith(node.lo, branch, math.Ceil(x[branch])), hi: node.hi}
		if x[branch]-math.Floor(x[branch]) < 0.5 {
			stack = append(stack, up, down)
		} else {
			stack = append(stack, down, up)
		}
	}

	if e.incumbent == nil {
		return Infeasible, nil
	}
	return Optimal, nil
}

func cloneWith(xs []float64, j int, v float64) []float64 {
	out := append([]float64(nil), xs...)
	out[j] = v
	return out
}
