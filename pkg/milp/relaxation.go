package milp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpStatus is the outcome of one LP relaxation.
type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
	lpNumerical
)

// relax solves the LP relaxation of m under the node bounds lo/hi, always as
// a minimisation. It returns the optimal value and the full variable vector.
//
// Standard form for gonum's simplex (min c'y, Ay = b, y >= 0): fixed
// variables are substituted, the rest shifted by their lower bound; every
// inequality gets its own slack, an equality is split into a <= and a >=
// row with distinct slacks and finite upper bounds become rows of their own.
// Every row therefore owns a unit column, which keeps A full row rank.
func relax(m *Model, lo, hi []float64, tol float64) (float64, []float64, lpStatus, error) {
	n := len(m.vars)
	sign := 1.0
	if m.maximize {
		sign = -1
	}
	cost := make([]float64, n)
	for _, t := range m.objective {
		cost[t.Var] += sign * t.Coef
	}

	// column index of each free variable, -1 when fixed
	col := make([]int, n)
	numCols := 0
	for j := 0; j < n; j++ {
		if hi[j]-lo[j] <= tol {
			col[j] = -1
			continue
		}
		col[j] = numCols
		numCols++
	}

	type row struct {
		coef  map[int]float64
		slack float64 // +1 for <=, -1 for >=
		rhs   float64
	}
	var rows []row
	addRow := func(coef map[int]float64, sense Sense, rhs float64) bool {
		if len(coef) == 0 {
			switch sense {
			case LessEq:
				return 0 <= rhs+tol
			case GreaterEq:
				return 0 >= rhs-tol
			default:
				return math.Abs(rhs) <= tol
			}
		}
		switch sense {
		case LessEq:
			rows = append(rows, row{coef, 1, rhs})
		case GreaterEq:
			rows = append(rows, row{coef, -1, rhs})
		default:
			rows = append(rows, row{coef, 1, rhs}, row{coef, -1, rhs})
		}
		return true
	}

	for _, c := range m.cons {
		coef := make(map[int]float64)
		rhs := c.rhs
		for _, t := range c.terms {
			rhs -= t.Coef * lo[t.Var]
			if k := col[t.Var]; k >= 0 && t.Coef != 0 {
				coef[k] += t.Coef
			}
		}
		for k, a := range coef {
			if a == 0 {
				delete(coef, k)
			}
		}
		if !addRow(coef, c.sense, rhs) {
			return 0, nil, lpInfeasible, nil
		}
	}
	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && !math.IsInf(hi[j], 1) {
			addRow(map[int]float64{k: 1}, LessEq, hi[j]-lo[j])
		}
	}

	base := 0.0
	for j := 0; j < n; j++ {
		base += cost[j] * lo[j]
	}

	// columns that no row touches sit at their lower bound, or make the LP unbounded
	touched := make([]bool, numCols)
	for _, r := range rows {
		for k := range r.coef {
			touched[k] = true
		}
	}
	x := append([]float64(nil), lo...)
	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && !touched[k] && cost[j] < -tol {
			return 0, nil, lpUnbounded, nil
		}
	}
	if len(rows) == 0 {
		return base, x, lpOptimal, nil
	}

	// dense standard form over touched structural columns plus one slack per row
	index := make([]int, numCols)
	width := 0
	for k := range index {
		index[k] = -1
		if touched[k] {
			index[k] = width
			width++
		}
	}
	total := width + len(rows)
	a := mat.NewDense(len(rows), total, nil)
	b := make([]float64, len(rows))
	c := make([]float64, total)
	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && index[k] >= 0 {
			c[index[k]] = cost[j]
		}
	}
	for i, r := range rows {
		s := 1.0
		if r.rhs < 0 {
			s = -1
		}
		for k, v := range r.coef {
			a.Set(i, index[k], s*v)
		}
		a.Set(i, width+i, s*r.slack)
		b[i] = s * r.rhs
	}

	opt, y, err := simplex(c, a, b, tol)
	switch {
	case err == nil:
	case errors.Is(err, lp.ErrInfeasible):
		return 0, nil, lpInfeasible, nil
	case errors.Is(err, lp.ErrUnbounded):
		return 0, nil, lpUnbounded, nil
	default:
		return 0, nil, lpNumerical, err
	}

	for j := 0; j < n; j++ {
		if k := col[j]; k >= 0 && index[k] >= 0 {
			x[j] = lo[j] + y[index[k]]
		}
	}
	return base + opt, x, lpOptimal, nil
}

// simplex guards gonum's solver, which panics on some degenerate inputs.
func simplex(c []float64, a mat.Matrix, b []float64, tol float64) (opt float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: simplex panicked: %v", ErrNumerical, r)
		}
	}()
	return lp.Simplex(c, a, b, tol, nil)
}
