// Package assignment solves the matching sub-problems behind isomorphic
// election distances: rectangular linear assignment (Hungarian method),
// matrix matching under an inner vector distance and the bilinear
// assignment problem used by isomorphic Spearman.
package assignment

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInfeasible is returned when no finite-cost assignment exists or the
	// cost table carries NaN / -Inf entries.
	ErrInfeasible = errors.New("assignment infeasible")
	// ErrTooLarge is returned when an enumeration would exceed its limit.
	ErrTooLarge = errors.New("enumeration limit exceeded")
)

// Solve returns the minimum of sum_i cost[i][perm[i]] and its argmin. Rows may
// be fewer than columns; with more rows than columns unmatched rows get -1.
// +Inf entries are forbidden pairs.
func Solve(cost [][]float64) (float64, []int, error) {
	rows := len(cost)
	if rows == 0 {
		return 0, []int{}, nil
	}
	cols := len(cost[0])
	for i, row := range cost {
		if len(row) != cols {
			return 0, nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrInfeasible, i, len(row), cols)
		}
	}
	if cols == 0 {
		perm := make([]int, rows)
		for i := range perm {
			perm[i] = -1
		}
		return 0, perm, nil
	}

	work, big, err := sanitize(cost)
	if err != nil {
		return 0, nil, err
	}

	var perm []int
	if rows <= cols {
		perm = hungarian(work, rows, cols)
	} else {
		colPerm := hungarian(transpose(work), cols, rows)
		perm = make([]int, rows)
		for i := range perm {
			perm[i] = -1
		}
		for j, i := range colPerm {
			perm[i] = j
		}
	}

	total := 0.0
	for i, j := range perm {
		if j < 0 {
			continue
		}
		if work[i][j] >= big {
			return 0, nil, fmt.Errorf("%w: every assignment uses a forbidden pair", ErrInfeasible)
		}
		total += cost[i][j]
	}
	return total, perm, nil
}

// SolveCanonical returns an optimal assignment that is lexicographically
// smallest among all optimal ones. It needs rows <= columns.
func SolveCanonical(cost [][]float64) (float64, []int, error) {
	opt, perm, err := Solve(cost)
	if err != nil {
		return 0, nil, err
	}
	rows := len(cost)
	if rows == 0 || rows > len(cost[0]) {
		return opt, perm, nil
	}
	cols := len(cost[0])
	tol := 1e-9 * math.Max(1, math.Abs(opt))

	fixed := make([]int, 0, rows)
	used := make([]bool, cols)
	prefix := 0.0
	for i := 0; i < rows; i++ {
		chosen := -1
		for j := 0; j < cols && chosen < 0; j++ {
			if used[j] || math.IsInf(cost[i][j], 1) {
				continue
			}
			used[j] = true
			rest, _, err := Solve(subMatrix(cost, i+1, used))
			used[j] = false
			if err != nil {
				continue
			}
			if prefix+cost[i][j]+rest <= opt+tol {
				chosen = j
			}
		}
		if chosen < 0 {
			// tolerance drift; keep the plain optimum
			return opt, perm, nil
		}
		used[chosen] = true
		prefix += cost[i][chosen]
		fixed = append(fixed, chosen)
	}
	return opt, fixed, nil
}

// CostMatrix builds C[i][j] = delta(a[i], b[j]).
func CostMatrix(a, b [][]float64, delta func(x, y []float64) float64) [][]float64 {
	cost := make([][]float64, len(a))
	for i := range a {
		cost[i] = make([]float64, len(b))
		for j := range b {
			cost[i][j] = delta(a[i], b[j])
		}
	}
	return cost
}

// MatchMatrices minimises sum_i delta(a[i], b[perm[i]]) over permutations.
func MatchMatrices(a, b [][]float64, delta func(x, y []float64) float64) (float64, []int, error) {
	return Solve(CostMatrix(a, b, delta))
}

func sanitize(cost [][]float64) ([][]float64, float64, error) {
	maxAbs := 0.0
	forbidden := false
	for _, row := range cost {
		for _, x := range row {
			switch {
			case math.IsNaN(x) || math.IsInf(x, -1):
				return nil, 0, fmt.Errorf("%w: cost table holds %v", ErrInfeasible, x)
			case math.IsInf(x, 1):
				forbidden = true
			case math.Abs(x) > maxAbs:
				maxAbs = math.Abs(x)
			}
		}
	}
	big := math.Inf(1)
	if !forbidden {
		return cost, big, nil
	}
	big = (maxAbs+1)*float64(len(cost)+len(cost[0])+1) + 1
	work := make([][]float64, len(cost))
	for i, row := range cost {
		work[i] = make([]float64, len(row))
		for j, x := range row {
			if math.IsInf(x, 1) {
				x = big
			}
			work[i][j] = x
		}
	}
	return work, big, nil
}

// hungarian solves the n x m problem (n <= m) with the potentials method.
func hungarian(a [][]float64, n, m int) []int {
	inf := math.MaxFloat64
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}
				cur := a[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	assign := make([]int, n)
	for j := 1; j <= m; j++ {
		if p[j] != 0 {
			assign[p[j]-1] = j - 1
		}
	}
	return assign
}

func transpose(a [][]float64) [][]float64 {
	if len(a) == 0 {
		return nil
	}
	t := make([][]float64, len(a[0]))
	for j := range t {
		t[j] = make([]float64, len(a))
		for i := range a {
			t[j][i] = a[i][j]
		}
	}
	return t
}

// subMatrix keeps rows from..end and the columns not marked used.
func subMatrix(cost [][]float64, from int, used []bool) [][]float64 {
	out := make([][]float64, 0, len(cost)-from)
	for i := from; i < len(cost); i++ {
		row := make([]float64, 0, len(used))
		for j, u := range used {
			if !u {
				row = append(row, cost[i][j])
			}
		}
		out = append(out, row)
	}
	return out
}
