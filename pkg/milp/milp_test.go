package milp

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solve(t *testing.T, m *Model) *Solution {
	t.Helper()
	sol, err := NewBranchAndBound(DefaultOptions()).Solve(context.Background(), m)
	require.NoError(t, err)
	return sol
}

func TestKnapsack(t *testing.T) {
	m := NewModel("knapsack")
	a, b, c := m.AddBinary("a"), m.AddBinary("b"), m.AddBinary("c")
	m.AddConstraint("weight", []Term{T(a, 2), T(b, 3), T(c, 1)}, LessEq, 5)
	m.SetObjective([]Term{T(a, 5), T(b, 4), T(c, 3)}, 0, true)

	sol := solve(t, m)
	require.Equal(t, Optimal, sol.Status)
	assert.InDelta(t, 9.0, sol.Objective, 1e-6)
	assert.Equal(t, 1.0, sol.Value(a))
	assert.Equal(t, 1.0, sol.Value(b))
	assert.Equal(t, 0.0, sol.Value(c))
}

func TestIntegerRounding(t *testing.T) {
	m := NewModel("cover")
	x, y := m.AddInteger("x", 0, 5), m.AddInteger("y", 0, 5)
	m.AddConstraint("cover", []Term{T(x, 2), T(y, 2)}, GreaterEq, 3)
	m.SetObjective([]Term{T(x, 1), T(y, 1)}, 0, false)

	sol := solve(t, m)
	require.Equal(t, Optimal, sol.Status)
	assert.InDelta(t, 2.0, sol.Objective, 1e-6)
	assert.True(t, m.Feasible(sol.Values, 1e-6))
}

func TestEqualityRows(t *testing.T) {
	m := NewModel("choose-two")
	xs := []Var{m.AddBinary("x1"), m.AddBinary("x2"), m.AddBinary("x3")}
	m.AddConstraint("two", []Term{T(xs[0], 1), T(xs[1], 1), T(xs[2], 1)}, Equal, 2)
	m.SetObjective([]Term{T(xs[0], 3), T(xs[1], 1), T(xs[2], 2)}, 1, false)

	sol := solve(t, m)
	require.Equal(t, Optimal, sol.Status)
	assert.InDelta(t, 4.0, sol.Objective, 1e-6)
	assert.Equal(t, 0.0, sol.Value(xs[0]))
}

func TestIndicator(t *testing.T) {
	m := NewModel("indicator")
	z := m.AddBinary("z")
	y := m.AddContinuous("y", 0, 10)
	require.NoError(t, m.AddIndicator("z_implies_y", z, true, []Term{T(y, 1)}, GreaterEq, 7))
	m.SetObjective([]Term{T(z, 10), T(y, -1)}, 0, true)

	sol := solve(t, m)
	require.Equal(t, Optimal, sol.Status)
	assert.InDelta(t, 3.0, sol.Objective, 1e-6)
	assert.InDelta(t, 7.0, sol.Value(y), 1e-6)

	err := m.AddIndicator("bad", y, true, nil, LessEq, 0)
	assert.Error(t, err)
}

func TestInfeasible(t *testing.T) {
	m := NewModel("infeasible")
	x := m.AddBinary("x")
	m.AddConstraint("too_big", []Term{T(x, 1)}, GreaterEq, 2)
	m.SetObjective([]Term{T(x, 1)}, 0, false)

	sol := solve(t, m)
	assert.Equal(t, Infeasible, sol.Status)
	assert.False(t, sol.HasValues())
	assert.True(t, math.IsNaN(sol.Value(x)))
}

func TestUnconstrainedVariables(t *testing.T) {
	m := NewModel("free")
	x := m.AddContinuous("x", 1, math.Inf(1))
	m.SetObjective([]Term{T(x, 2)}, 0, false)
	sol := solve(t, m)
	require.Equal(t, Optimal, sol.Status)
	assert.InDelta(t, 2.0, sol.Objective, 1e-9)

	m.SetObjective([]Term{T(x, 2)}, 0, true)
	sol = solve(t, m)
	assert.Equal(t, Unbounded, sol.Status)
}

func TestRandomBinaryProgramsMatchEnumeration(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 0))
	const n = 6
	for trial := 0; trial < 15; trial++ {
		m := NewModel("random")
		vars := make([]Var, n)
		for j := range vars {
			vars[j] = m.AddBinary("x")
		}
		for r := 0; r < 3; r++ {
			terms := make([]Term, n)
			for j := range terms {
				terms[j] = T(vars[j], float64(rng.IntN(9)-3))
			}
			m.AddConstraint("row", terms, LessEq, float64(rng.IntN(9)))
		}
		obj := make([]Term, n)
		for j := range obj {
			obj[j] = T(vars[j], float64(rng.IntN(11)-5))
		}
		m.SetObjective(obj, 0, true)

		best := math.Inf(-1)
		x := make([]float64, n)
		for mask := 0; mask < 1<<n; mask++ {
			for j := range x {
				x[j] = float64((mask >> j) & 1)
			}
			if m.Feasible(x, 1e-9) {
				best = math.Max(best, m.Evaluate(x))
			}
		}

		sol := solve(t, m)
		if math.IsInf(best, -1) {
			assert.Equal(t, Infeasible, sol.Status)
			continue
		}
		require.Equal(t, Optimal, sol.Status, "trial %d", trial)
		assert.InDelta(t, best, sol.Objective, 1e-6, "trial %d", trial)
		assert.True(t, m.Feasible(sol.Values, 1e-6))
	}
}

func TestLimitsAndBackends(t *testing.T) {
	m := NewModel("tiny")
	x := m.AddBinary("x")
	m.SetObjective([]Term{T(x, 1)}, 0, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sol, err := NewBranchAndBound(DefaultOptions()).Solve(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, Cancelled, sol.Status)

	opts := DefaultOptions()
	opts.TimeLimit = time.Nanosecond
	time.Sleep(time.Millisecond)
	sol, err = NewBranchAndBound(opts).Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Contains(t, []Status{TimeLimit, Optimal}, sol.Status)

	none, err := New("none", DefaultOptions(), false)
	require.NoError(t, err)
	_, err = none.Solve(context.Background(), m)
	assert.ErrorIs(t, err, ErrSolverUnavailable)

	serial, err := New("bnb", DefaultOptions(), true)
	require.NoError(t, err)
	assert.Equal(t, "bnb/serialized", serial.Name())
	sol, err = serial.Solve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, Optimal, sol.Status)
	assert.Equal(t, 1.0, sol.Objective)

	_, err = New("gurobi", DefaultOptions(), false)
	assert.ErrorIs(t, err, ErrSolverUnavailable)
}
