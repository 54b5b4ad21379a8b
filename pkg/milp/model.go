// Package milp is the mixed-integer programming surface used by ILP-backed
// distances and features. Models are plain data: variables with bounds,
// linear and indicator constraints and a linear objective. A Solver turns a
// Model into a Solution; every call builds a fresh model.
package milp

import (
	"fmt"
	"math"
)

// VarType is the domain of a variable.
type VarType int

const (
	Continuous VarType = iota
	Integer
	Binary
)

// Sense is the relation of a linear constraint.
type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	default:
		return "=="
	}
}

// Var is a handle to a model variable.
type Var int

// Term is coefficient * variable.
type Term struct {
	Var  Var
	Coef float64
}

// T is shorthand for building a Term.
func T(v Var, coef float64) Term { return Term{Var: v, Coef: coef} }

type variable struct {
	name   string
	typ    VarType
	lo, hi float64
}

type constraint struct {
	name  string
	terms []Term
	sense Sense
	rhs   float64
}

// Model is a MILP in natural form.
type Model struct {
	Name string

	vars      []variable
	cons      []constraint
	objective []Term
	objConst  float64
	maximize  bool
}

// NewModel returns an empty minimisation model.
func NewModel(name string) *Model {
	return &Model{Name: name}
}

// AddVar adds a variable with bounds [lo, hi]. lo must be finite; hi may be +Inf.
func (m *Model) AddVar(name string, typ VarType, lo, hi float64) Var {
	if typ == Binary {
		lo, hi = math.Max(lo, 0), math.Min(hi, 1)
	}
	m.vars = append(m.vars, variable{name: name, typ: typ, lo: lo, hi: hi})
	return Var(len(m.vars) - 1)
}

// AddBinary adds a 0/1 variable.
func (m *Model) AddBinary(name string) Var { return m.AddVar(name, Binary, 0, 1) }

// AddInteger adds an integer variable.
func (m *Model) AddInteger(name string, lo, hi float64) Var {
	return m.AddVar(name, Integer, lo, hi)
}

// AddContinuous adds a continuous variable.
func (m *Model) AddContinuous(name string, lo, hi float64) Var {
	return m.AddVar(name, Continuous, lo, hi)
}

// AddConstraint adds sum(terms) sense rhs.
func (m *Model) AddConstraint(name string, terms []Term, sense Sense, rhs float64) {
	m.cons = append(m.cons, constraint{name: name, terms: terms, sense: sense, rhs: rhs})
}

// AddIndicator adds "ind == active implies sum(terms) sense rhs" as big-M
// rows whose M is derived from the variable bounds. ind must be binary and
// every variable in terms must have finite bounds.
func (m *Model) AddIndicator(name string, ind Var, active bool, terms []Term, sense Sense, rhs float64) error {
	if int(ind) >= len(m.vars) || m.vars[ind].typ != Binary {
		return fmt.Errorf("indicator %s: variable %d is not binary", name, ind)
	}
	lo, hi, err := m.exprRange(terms)
	if err != nil {
		return fmt.Errorf("indicator %s: %w", name, err)
	}
	// slack(z) = 1-z when active, z otherwise
	slack := func(coef float64) []Term {
		if active {
			return []Term{{Var: ind, Coef: -coef}}
		}
		return []Term{{Var: ind, Coef: coef}}
	}
	offset := func(coef float64) float64 {
		if active {
			return coef
		}
		return 0
	}

	if sense == LessEq || sense == Equal {
		// sum <= rhs + M*slack,  M = hi - rhs
		bigM := math.Max(hi-rhs, 0)
		row := append(append([]Term(nil), terms...), negate(slack(bigM))...)
		m.AddConstraint(name+"_le", row, LessEq, rhs+offset(bigM))
	}
	if sense == GreaterEq || sense == Equal {
		// sum >= rhs - M*slack,  M = rhs - lo
		bigM := math.Max(rhs-lo, 0)
		row := append(append([]Term(nil), terms...), slack(bigM)...)
		m.AddConstraint(name+"_ge", row, GreaterEq, rhs-offset(bigM))
	}
	return nil
}

// SetObjective sets the linear objective; maximize flips the direction.
func (m *Model) SetObjective(terms []Term, constant float64, maximize bool) {
	m.objective = terms
	m.objConst = constant
	m.maximize = maximize
}

// NumVars returns the number of variables.
func (m *Model) NumVars() int { return len(m.vars) }

// NumConstraints returns the number of linear rows (indicators expanded).
func (m *Model) NumConstraints() int { return len(m.cons) }

// Evaluate returns the objective value at x.
func (m *Model) Evaluate(x []float64) float64 {
	s := m.objConst
	for _, t := range m.objective {
		s += t.Coef * x[t.Var]
	}
	return s
}

// Feasible reports whether x satisfies bounds, integrality and constraints within tol.
func (m *Model) Feasible(x []float64, tol float64) bool {
	if len(x) != len(m.vars) {
		return false
	}
	for j, v := range m.vars {
		if x[j] < v.lo-tol || x[j] > v.hi+tol {
			return false
		}
		if v.typ != Continuous && math.Abs(x[j]-math.Round(x[j])) > tol {
			return false
		}
	}
	for _, c := range m.cons {
		s := 0.0
		for _, t := range c.terms {
			s += t.Coef * x[t.Var]
		}
		switch c.sense {
		case LessEq:
			if s > c.rhs+tol {
				return false
			}
		case GreaterEq:
			if s < c.rhs-tol {
				return false
			}
		case Equal:
			if math.Abs(s-c.rhs) > tol {
				return false
			}
		}
	}
	return true
}

func (m *Model) validate() error {
	for j, v := range m.vars {
		if math.IsInf(v.lo, 0) || math.IsNaN(v.lo) {
			return fmt.Errorf("model %s: variable %s has non-finite lower bound", m.Name, v.name)
		}
		if v.hi < v.lo {
			return fmt.Errorf("model %s: variable %s (%d) has empty domain [%v, %v]", m.Name, v.name, j, v.lo, v.hi)
		}
	}
	check := func(where string, terms []Term) error {
		for _, t := range terms {
			if int(t.Var) < 0 || int(t.Var) >= len(m.vars) {
				return fmt.Errorf("model %s: %s references unknown variable %d", m.Name, where, t.Var)
			}
		}
		return nil
	}
	for _, c := range m.cons {
		if err := check("constraint "+c.name, c.terms); err != nil {
			return err
		}
	}
	return check("objective", m.objective)
}

func (m *Model) exprRange(terms []Term) (float64, float64, error) {
	lo, hi := 0.0, 0.0
	for _, t := range terms {
		if int(t.Var) >= len(m.vars) {
			return 0, 0, fmt.Errorf("unknown variable %d", t.Var)
		}
		v := m.vars[t.Var]
		if math.IsInf(v.hi, 0) || math.IsInf(v.lo, 0) {
			return 0, 0, fmt.Errorf("variable %s is unbounded", v.name)
		}
		a, b := t.Coef*v.lo, t.Coef*v.hi
		lo += math.Min(a, b)
		hi += math.Max(a, b)
	}
	return lo, hi, nil
}

func negate(terms []Term) []Term {
	out := make([]Term, len(terms))
	for i, t := range terms {
		out[i] = Term{Var: t.Var, Coef: -t.Coef}
	}
	return out
}
