package milp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrSolverUnavailable is returned by a backend that cannot solve anything.
	ErrSolverUnavailable = errors.New("milp solver unavailable")
	// ErrNumerical marks LP failures other than infeasibility or unboundedness.
	ErrNumerical = errors.New("milp numerical failure")
)

// Status is the outcome of a solve.
type Status int

const (
	Optimal Status = iota
	Infeasible
	Unbounded
	TimeLimit
	NodeLimit
	Numerical
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case TimeLimit:
		return "time_limit"
	case NodeLimit:
		return "node_limit"
	case Numerical:
		return "numerical"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Options is the solver configuration shared by every ILP-backed kernel so
// that all of them use identical tolerances.
type Options struct {
	// Tolerance is used for optimality, feasibility and integrality.
	Tolerance float64
	// TimeLimit bounds a single solve (0 = none).
	TimeLimit time.Duration
	// NodeLimit bounds the branch-and-bound tree (0 = none).
	NodeLimit int
	Logger    zerolog.Logger
}

// DefaultOptions returns Tolerance 1e-8, no limits and a no-op logger.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-8, Logger: zerolog.Nop()}
}

// Solution is the result of a solve. Values is set for Optimal and, when an
// incumbent was found, for TimeLimit / NodeLimit / Cancelled.
type Solution struct {
	Status    Status
	Objective float64
	Values    []float64
	Nodes     int
	Elapsed   time.Duration
}

// HasValues reports whether the solution carries a feasible point.
func (s *Solution) HasValues() bool { return s != nil && s.Values != nil }

// Value returns the value of v, or NaN without a feasible point.
func (s *Solution) Value(v Var) float64 {
	if !s.HasValues() {
		return math.NaN()
	}
	return s.Values[v]
}

// Solver solves a model. Implementations must not keep state between calls.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m *Model) (*Solution, error)
}

// New returns the backend named by name: "bnb" (default) or "none". With
// serialize set, calls are funnelled through one mutex.
func New(name string, opts Options, serialize bool) (Solver, error) {
	var s Solver
	switch name {
	case "bnb", "":
		s = NewBranchAndBound(opts)
	case "none":
		s = Unavailable{}
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrSolverUnavailable, name)
	}
	if serialize {
		s = NewSerialized(s)
	}
	return s, nil
}

// Unavailable is the backend used when no solver is configured.
type Unavailable struct{}

func (Unavailable) Name() string { return "none" }

func (Unavailable) Solve(context.Context, *Model) (*Solution, error) {
	return nil, ErrSolverUnavailable
}

// Serialized funnels every call of the wrapped solver through a mutex.
type Serialized struct {
	mu    sync.Mutex
	inner Solver
}

// NewSerialized wraps inner.
func NewSerialized(inner Solver) *Serialized {
	return &Serialized{inner: inner}
}

func (s *Serialized) Name() string { return s.inner.Name() + "/serialized" }

func (s *Serialized) Solve(ctx context.Context, m *Model) (*Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Solve(ctx, m)
}
