// Package features computes scalar (and a few vector) statistics of single
// elections. Registry.Compute wraps every kernel with timing, a time limit
// and the null-result policy: not-applicable, solver-unavailable, timeout
// and solver failures come back as results without a value rather than as
// errors.
package features

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
	"github.com/gilchrisn/election-map/pkg/rules"
)

var (
	// ErrUnknownFeature is returned for ids the registry cannot resolve.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrTimeout marks kernels stopped by their time limit.
	ErrTimeout = errors.New("feature timed out")
	// ErrNotSolved marks solver runs that ended without a proven answer.
	ErrNotSolved = errors.New("feature not solved")
	// ErrNoRuleEngine is returned when a committee is needed and none is configured.
	ErrNoRuleEngine = errors.New("no voting rule engine configured")
)

// Status tells why a Result has (or lacks) a value.
type Status string

const (
	StatusOK                Status = "ok"
	StatusNotApplicable     Status = "not_applicable"
	StatusSolverUnavailable Status = "solver_unavailable"
	StatusTimeout           Status = "timeout"
	StatusFailed            Status = "failed"
)

// Result is the outcome of one feature on one election. Value is nil for
// missing results; Values carries per-level data of vector features and
// Dissat the dissatisfaction reported by committee-score features.
type Result struct {
	Value  *float64
	Values []float64
	Dissat *float64
	Time   time.Duration
	Status Status
}

// Scalar wraps a plain value.
func Scalar(v float64) Result {
	return Result{Value: &v, Status: StatusOK}
}

// Missing reports whether the result carries no value.
func (r Result) Missing() bool { return r.Value == nil }

// Env holds the collaborators and limits shared by every kernel.
type Env struct {
	Solver milp.Solver
	Rules  rules.Engine
	Logger zerolog.Logger
	// TimeLimit applies when params carry no time_limit (0 = none).
	TimeLimit time.Duration
	// BruteForceLimit caps permutation and committee enumeration (0 = none).
	BruteForceLimit     int
	KemenyNeighbourhood int
	KemenyMaxIterations int
}

// DefaultEnv returns an environment with the branch-and-bound solver and the
// built-in rule engine.
func DefaultEnv() *Env {
	solver := milp.NewBranchAndBound(milp.DefaultOptions())
	return &Env{
		Solver:              solver,
		Rules:               rules.NewBuiltin(solver, zerolog.Nop()),
		Logger:              zerolog.Nop(),
		BruteForceLimit:     40320,
		KemenyNeighbourhood: 1,
		KemenyMaxIterations: 100,
	}
}

// Func computes one feature.
type Func func(ctx context.Context, env *Env, e election.Election, p election.Params) (Result, error)

type entry struct {
	fn   Func
	kind election.Kind
}

// Registry manages available features.
type Registry struct {
	entries map[string]entry
}

// NewRegistry creates a registry holding every built-in feature.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}
	registerOrdinal(r)
	registerKemeny(r)
	registerCommitteeScores(r)
	registerApproval(r)
	registerCohesive(r)
	registerStability(r)
	return r
}

// Register adds or replaces a feature.
func (r *Registry) Register(id string, kind election.Kind, fn Func) {
	r.entries[id] = entry{fn: fn, kind: kind}
}

// Get retrieves a feature by id.
func (r *Registry) Get(id string) (Func, election.Kind, bool) {
	e, ok := r.entries[id]
	return e.fn, e.kind, ok
}

// List returns the ids registered for kind, sorted.
func (r *Registry) List(kind election.Kind) []string {
	var ids []string
	for id, e := range r.entries {
		if e.kind == kind {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Compute runs feature id on e. Only unknown ids and bad input are returned
// as errors; every other failure is logged and reported through Status.
func (r *Registry) Compute(ctx context.Context, env *Env, id string, e election.Election, p election.Params) (Result, error) {
	ent, ok := r.entries[id]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFeature, id)
	}
	if e.Kind() != ent.kind {
		return Result{}, fmt.Errorf("%w: feature %s needs %s elections, got %s", election.ErrBadInput, id, ent.kind, e.Kind())
	}
	if env == nil {
		env = DefaultEnv()
	}
	if p == nil {
		p = election.Params{}
	}

	if limit := p.Duration("time_limit", env.TimeLimit); limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	start := time.Now()
	res, err := Result{}, expired(ctx)
	if err == nil {
		res, err = ent.fn(ctx, env, e, p)
	}
	elapsed := time.Since(start)
	if err == nil {
		res.Time = elapsed
		if res.Status == "" {
			res.Status = StatusOK
		}
		return res, nil
	}

	out := Result{Time: elapsed}
	log := env.Logger.With().Str("feature", id).Str("election", e.ID()).Dur("elapsed", elapsed).Logger()
	switch {
	case errors.Is(err, election.ErrBadInput):
		return Result{}, err
	case errors.Is(err, election.ErrNotApplicable):
		out.Status = StatusNotApplicable
	case errors.Is(err, milp.ErrSolverUnavailable), errors.Is(err, ErrNoRuleEngine):
		log.Warn().Err(err).Msg("Feature needs an unavailable backend")
		out.Status = StatusSolverUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Warn().Err(err).Msg("Feature timed out")
		out.Status = StatusTimeout
	default:
		log.Warn().Err(err).Msg("Feature failed")
		out.Status = StatusFailed
	}
	return out, nil
}

// expired reports a deadline that passed before its timer fired.
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// solve runs a fresh model and maps solver outcomes to feature errors.
// Infeasible models are returned with their solution, not as an error.
func solve(ctx context.Context, env *Env, model *milp.Model) (*milp.Solution, error) {
	if env.Solver == nil {
		return nil, fmt.Errorf("%w: no solver configured for %s", milp.ErrSolverUnavailable, model.Name)
	}
	sol, err := env.Solver.Solve(ctx, model)
	if err != nil {
		return nil, err
	}
	switch sol.Status {
	case milp.Optimal, milp.Infeasible:
		return sol, nil
	case milp.TimeLimit, milp.Cancelled:
		return nil, fmt.Errorf("%w: %s stopped with status %s", ErrTimeout, model.Name, sol.Status)
	default:
		return nil, fmt.Errorf("%w: %s ended with status %s", ErrNotSolved, model.Name, sol.Status)
	}
}

func ordinalOf(e election.Election) (*election.OrdinalElection, error) {
	o, ok := e.(*election.OrdinalElection)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an ordinal election", election.ErrBadInput, e.ID())
	}
	return o, nil
}

// withVotes returns the ordinal election when it carries real ballots.
func withVotes(e election.Election) (*election.OrdinalElection, error) {
	o, err := ordinalOf(e)
	if err != nil {
		return nil, err
	}
	if err := election.RequireVotes(o); err != nil {
		return nil, err
	}
	return o, nil
}

func approvalOf(e election.Election) (*election.ApprovalElection, error) {
	a, ok := e.(*election.ApprovalElection)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an approval election", election.ErrBadInput, e.ID())
	}
	return a, nil
}

// enumerationAllowed checks an evaluation count against the brute-force limit.
func enumerationAllowed(env *Env, count float64, what string) error {
	if env.BruteForceLimit > 0 && count > float64(env.BruteForceLimit) {
		return fmt.Errorf("%w: %s needs %.0f evaluations, limit %d", assignment.ErrTooLarge, what, count, env.BruteForceLimit)
	}
	return nil
}
