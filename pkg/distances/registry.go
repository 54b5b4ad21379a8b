// Package distances implements isomorphic election-to-election distances
// and a registry resolving (possibly compound) distance ids such as
// "emd-positionwise" to a kernel and an inner vector metric.
package distances

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/milp"
)

// ErrUnknownDistance is returned for ids the registry cannot resolve.
var ErrUnknownDistance = errors.New("unknown distance")

// Func computes a distance and, when the kernel has one, the matching of the
// common side (nil otherwise).
type Func func(ctx context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error)

// Options carries the knobs shared by every kernel.
type Options struct {
	Logger zerolog.Logger
	// Canonical selects the lexicographically smallest optimal matching.
	Canonical bool
	// BruteForceLimit caps permutation enumeration (0 = none).
	BruteForceLimit int
	BAPMethod       assignment.BAPMethod
	BAPRestarts     int
	// Rand seeds randomised heuristics; nil means deterministic starts.
	Rand *rand.Rand
	// Solver backs the discrete distance; nil or unavailable falls back to enumeration.
	Solver milp.Solver
	// VoteMetric is used by voterlikeness distances.
	VoteMetric election.VoteMetric
	// TimeLimit bounds a single Compute call (0 = none).
	TimeLimit time.Duration
}

// DefaultOptions returns options with a no-op logger and exact methods.
func DefaultOptions() *Options {
	return &Options{
		Logger:          zerolog.Nop(),
		BruteForceLimit: 40320,
		BAPMethod:       assignment.BranchAndBound,
		BAPRestarts:     1,
		Solver:          milp.NewBranchAndBound(milp.DefaultOptions()),
		VoteMetric:      election.SwapMetric,
	}
}

type entry struct {
	fn           Func
	defaultInner string
	kind         election.Kind
}

// Registry manages available distances.
type Registry struct {
	entries  map[string]entry
	swapWarn sync.Once
}

// NewRegistry creates a registry holding every built-in distance.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]entry)}

	r.Register("positionwise", election.Ordinal, "emd", Positionwise)
	r.Register("positionwise_infinity", election.Ordinal, "emd", PositionwiseInfinity)
	r.Register("bordawise", election.Ordinal, "emd", Bordawise)
	r.Register("pairwise", election.Ordinal, "l1", Pairwise)
	r.Register("voterlikeness", election.Ordinal, "l1", Voterlikeness)
	r.Register("agg_voterlikeness", election.Ordinal, "l1", AggregatedVoterlikeness)
	r.Register("swap", election.Ordinal, "", r.swap)
	r.Register("swap_bf", election.Ordinal, "", Swap)
	r.Register("spearman", election.Ordinal, "", Spearman)
	r.Register("spearman_bf", election.Ordinal, "", spearmanWith(assignment.BruteForce))
	r.Register("spearman_aa", election.Ordinal, "", spearmanWith(assignment.Alternating))
	r.Register("spearman_bb", election.Ordinal, "", spearmanWith(assignment.BranchAndBound))
	r.Register("discrete", election.Ordinal, "", Discrete)

	r.Register("approvalwise", election.Approval, "l1", Approvalwise)
	r.Register("hamming", election.Approval, "", Hamming)
	r.Register("jaccard", election.Approval, "", Jaccard)
	r.Register("candidatelikeness", election.Approval, "l1", Candidatelikeness)
	return r
}

// Register adds or replaces a distance. defaultInner is used when the id is
// not compound; an empty default means the kernel ignores the inner metric.
func (r *Registry) Register(id string, kind election.Kind, defaultInner string, fn Func) {
	r.entries[id] = entry{fn: fn, defaultInner: defaultInner, kind: kind}
}

// Get retrieves a kernel by its main id.
func (r *Registry) Get(id string) (Func, bool) {
	e, ok := r.entries[id]
	return e.fn, ok
}

// List returns all registered main ids, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve splits a compound id "<inner>-<main>" on the first dash. Plain
// ids get the kernel's default inner metric (L1 when it has none).
func (r *Registry) Resolve(id string) (Func, InnerDistance, election.Kind, error) {
	if e, ok := r.entries[id]; ok {
		inner := L1
		if e.defaultInner != "" {
			inner, _ = Inner(e.defaultInner)
		}
		return e.fn, inner, e.kind, nil
	}
	if i := strings.Index(id, "-"); i > 0 {
		innerName, main := id[:i], id[i+1:]
		inner, okInner := Inner(innerName)
		e, okMain := r.entries[main]
		if okInner && okMain {
			return e.fn, inner, e.kind, nil
		}
	}
	return nil, InnerDistance{}, 0, fmt.Errorf("%w: %q", ErrUnknownDistance, id)
}

// Compute resolves id and runs the kernel on e1 and e2.
func (r *Registry) Compute(ctx context.Context, id string, e1, e2 election.Election, opts *Options) (float64, []int, error) {
	fn, inner, kind, err := r.Resolve(id)
	if err != nil {
		return 0, nil, err
	}
	if err := election.SameKind(e1, e2); err != nil {
		return 0, nil, err
	}
	if e1.Kind() != kind {
		return 0, nil, fmt.Errorf("%w: distance %s needs %s elections, got %s", election.ErrBadInput, id, kind, e1.Kind())
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}
	if err := expired(ctx); err != nil {
		return 0, nil, err
	}
	return fn(ctx, e1, e2, inner, opts)
}

// swap is the plain swap id. There is no fast backend for it, so it runs the
// same enumeration as swap_bf and says so once per registry.
func (r *Registry) swap(ctx context.Context, e1, e2 election.Election, inner InnerDistance, opts *Options) (float64, []int, error) {
	r.swapWarn.Do(func() {
		opts.Logger.Warn().Str("distance", "swap").Msg("No fast swap backend; using brute-force enumeration")
	})
	return Swap(ctx, e1, e2, inner, opts)
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

// lap dispatches to the canonical or plain LAP solver.
func lap(cost [][]float64, opts *Options) (float64, []int, error) {
	if opts.Canonical {
		return assignment.SolveCanonical(cost)
	}
	return assignment.Solve(cost)
}

func ordinalPair(e1, e2 election.Election) (*election.OrdinalElection, *election.OrdinalElection, error) {
	o1, ok1 := e1.(*election.OrdinalElection)
	o2, ok2 := e2.(*election.OrdinalElection)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("%w: ordinal distance on %s and %s", election.ErrBadInput, e1.Kind(), e2.Kind())
	}
	return o1, o2, nil
}

func approvalPair(e1, e2 election.Election) (*election.ApprovalElection, *election.ApprovalElection, error) {
	a1, ok1 := e1.(*election.ApprovalElection)
	a2, ok2 := e2.(*election.ApprovalElection)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("%w: approval distance on %s and %s", election.ErrBadInput, e1.Kind(), e2.Kind())
	}
	return a1, a2, nil
}

func sameCandidates(e1, e2 election.Election) error {
	if e1.NumCandidates() != e2.NumCandidates() {
		return fmt.Errorf("%w: elections %s and %s have %d and %d candidates",
			election.ErrBadInput, e1.ID(), e2.ID(), e1.NumCandidates(), e2.NumCandidates())
	}
	return nil
}

func sameVoters(e1, e2 election.Election) error {
	if e1.NumVoters() != e2.NumVoters() {
		return fmt.Errorf("%w: elections %s and %s have %d and %d voters",
			election.ErrBadInput, e1.ID(), e2.ID(), e1.NumVoters(), e2.NumVoters())
	}
	return nil
}

func requireVotes(e1, e2 election.Election) error {
	if err := election.RequireVotes(e1); err != nil {
		return err
	}
	return election.RequireVotes(e2)
}
