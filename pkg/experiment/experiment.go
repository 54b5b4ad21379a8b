// Package experiment builds a map of elections: it samples families of
// elections, computes pairwise distances and per-election features on a
// worker pool, embeds the distance table and exports the results.
// Bulk operations never abort on a single failing kernel; failures are
// logged and counted in the returned summaries.
package experiment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gilchrisn/election-map/pkg/cultures"
	"github.com/gilchrisn/election-map/pkg/distances"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/electionio"
	"github.com/gilchrisn/election-map/pkg/embedding"
	"github.com/gilchrisn/election-map/pkg/features"
)

// Experiment owns the elections of one map together with everything
// computed on them.
type Experiment struct {
	ID    string
	RunID string

	opts      Options
	logger    zerolog.Logger
	cultures  *cultures.Registry
	distances *distances.Registry
	features  *features.Registry

	mu        sync.Mutex
	elections map[string]election.Election
	families  map[string]*Family
	order     []string // family ids in insertion order
	sampled   int      // elections sampled so far, drives seeds

	Distances   map[string]*DistanceTable
	Features    map[string]*FeatureTable
	Coordinates *embedding.Result
}

// New creates an empty experiment.
func New(id string, opts Options) *Experiment {
	if opts.Distances == nil {
		opts.Distances = distances.DefaultOptions()
	}
	if opts.Features == nil {
		opts.Features = features.DefaultEnv()
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	runID := uuid.NewString()
	return &Experiment{
		ID:        id,
		RunID:     runID,
		opts:      opts,
		logger:    opts.Logger.With().Str("experiment", id).Str("run_id", runID).Logger(),
		cultures:  cultures.NewRegistry(),
		distances: distances.NewRegistry(),
		features:  features.NewRegistry(),
		elections: make(map[string]election.Election),
		families:  make(map[string]*Family),
		Distances: make(map[string]*DistanceTable),
		Features:  make(map[string]*FeatureTable),
	}
}

// Cultures exposes the culture registry for custom registrations.
func (x *Experiment) Cultures() *cultures.Registry { return x.cultures }

// DistanceRegistry exposes the distance registry for custom registrations.
func (x *Experiment) DistanceRegistry() *distances.Registry { return x.distances }

// FeatureRegistry exposes the feature registry for custom registrations.
func (x *Experiment) FeatureRegistry() *features.Registry { return x.features }

// AddElection adds an already built election.
func (x *Experiment) AddElection(e election.Election) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.elections[e.ID()]; ok {
		return fmt.Errorf("%w: duplicate election id %q", election.ErrBadInput, e.ID())
	}
	x.elections[e.ID()] = e
	return nil
}

// AddFamily samples the elections of f in parallel and adds them. Each
// election draws from its own generator seeded from the master seed and
// its global sampling index, so results do not depend on scheduling.
func (x *Experiment) AddFamily(ctx context.Context, f Family) (*Family, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if f.Kind != election.Approval {
		f.Kind = x.opts.Kind
	}
	x.mu.Lock()
	if _, ok := x.families[f.ID]; ok {
		x.mu.Unlock()
		return nil, fmt.Errorf("%w: duplicate family id %q", election.ErrBadInput, f.ID)
	}
	base := x.sampled
	x.sampled += f.Size
	x.mu.Unlock()

	start := time.Now()
	f.ElectionIDs = make([]string, f.Size)
	sampled := make([]election.Election, f.Size)
	err := x.forEach(ctx, f.Size, func(ctx context.Context, j int) error {
		rng := taskRand(x.opts.Seed, uint64(base+j))
		e, err := x.cultures.Generate(rng, f.electionID(j), f.CultureID, f.Kind, f.NumVoters, f.NumCandidates, f.paramsFor(j))
		if err != nil {
			return fmt.Errorf("family %s: %w", f.ID, err)
		}
		sampled[j] = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for j, e := range sampled {
		if _, ok := x.elections[e.ID()]; ok {
			return nil, fmt.Errorf("%w: duplicate election id %q", election.ErrBadInput, e.ID())
		}
		f.ElectionIDs[j] = e.ID()
	}
	for _, e := range sampled {
		x.elections[e.ID()] = e
	}
	fam := f
	x.families[f.ID] = &fam
	x.order = append(x.order, f.ID)

	x.logger.Info().
		Str("family", f.ID).
		Str("culture", f.CultureID).
		Int("size", f.Size).
		Dur("elapsed", time.Since(start)).
		Msg("Family sampled")
	return &fam, nil
}

// Election returns the election with the given id.
func (x *Experiment) Election(id string) (election.Election, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.elections[id]
	return e, ok
}

// ElectionIDs returns all election ids in lexicographic order.
func (x *Experiment) ElectionIDs() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]string, 0, len(x.elections))
	for id := range x.elections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Families returns the families in insertion order.
func (x *Experiment) Families() []*Family {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]*Family, len(x.order))
	for i, id := range x.order {
		out[i] = x.families[id]
	}
	return out
}

// ExportElections writes every election under OutputDir/<id>/elections.
func (x *Experiment) ExportElections() error {
	for _, id := range x.ElectionIDs() {
		e, _ := x.Election(id)
		ext := ".soc"
		if e.Kind() == election.Approval {
			ext = ".app"
		}
		path := filepath.Join(x.dir("elections"), id+ext)
		if err := electionio.Export(path, e, electionio.Options{Aggregated: x.opts.Aggregated}); err != nil {
			return fmt.Errorf("failed to export election %s: %w", id, err)
		}
	}
	x.logger.Info().Int("elections", len(x.elections)).Str("dir", x.dir("elections")).Msg("Elections exported")
	return nil
}

func (x *Experiment) dir(kind string) string {
	return filepath.Join(x.opts.OutputDir, x.ID, kind)
}

// taskRand returns the generator of one task.
func taskRand(seed int64, task uint64) *rand.Rand {
	s := splitmix64(uint64(seed) ^ splitmix64(task))
	return rand.New(rand.NewPCG(s, splitmix64(s)))
}

// splitmix64 is the SplitMix64 finaliser.
func splitmix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
