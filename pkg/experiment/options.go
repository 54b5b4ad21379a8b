package experiment

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/config"
	"github.com/gilchrisn/election-map/pkg/distances"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/features"
	"github.com/gilchrisn/election-map/pkg/milp"
	"github.com/gilchrisn/election-map/pkg/rules"
)

// Options configures an experiment run.
type Options struct {
	// Kind is the default election kind of families.
	Kind       election.Kind
	Seed       int64
	NumWorkers int
	OutputDir  string
	// Export writes elections and computed tables under OutputDir.
	Export bool
	// Aggregated selects the aggregated vote format for exported elections.
	Aggregated bool
	// EnableProgress logs completed/total tasks every ProgressInterval.
	EnableProgress   bool
	ProgressInterval time.Duration

	Distances *distances.Options
	Features  *features.Env
	Logger    zerolog.Logger
}

// DefaultOptions returns ordinal-experiment options with the built-in
// solver and rule engine.
func DefaultOptions() Options {
	return Options{
		Kind:       election.Ordinal,
		Seed:       42,
		NumWorkers: 1,
		OutputDir:  "experiments",

		EnableProgress:   true,
		ProgressInterval: time.Second,

		Distances: distances.DefaultOptions(),
		Features:  features.DefaultEnv(),
		Logger:    zerolog.Nop(),
	}
}

// OptionsFromConfig builds options from the configuration. The solver is
// shared by distances, features and the rule engine.
func OptionsFromConfig(cfg *config.Config, logger zerolog.Logger) (Options, error) {
	solver, err := milp.New(cfg.SolverBackend(), milp.Options{
		Tolerance: cfg.SolverTolerance(),
		TimeLimit: cfg.SolverTimeLimit(),
		NodeLimit: cfg.SolverNodeLimit(),
		Logger:    logger.With().Str("component", "milp").Logger(),
	}, cfg.SolverSerialize())
	if err != nil {
		return Options{}, fmt.Errorf("failed to create solver: %w", err)
	}

	method := assignment.BAPMethod(cfg.BAPMethod())
	switch method {
	case assignment.BruteForce, assignment.Alternating, assignment.BranchAndBound:
	default:
		return Options{}, fmt.Errorf("%w: unknown BAP method %q", election.ErrBadInput, method)
	}

	dist := &distances.Options{
		Logger:          logger.With().Str("component", "distances").Logger(),
		Canonical:       cfg.CanonicalMatchings(),
		BruteForceLimit: cfg.BruteForceLimit(),
		BAPMethod:       method,
		BAPRestarts:     cfg.BAPRestarts(),
		Solver:          solver,
		VoteMetric:      election.SwapMetric,
		TimeLimit:       cfg.DistanceTimeLimit(),
	}
	env := &features.Env{
		Solver:              solver,
		Rules:               rules.NewBuiltin(solver, logger.With().Str("component", "rules").Logger()),
		Logger:              logger.With().Str("component", "features").Logger(),
		TimeLimit:           cfg.FeatureTimeLimit(),
		BruteForceLimit:     cfg.BruteForceLimit(),
		KemenyNeighbourhood: cfg.KemenyNeighbourhood(),
		KemenyMaxIterations: cfg.KemenyMaxIterations(),
	}

	kind := election.Ordinal
	switch cfg.Kind() {
	case "ordinal", "":
	case "approval":
		kind = election.Approval
	default:
		return Options{}, fmt.Errorf("%w: unknown election kind %q", election.ErrBadInput, cfg.Kind())
	}

	return Options{
		Kind:       kind,
		Seed:       cfg.Seed(),
		NumWorkers: cfg.NumWorkers(),
		OutputDir:  cfg.OutputDir(),
		Export:     cfg.Export(),
		Aggregated: cfg.Aggregated(),

		EnableProgress:   cfg.EnableProgress(),
		ProgressInterval: time.Duration(cfg.ProgressIntervalMS()) * time.Millisecond,

		Distances: dist,
		Features:  env,
		Logger:    logger,
	}, nil
}
