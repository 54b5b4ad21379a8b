package experiment

import (
	"context"
	"errors"
	"time"

	"github.com/gilchrisn/election-map/pkg/assignment"
	"github.com/gilchrisn/election-map/pkg/distances"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/embedding"
	"github.com/gilchrisn/election-map/pkg/milp"
)

// Summary counts the outcomes of a bulk computation.
type Summary struct {
	Total   int           `json:"total"`
	OK      int           `json:"ok"`
	Missing int           `json:"missing"`
	Failed  int           `json:"failed"`
	Unknown bool          `json:"unknown,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// DistanceTable is a symmetric table with a zero diagonal. Pairs whose
// kernel returned no value are absent.
type DistanceTable struct {
	ID        string
	Values    embedding.Table
	Times     map[string]map[string]time.Duration
	Matchings map[string]map[string][]int
	Summary   Summary
}

// Get returns the distance between a and b.
func (t *DistanceTable) Get(a, b string) (float64, bool) {
	return t.Values.Lookup(a, b)
}

func newDistanceTable(id string, ids []string) *DistanceTable {
	t := &DistanceTable{
		ID:        id,
		Values:    make(embedding.Table, len(ids)),
		Times:     make(map[string]map[string]time.Duration, len(ids)),
		Matchings: make(map[string]map[string][]int, len(ids)),
	}
	for _, a := range ids {
		t.Values[a] = map[string]float64{a: 0}
		t.Times[a] = make(map[string]time.Duration)
		t.Matchings[a] = make(map[string][]int)
	}
	return t
}

// missingErr reports errors that mean "no value" rather than failure.
func missingErr(err error) bool {
	return errors.Is(err, election.ErrNotApplicable) ||
		errors.Is(err, milp.ErrSolverUnavailable) ||
		errors.Is(err, milp.ErrNumerical) ||
		errors.Is(err, assignment.ErrTooLarge) ||
		errors.Is(err, distances.ErrNotSolved) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ComputeDistances runs distance id over every unordered pair of elections
// in lexicographic id order. An unknown id is logged and yields an empty
// table. Only cancellation of ctx is returned as an error.
func (x *Experiment) ComputeDistances(ctx context.Context, id string) (*DistanceTable, error) {
	start := time.Now()
	ids := x.ElectionIDs()
	table := newDistanceTable(id, ids)
	if _, _, _, err := x.distances.Resolve(id); err != nil {
		x.logger.Warn().Err(err).Str("distance", id).Msg("Unknown distance")
		table.Summary.Unknown = true
		return table, nil
	}

	type pair struct{ a, b string }
	pairs := make([]pair, 0, len(ids)*(len(ids)-1)/2)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			pairs = append(pairs, pair{ids[i], ids[j]})
		}
	}
	table.Summary.Total = len(pairs)
	x.logger.Info().Str("distance", id).Int("pairs", len(pairs)).Int("workers", x.opts.NumWorkers).Msg("Computing distances")

	prog := x.newProgress("distances "+id, len(pairs))
	err := x.forEach(ctx, len(pairs), func(ctx context.Context, task int) error {
		p := pairs[task]
		e1, _ := x.Election(p.a)
		e2, _ := x.Election(p.b)
		opts := *x.opts.Distances
		opts.Rand = taskRand(x.opts.Seed, uint64(task))

		began := time.Now()
		value, match, err := x.distances.Compute(ctx, id, e1, e2, &opts)
		elapsed := time.Since(began)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		x.mu.Lock()
		defer x.mu.Unlock()
		prog.step()
		table.Times[p.a][p.b] = elapsed
		table.Times[p.b][p.a] = elapsed
		switch {
		case err == nil:
			table.Values[p.a][p.b] = value
			table.Values[p.b][p.a] = value
			table.Matchings[p.a][p.b] = match
			table.Summary.OK++
			observe("distance", id, statusOK, elapsed)
		case missingErr(err):
			x.logger.Warn().Err(err).Str("distance", id).Str("e1", p.a).Str("e2", p.b).Msg("Distance has no value")
			table.Summary.Missing++
			observe("distance", id, statusMissing, elapsed)
		default:
			x.logger.Warn().Err(err).Str("distance", id).Str("e1", p.a).Str("e2", p.b).Msg("Distance failed")
			table.Summary.Failed++
			observe("distance", id, statusFailed, elapsed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	table.Summary.Elapsed = time.Since(start)

	x.mu.Lock()
	x.Distances[id] = table
	x.mu.Unlock()

	x.logger.Info().
		Str("distance", id).
		Int("ok", table.Summary.OK).
		Int("missing", table.Summary.Missing).
		Int("failed", table.Summary.Failed).
		Dur("elapsed", table.Summary.Elapsed).
		Msg("Distances computed")

	if x.opts.Export {
		if err := ExportDistances(x.exportPath("distances", id), table); err != nil {
			return table, err
		}
	}
	return table, nil
}
