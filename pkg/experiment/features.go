package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/embedding"
	"github.com/gilchrisn/election-map/pkg/features"
)

// DistortionFeature is computed from the embedding rather than the
// election itself.
const DistortionFeature = "distortion_from_all"

// FeatureTable maps election ids to feature results.
type FeatureTable struct {
	ID      string
	Params  election.Params
	Results map[string]features.Result
	Summary Summary
}

// ComputeFeature runs feature id on every election of a matching kind.
// Elections of the other kind are skipped. An unknown id is logged and
// yields an empty table.
func (x *Experiment) ComputeFeature(ctx context.Context, id string, params election.Params) (*FeatureTable, error) {
	if id == DistortionFeature {
		return x.ComputeDistortion(params.String("distance", ""))
	}
	start := time.Now()
	table := &FeatureTable{ID: id, Params: params, Results: make(map[string]features.Result)}
	_, kind, ok := x.features.Get(id)
	if !ok {
		x.logger.Warn().Str("feature", id).Msg("Unknown feature")
		table.Summary.Unknown = true
		return table, nil
	}

	var ids []string
	for _, eid := range x.ElectionIDs() {
		if e, _ := x.Election(eid); e.Kind() == kind {
			ids = append(ids, eid)
		}
	}
	table.Summary.Total = len(ids)
	x.logger.Info().Str("feature", id).Int("elections", len(ids)).Msg("Computing feature")

	prog := x.newProgress("feature "+id, len(ids))
	err := x.forEach(ctx, len(ids), func(ctx context.Context, task int) error {
		e, _ := x.Election(ids[task])
		res, err := x.features.Compute(ctx, x.opts.Features, id, e, params)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		x.mu.Lock()
		defer x.mu.Unlock()
		prog.step()
		switch {
		case err != nil:
			x.logger.Warn().Err(err).Str("feature", id).Str("election", e.ID()).Msg("Feature failed")
			table.Results[e.ID()] = features.Result{Status: features.StatusFailed}
			table.Summary.Failed++
			observe("feature", id, statusFailed, 0)
		case res.Status == features.StatusFailed:
			table.Results[e.ID()] = res
			table.Summary.Failed++
			observe("feature", id, statusFailed, res.Time)
		case res.Missing():
			table.Results[e.ID()] = res
			table.Summary.Missing++
			observe("feature", id, statusMissing, res.Time)
		default:
			table.Results[e.ID()] = res
			table.Summary.OK++
			observe("feature", id, statusOK, res.Time)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	table.Summary.Elapsed = time.Since(start)
	x.storeFeature(table)

	x.logger.Info().
		Str("feature", id).
		Int("ok", table.Summary.OK).
		Int("missing", table.Summary.Missing).
		Int("failed", table.Summary.Failed).
		Dur("elapsed", table.Summary.Elapsed).
		Msg("Feature computed")

	if x.opts.Export {
		if err := ExportFeature(x.exportPath("features", id), table); err != nil {
			return table, err
		}
	}
	return table, nil
}

func (x *Experiment) storeFeature(t *FeatureTable) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.Features[t.ID] = t
}

// ComputeRule computes the winning committee of rule with k seats for every
// approval election and caches it on the election, where rule-dependent
// features pick it up.
func (x *Experiment) ComputeRule(ctx context.Context, rule string, k int) (map[string][]int, Summary, error) {
	start := time.Now()
	out := make(map[string][]int)
	var sum Summary
	engine := x.opts.Features.Rules
	if engine == nil {
		x.logger.Warn().Str("rule", rule).Msg("No rule engine configured")
		return out, sum, nil
	}

	var approvals []*election.ApprovalElection
	for _, id := range x.ElectionIDs() {
		if e, _ := x.Election(id); e.Kind() == election.Approval {
			approvals = append(approvals, e.(*election.ApprovalElection))
		}
	}
	sum.Total = len(approvals)

	err := x.forEach(ctx, len(approvals), func(ctx context.Context, task int) error {
		a := approvals[task]
		began := time.Now()
		committee, err := engine.Committee(ctx, a, rule, min(k, a.NumCandidates()))
		elapsed := time.Since(began)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		if err != nil {
			x.logger.Warn().Err(err).Str("rule", rule).Str("election", a.ID()).Msg("Rule failed")
			sum.Failed++
			observe("rule", rule, statusFailed, elapsed)
			return nil
		}
		a.SetWinningCommittee(rule, committee)
		out[a.ID()] = committee
		sum.OK++
		observe("rule", rule, statusOK, elapsed)
		return nil
	})
	if err != nil {
		return nil, sum, err
	}
	sum.Elapsed = time.Since(start)
	x.logger.Info().Str("rule", rule).Int("k", k).Int("ok", sum.OK).Int("failed", sum.Failed).Msg("Committees computed")
	return out, sum, nil
}

// Embed places the elections using the table of distance id (the only
// computed table when id is empty).
func (x *Experiment) Embed(ctx context.Context, embedder embedding.Embedder, distanceID string, dim int) (*embedding.Result, error) {
	table, err := x.distanceTable(distanceID)
	if err != nil {
		return nil, err
	}
	res, err := embedder.Embed(ctx, table.Values, dim)
	if err != nil {
		return nil, fmt.Errorf("embedding of %s failed: %w", table.ID, err)
	}
	x.mu.Lock()
	x.Coordinates = res
	x.mu.Unlock()
	x.logger.Info().Str("distance", table.ID).Int("points", len(res.Coordinates)).Int("dim", dim).Msg("Embedding computed")

	if x.opts.Export {
		if err := ExportCoordinates(x.exportPath("coordinates", table.ID), res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (x *Experiment) distanceTable(id string) (*DistanceTable, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if id != "" {
		t, ok := x.Distances[id]
		if !ok {
			return nil, fmt.Errorf("distances %q have not been computed", id)
		}
		return t, nil
	}
	if len(x.Distances) == 1 {
		for _, t := range x.Distances {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%d distance tables computed, name one", len(x.Distances))
}

// ComputeDistortion measures how faithfully the embedding keeps the
// distances of each election. Both tables are scaled by their largest
// entry; the value of an election is the mean over the other elections of
// max(r, 1/r) with r the ratio of embedded to original distance. Pairs
// with a zero or unknown distance are skipped.
func (x *Experiment) ComputeDistortion(distanceID string) (*FeatureTable, error) {
	table, err := x.distanceTable(distanceID)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	coords := x.Coordinates
	x.mu.Unlock()
	if coords == nil {
		return nil, fmt.Errorf("no embedding computed")
	}

	ids := x.ElectionIDs()
	maxOrig, maxEmb := 0.0, 0.0
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			if d, ok := table.Get(a, b); ok {
				maxOrig = math.Max(maxOrig, d)
			}
			if d, ok := coords.Distance(a, b); ok {
				maxEmb = math.Max(maxEmb, d)
			}
		}
	}

	out := &FeatureTable{ID: DistortionFeature, Params: election.Params{"distance": table.ID}, Results: make(map[string]features.Result)}
	out.Summary.Total = len(ids)
	for _, a := range ids {
		var ratios []float64
		for _, b := range ids {
			if a == b {
				continue
			}
			orig, ok1 := table.Get(a, b)
			emb, ok2 := coords.Distance(a, b)
			if !ok1 || !ok2 || orig == 0 || emb == 0 || maxOrig == 0 || maxEmb == 0 {
				continue
			}
			r := (emb / maxEmb) / (orig / maxOrig)
			ratios = append(ratios, math.Max(r, 1/r))
		}
		if len(ratios) == 0 {
			out.Results[a] = features.Result{Status: features.StatusNotApplicable}
			out.Summary.Missing++
			continue
		}
		out.Results[a] = features.Scalar(stat.Mean(ratios, nil))
		out.Summary.OK++
	}
	x.storeFeature(out)

	if x.opts.Export {
		if err := ExportFeature(x.exportPath("features", DistortionFeature), out); err != nil {
			return out, err
		}
	}
	return out, nil
}
