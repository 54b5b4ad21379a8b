package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gilchrisn/election-map/pkg/config"
	"github.com/gilchrisn/election-map/pkg/embedding"
	"github.com/gilchrisn/election-map/pkg/experiment"
)

var (
	manifestPath    string
	experimentID    string
	distanceIDs     []string
	featureIDs      []string
	ruleName        string
	committeeSize   int
	embedDim        int
	exportElections bool
	metricsAddr     string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Sample the families of a manifest and compute the map",
		Long: `Run samples every family of the manifest (map.csv or YAML), computes
the requested committees, distances and features, embeds the elections with
classical MDS and writes the tables under <output>/<id>/.`,
		RunE: runExperiment,
	}
)

func init() {
	f := runCmd.Flags()
	f.StringVarP(&manifestPath, "manifest", "m", "", "experiment manifest (map.csv or .yaml)")
	f.StringVar(&experimentID, "id", "", "experiment id (default: manifest file name)")
	f.StringSliceVarP(&distanceIDs, "distance", "d", nil, "distance ids to compute, in addition to the manifest")
	f.StringSliceVarP(&featureIDs, "feature", "f", nil, "feature ids to compute, in addition to the manifest")
	f.StringVar(&ruleName, "rule", "", "committee rule to run before the features")
	f.IntVarP(&committeeSize, "committee-size", "k", 10, "committee size of --rule")
	f.IntVar(&embedDim, "dim", 0, "embedding dimension (default: manifest, or 2)")
	f.String("output", "", "output directory")
	f.Int("workers", 0, "number of workers")
	f.Int64("seed", 0, "master seed")
	f.String("kind", "", "default election kind (ordinal or approval)")
	f.Bool("export", true, "write the computed tables")
	f.BoolVar(&exportElections, "export-elections", false, "write every election in .soc/.app format")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	_ = runCmd.MarkFlagRequired("manifest")
}

// flagKeys maps run flags onto configuration keys.
var flagKeys = map[string]string{
	"output":  "experiment.output_dir",
	"workers": "performance.num_workers",
	"seed":    "experiment.seed",
	"kind":    "experiment.kind",
	"export":  "experiment.export",
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	for name, key := range flagKeys {
		fl := cmd.Flags().Lookup(name)
		if fl == nil || !fl.Changed {
			continue
		}
		switch name {
		case "workers":
			v, err := cmd.Flags().GetInt(name)
			if err != nil {
				return err
			}
			cfg.Set(key, v)
		case "seed":
			v, err := cmd.Flags().GetInt64(name)
			if err != nil {
				return err
			}
			cfg.Set(key, v)
		case "export":
			v, err := cmd.Flags().GetBool(name)
			if err != nil {
				return err
			}
			cfg.Set(key, v)
		default:
			cfg.Set(key, fl.Value.String())
		}
	}
	return nil
}

func runExperiment(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Without a configuration file the tables are written by default.
	if !cmd.Flags().Changed("export") && configFile == "" {
		cfg.Set("experiment.export", true)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	logger := cfg.CreateLogger("mapel")

	opts, err := experiment.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	m, err := experiment.LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	m.Distances = appendMissing(m.Distances, distanceIDs...)
	for _, id := range featureIDs {
		m.Features = append(m.Features, experiment.FeatureSpec{ID: id})
	}
	if ruleName != "" {
		m.Rules = append(m.Rules, experiment.RuleSpec{Rule: ruleName, K: committeeSize})
	}
	if embedDim > 0 {
		m.Dim = embedDim
	}
	if m.Dim == 0 && len(m.Distances) > 0 {
		m.Dim = 2
	}

	id := experimentID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(manifestPath), filepath.Ext(manifestPath))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if metricsAddr != "" {
		serveMetrics(ctx, metricsAddr, logger)
	}

	x := experiment.New(id, opts)
	logger.Info().Str("experiment", id).Str("run_id", x.RunID).Str("manifest", manifestPath).Msg("Starting experiment")
	return run(ctx, x, m, opts, logger)
}

func run(ctx context.Context, x *experiment.Experiment, m *experiment.Manifest, opts experiment.Options, logger zerolog.Logger) error {
	if err := x.AddFamilies(ctx, m); err != nil {
		return err
	}
	if opts.Export {
		if err := experiment.WriteMapCSV(filepath.Join(opts.OutputDir, x.ID, "map.csv"), x.Families()); err != nil {
			return err
		}
	}
	if exportElections {
		if err := x.ExportElections(); err != nil {
			return err
		}
	}

	for _, r := range m.Rules {
		if _, _, err := x.ComputeRule(ctx, r.Rule, r.K); err != nil {
			return err
		}
	}
	for _, id := range m.Distances {
		if _, err := x.ComputeDistances(ctx, id); err != nil {
			return err
		}
	}

	var deferred []experiment.FeatureSpec
	for _, f := range m.Features {
		if f.ID == experiment.DistortionFeature {
			deferred = append(deferred, f)
			continue
		}
		if _, err := x.ComputeFeature(ctx, f.ID, f.Params); err != nil {
			return err
		}
	}

	if m.Dim > 0 && len(m.Distances) > 0 {
		// The first distance of the manifest drives the embedding.
		if _, err := x.Embed(ctx, embedding.NewMDS(logger), m.Distances[0], m.Dim); err != nil {
			return err
		}
		for _, f := range deferred {
			params := f.Params.Clone()
			if !params.Has("distance") {
				params["distance"] = m.Distances[0]
			}
			if _, err := x.ComputeFeature(ctx, f.ID, params); err != nil {
				return err
			}
		}
	} else if len(deferred) > 0 {
		logger.Warn().Msg("Distortion needs an embedding; skipping")
	}

	logger.Info().
		Int("elections", len(x.ElectionIDs())).
		Int("distances", len(x.Distances)).
		Int("features", len(x.Features)).
		Str("output", filepath.Join(opts.OutputDir, x.ID)).
		Msg("Experiment finished")
	return nil
}

func appendMissing(ids []string, more ...string) []string {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range more {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// serveMetrics exposes the kernel metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	logger.Info().Str("addr", fmt.Sprintf("http://%s/metrics", addr)).Msg("Serving metrics")
}
