package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gilchrisn/election-map/pkg/config"
	"github.com/gilchrisn/election-map/pkg/cultures"
	"github.com/gilchrisn/election-map/pkg/distances"
	"github.com/gilchrisn/election-map/pkg/election"
	"github.com/gilchrisn/election-map/pkg/features"
)

var (
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "mapel",
		Short:         "Build maps of elections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	listCmd = &cobra.Command{
		Use:   "list [cultures|distances|features]",
		Short: "List the registered cultures, distances or features",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runList,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
}

// loadConfig reads the configuration file, if any, and applies the
// persistent flags on top.
func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configFile, err)
		}
	}
	if logLevel != "" {
		cfg.Set("logging.level", logLevel)
	}
	return cfg, nil
}

func runList(cmd *cobra.Command, args []string) error {
	what := "all"
	if len(args) == 1 {
		what = args[0]
	}
	out := cmd.OutOrStdout()
	section := func(title string, ids []string) {
		fmt.Fprintf(out, "%s:\n  %s\n", title, strings.Join(ids, "\n  "))
	}

	switch what {
	case "cultures", "distances", "features", "all":
	default:
		return fmt.Errorf("unknown list %q", what)
	}
	if what == "cultures" || what == "all" {
		r := cultures.NewRegistry()
		for _, k := range []cultures.Kind{cultures.KindOrdinal, cultures.KindPseudo, cultures.KindAlliance, cultures.KindApproval} {
			section(k.String()+" cultures", r.List(k))
		}
	}
	if what == "distances" || what == "all" {
		section("distances", distances.NewRegistry().List())
	}
	if what == "features" || what == "all" {
		r := features.NewRegistry()
		section("ordinal features", r.List(election.Ordinal))
		section("approval features", r.List(election.Approval))
	}
	return nil
}
