package config

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Config manages toolkit configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Experiment parameters
	v.SetDefault("experiment.seed", int64(42))
	v.SetDefault("experiment.output_dir", "experiments")
	v.SetDefault("experiment.export", false)
	v.SetDefault("experiment.kind", "ordinal")
	v.SetDefault("experiment.aggregated", true)

	// Performance parameters
	v.SetDefault("performance.num_workers", runtime.NumCPU())

	// Distance parameters
	v.SetDefault("distances.canonical_matchings", false)
	v.SetDefault("distances.bruteforce_limit", 40320) // 8!
	v.SetDefault("distances.bap_method", "bb")
	v.SetDefault("distances.bap_restarts", 1)
	v.SetDefault("distances.time_limit", time.Duration(0))

	// Solver parameters
	v.SetDefault("solver.backend", "bnb")
	v.SetDefault("solver.tolerance", 1e-8)
	v.SetDefault("solver.time_limit", time.Duration(0))
	v.SetDefault("solver.node_limit", 200000)
	v.SetDefault("solver.serialize", false)

	// Feature parameters
	v.SetDefault("features.time_limit", time.Duration(0))
	v.SetDefault("features.kemeny_neighbourhood", 1)
	v.SetDefault("features.kemeny_max_iterations", 1000)

	// Logging parameters
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.progress_interval_ms", 1000)
	v.SetDefault("logging.enable_progress", true)

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Getters for experiment parameters
func (c *Config) Seed() int64       { return c.v.GetInt64("experiment.seed") }
func (c *Config) OutputDir() string { return c.v.GetString("experiment.output_dir") }
func (c *Config) Export() bool      { return c.v.GetBool("experiment.export") }
func (c *Config) Kind() string      { return c.v.GetString("experiment.kind") }
func (c *Config) Aggregated() bool  { return c.v.GetBool("experiment.aggregated") }

func (c *Config) NumWorkers() int {
	n := c.v.GetInt("performance.num_workers")
	if n < 1 {
		return 1
	}
	return n
}

func (c *Config) CanonicalMatchings() bool { return c.v.GetBool("distances.canonical_matchings") }
func (c *Config) BruteForceLimit() int     { return c.v.GetInt("distances.bruteforce_limit") }
func (c *Config) BAPMethod() string        { return c.v.GetString("distances.bap_method") }
func (c *Config) BAPRestarts() int         { return c.v.GetInt("distances.bap_restarts") }

func (c *Config) DistanceTimeLimit() time.Duration { return c.v.GetDuration("distances.time_limit") }

func (c *Config) SolverBackend() string          { return c.v.GetString("solver.backend") }
func (c *Config) SolverTolerance() float64       { return c.v.GetFloat64("solver.tolerance") }
func (c *Config) SolverTimeLimit() time.Duration { return c.v.GetDuration("solver.time_limit") }
func (c *Config) SolverNodeLimit() int           { return c.v.GetInt("solver.node_limit") }
func (c *Config) SolverSerialize() bool          { return c.v.GetBool("solver.serialize") }

func (c *Config) FeatureTimeLimit() time.Duration { return c.v.GetDuration("features.time_limit") }
func (c *Config) KemenyNeighbourhood() int        { return c.v.GetInt("features.kemeny_neighbourhood") }
func (c *Config) KemenyMaxIterations() int        { return c.v.GetInt("features.kemeny_max_iterations") }

func (c *Config) LogLevel() string        { return c.v.GetString("logging.level") }
func (c *Config) ProgressIntervalMS() int { return c.v.GetInt("logging.progress_interval_ms") }
func (c *Config) EnableProgress() bool    { return c.v.GetBool("logging.enable_progress") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// CreateLogger creates a zerolog logger based on config
func (c *Config) CreateLogger(service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}).Level(level).With().Timestamp().Str("service", service).Logger()
}
