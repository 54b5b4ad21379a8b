package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := NewConfig()

	assert.Equal(t, int64(42), c.Seed())
	assert.Equal(t, 40320, c.BruteForceLimit())
	assert.Equal(t, "bb", c.BAPMethod())
	assert.Equal(t, "bnb", c.SolverBackend())
	assert.InDelta(t, 1e-8, c.SolverTolerance(), 1e-15)
	assert.Equal(t, 1, c.KemenyNeighbourhood())
	assert.GreaterOrEqual(t, c.NumWorkers(), 1)
	assert.False(t, c.CanonicalMatchings())
	assert.Equal(t, "ordinal", c.Kind())
	assert.True(t, c.Aggregated())
	assert.Zero(t, c.DistanceTimeLimit())
	assert.True(t, c.EnableProgress())
	assert.Equal(t, 1000, c.ProgressIntervalMS())
}

func TestSetOverrides(t *testing.T) {
	c := NewConfig()
	c.Set("performance.num_workers", 0)
	c.Set("solver.time_limit", 3*time.Second)
	c.Set("distances.bap_method", "aa")
	c.Set("distances.time_limit", "250ms")

	assert.Equal(t, 1, c.NumWorkers(), "non-positive worker counts clamp to one")
	assert.Equal(t, 3*time.Second, c.SolverTimeLimit())
	assert.Equal(t, "aa", c.BAPMethod())
	assert.Equal(t, 250*time.Millisecond, c.DistanceTimeLimit())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapel.yaml")
	content := "experiment:\n  seed: 7\nsolver:\n  backend: none\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c := NewConfig()
	require.NoError(t, c.LoadFromFile(path))

	assert.Equal(t, int64(7), c.Seed())
	assert.Equal(t, "none", c.SolverBackend())
	assert.Equal(t, zerolog.DebugLevel, c.CreateLogger("test").GetLevel())
}

func TestCreateLoggerFallsBackToInfo(t *testing.T) {
	c := NewConfig()
	c.Set("logging.level", "not-a-level")
	assert.Equal(t, zerolog.InfoLevel, c.CreateLogger("test").GetLevel())
}
