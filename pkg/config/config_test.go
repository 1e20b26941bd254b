package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sltm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 100, cfg.Assignment.MaxIterations)
	assert.Equal(t, "origin", cfg.Assignment.BushDirection)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, log.InfoLevel, cfg.LogLevel())

	opts := cfg.AssignmentOptions()
	require.NoError(t, opts.Validate())
	assert.False(t, opts.Inverted)
	assert.Equal(t, "car", opts.Mode.Name)
	assert.InDelta(t, 0.5, opts.Pas.EffectivenessFactor, 1e-12)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
assignment:
  bush_direction: destination
  workers: 8
cost:
  bpr_alpha: 0.5
  bpr_beta: 1
server:
  read_timeout: 3s
log:
  level: debug
`)
	cfg, err := NewLoader(WithFile(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, "destination", cfg.Assignment.BushDirection)
	assert.Equal(t, 8, cfg.Assignment.Workers)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, log.DebugLevel, cfg.LogLevel())
	assert.True(t, cfg.AssignmentOptions().Inverted)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "assignment:\n  max_iterations: 10\n")
	t.Setenv("SLTM_ASSIGNMENT_MAX_ITERATIONS", "25")
	t.Setenv("SLTM_PAS_MIN_RELATIVE_GAP", "0.01")
	t.Setenv("SLTM_SERVER_ADDR", ":9999")

	cfg, err := NewLoader(WithFile(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Assignment.MaxIterations)
	assert.InDelta(t, 0.01, cfg.Pas.MinRelativeGap, 1e-12)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadSearchPaths(t *testing.T) {
	path := writeFile(t, "loading:\n  epsilon: 0.001\n")
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg, err := NewLoader(WithSearchPaths(missing, path)).Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.001, cfg.Loading.Epsilon, 1e-12)

	cfg, err = NewLoader(WithSearchPaths(missing)).Load()
	require.NoError(t, err)
	assert.InDelta(t, 1e-7, cfg.Loading.Epsilon, 1e-15)
}

func TestLoadErrors(t *testing.T) {
	_, err := NewLoader(WithFile(filepath.Join(t.TempDir(), "missing.yaml"))).Load()
	require.Error(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"direction", "assignment:\n  bush_direction: sideways\n"},
		{"level", "log:\n  level: chatty\n"},
		{"beta", "cost:\n  bpr_beta: 0\n"},
		{"step", "assignment:\n  step_factor: 2\n"},
		{"concurrency", "server:\n  max_concurrent: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(WithFile(writeFile(t, tt.body))).Load()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
