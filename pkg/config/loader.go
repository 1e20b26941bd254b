package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SLTM_"

// Loader reads the configuration from defaults, an optional YAML file and
// the environment, in increasing priority.
type Loader struct {
	k           *koanf.Koanf
	file        string
	searchPaths []string
	envPrefix   string
	skipEnv     bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFile loads path, which must exist.
func WithFile(path string) LoaderOption {
	return func(l *Loader) { l.file = path }
}

// WithSearchPaths sets the files tried when no file is given. The first
// one that exists is loaded.
func WithSearchPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.searchPaths = paths }
}

// WithEnvPrefix sets the prefix of the environment variables.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithoutEnv ignores the environment.
func WithoutEnv() LoaderOption {
	return func(l *Loader) { l.skipEnv = true }
}

// NewLoader returns a Loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:           koanf.New("."),
		searchPaths: []string{"sltm.yaml", "config/sltm.yaml"},
		envPrefix:   envPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if err := l.loadFile(); err != nil {
		return nil, err
	}
	if !l.skipEnv {
		if err := l.loadEnv(); err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	cfg, err := NewLoader(WithSearchPaths(), WithoutEnv()).Load()
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

func defaults() map[string]any {
	return map[string]any{
		"assignment.max_iterations":              100,
		"assignment.gap_epsilon":                 1e-5,
		"assignment.bush_direction":              "origin",
		"assignment.step_factor":                 1.0,
		"assignment.workers":                     4,
		"assignment.require_entropy_convergence": true,

		"pas.min_absolute_gap":     1e-6,
		"pas.min_relative_gap":     1e-4,
		"pas.effectiveness_factor": 0.5,
		"pas.equality_tolerance":   1e-9,

		"loading.max_iterations": 100,
		"loading.epsilon":        1e-7,

		"cost.bpr_alpha":          0.15,
		"cost.bpr_beta":           4.0,
		"cost.period_hours":       1.0,
		"cost.connectoid_cost":    0.0,
		"cost.mode_name":          "car",
		"cost.mode_max_speed_kmh": 130.0,
		"cost.mode_pcu":           1.0,

		"log.level": "info",

		"server.addr":           ":8080",
		"server.read_timeout":   10 * time.Second,
		"server.write_timeout":  30 * time.Second,
		"server.max_concurrent": 64,
		"server.cors_origin":    "*",
	}
}

func (l *Loader) loadFile() error {
	if l.file != "" {
		if err := l.k.Load(file.Provider(l.file), yaml.Parser()); err != nil {
			return fmt.Errorf("loading %s: %w", l.file, err)
		}
		return nil
	}
	for _, path := range l.searchPaths {
		if _, err := os.Stat(path); err == nil {
			if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			return nil
		}
	}
	return nil
}

// loadEnv maps SLTM_SECTION_SOME_KEY to section.some_key. Section names
// contain no underscore.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.ProviderWithValue(l.envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, l.envPrefix))
		return strings.Replace(key, "_", ".", 1), value
	}), nil)
}
