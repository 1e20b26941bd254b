// Package config loads the run configuration of sltm.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/azybler/sltm/pkg/assignment"
	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/loading"
	"github.com/azybler/sltm/pkg/pas"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config is the complete run configuration.
type Config struct {
	Assignment AssignmentConfig `koanf:"assignment"`
	Pas        PasConfig        `koanf:"pas"`
	Loading    LoadingConfig    `koanf:"loading"`
	Cost       CostConfig       `koanf:"cost"`
	Log        LogConfig        `koanf:"log"`
	Server     ServerConfig     `koanf:"server"`
}

type AssignmentConfig struct {
	MaxIterations             int     `koanf:"max_iterations"`
	GapEpsilon                float64 `koanf:"gap_epsilon"`
	BushDirection             string  `koanf:"bush_direction"` // origin, destination
	StepFactor                float64 `koanf:"step_factor"`
	Workers                   int     `koanf:"workers"`
	RequireEntropyConvergence bool    `koanf:"require_entropy_convergence"`
}

type PasConfig struct {
	MinAbsoluteGap      float64 `koanf:"min_absolute_gap"`
	MinRelativeGap      float64 `koanf:"min_relative_gap"`
	EffectivenessFactor float64 `koanf:"effectiveness_factor"`
	EqualityTolerance   float64 `koanf:"equality_tolerance"`
}

type LoadingConfig struct {
	MaxIterations int     `koanf:"max_iterations"`
	Epsilon       float64 `koanf:"epsilon"`
}

type CostConfig struct {
	BPRAlpha        float64 `koanf:"bpr_alpha"`
	BPRBeta         float64 `koanf:"bpr_beta"`
	PeriodHours     float64 `koanf:"period_hours"`
	ConnectoidCost  float64 `koanf:"connectoid_cost"` // hours
	ModeName        string  `koanf:"mode_name"`
	ModeMaxSpeedKmh float64 `koanf:"mode_max_speed_kmh"`
	ModePCU         float64 `koanf:"mode_pcu"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type ServerConfig struct {
	Addr          string        `koanf:"addr"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	MaxConcurrent int           `koanf:"max_concurrent"`
	CORSOrigin    string        `koanf:"cors_origin"`
}

// Validate checks values that the loaders cannot.
func (c *Config) Validate() error {
	switch c.Assignment.BushDirection {
	case "origin", "destination":
	default:
		return fmt.Errorf("%w: assignment.bush_direction must be origin or destination, got %q", ErrInvalid, c.Assignment.BushDirection)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	if c.Cost.BPRAlpha < 0 || c.Cost.BPRBeta <= 0 {
		return fmt.Errorf("%w: bpr parameters must be alpha >= 0 and beta > 0", ErrInvalid)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: server.max_concurrent must be positive", ErrInvalid)
	}
	if err := c.AssignmentOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// LogLevel returns the configured level, Info when it does not parse.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// AssignmentOptions converts the configuration for the driver.
func (c *Config) AssignmentOptions() assignment.Options {
	return assignment.Options{
		MaxIterations:             c.Assignment.MaxIterations,
		GapEpsilon:                c.Assignment.GapEpsilon,
		Inverted:                  c.Assignment.BushDirection == "destination",
		StepFactor:                c.Assignment.StepFactor,
		Workers:                   c.Assignment.Workers,
		RequireEntropyConvergence: c.Assignment.RequireEntropyConvergence,
		Mode: cost.Mode{
			Name:        c.Cost.ModeName,
			PCU:         c.Cost.ModePCU,
			MaxSpeedKmh: c.Cost.ModeMaxSpeedKmh,
		},
		Physical: cost.NewBPR(c.Cost.BPRAlpha, c.Cost.BPRBeta, c.Cost.PeriodHours),
		Virtual:  cost.FixedVirtual{ConnectoidCost: c.Cost.ConnectoidCost},
		Pas: pas.Options{
			MinAbsoluteGap:      c.Pas.MinAbsoluteGap,
			MinRelativeGap:      c.Pas.MinRelativeGap,
			EffectivenessFactor: c.Pas.EffectivenessFactor,
			EqualityTolerance:   c.Pas.EqualityTolerance,
		},
		Loading: loading.Options{
			MaxIterations:         c.Loading.MaxIterations,
			Epsilon:               c.Loading.Epsilon,
			ConservationTolerance: loading.DefaultOptions().ConservationTolerance,
		},
	}
}
