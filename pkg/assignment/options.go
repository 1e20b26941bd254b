package assignment

import (
	"errors"
	"fmt"

	"github.com/azybler/sltm/pkg/cost"
	"github.com/azybler/sltm/pkg/loading"
	"github.com/azybler/sltm/pkg/pas"
)

// ErrInvalidOptions is returned by Options.Validate.
var ErrInvalidOptions = errors.New("invalid assignment options")

// Options configures an assignment run.
type Options struct {
	MaxIterations int
	GapEpsilon    float64
	// Inverted roots the bushes at destinations instead of origins.
	Inverted   bool
	StepFactor float64
	// Workers bounds the bushes processed concurrently. Zero or less
	// means one.
	Workers int
	// RequireEntropyConvergence defers convergence while any PAS still
	// had its split redistributed in the last iteration.
	RequireEntropyConvergence bool

	Mode     cost.Mode
	Physical cost.Physical
	Virtual  cost.Virtual

	Pas     pas.Options
	Loading loading.Options
}

// DefaultOptions returns the defaults: origin bushes, BPR(0.15, 4) with a
// one hour period and free connectoids.
func DefaultOptions() Options {
	return Options{
		MaxIterations:             100,
		GapEpsilon:                1e-5,
		StepFactor:                1,
		Workers:                   1,
		RequireEntropyConvergence: true,
		Mode:                      cost.Car,
		Physical:                  cost.NewBPR(0.15, 4, 1),
		Virtual:                   cost.FixedVirtual{},
		Pas:                       pas.DefaultOptions(),
		Loading:                   loading.DefaultOptions(),
	}
}

// Validate checks the options for values the driver cannot work with.
func (o Options) Validate() error {
	switch {
	case o.MaxIterations <= 0:
		return fmt.Errorf("%w: max iterations must be positive", ErrInvalidOptions)
	case o.GapEpsilon <= 0:
		return fmt.Errorf("%w: gap epsilon must be positive", ErrInvalidOptions)
	case o.StepFactor <= 0 || o.StepFactor > 1:
		return fmt.Errorf("%w: step factor must be in (0, 1]", ErrInvalidOptions)
	case o.Physical == nil || o.Virtual == nil:
		return fmt.Errorf("%w: cost models are required", ErrInvalidOptions)
	case o.Loading.MaxIterations <= 0:
		return fmt.Errorf("%w: loading max iterations must be positive", ErrInvalidOptions)
	}
	return nil
}
