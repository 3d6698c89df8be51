package pipeline

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"policysim/internal/axis"
	"policysim/internal/epi"
	"policysim/internal/policy"
)

var ErrInvalidConfig = errors.New("invalid config")

// NoiseSpec selects a noise model for one rate parameter. SD is in daily
// units and is rescaled to the simulation step.
type NoiseSpec struct {
	Model string  `json:"model" yaml:"model"`
	SD    float64 `json:"sd" yaml:"sd"`
}

// Config is one batch of simulated epidemics plus their regressions.
// Rates are continuous daily rates; E0, I0 and R0 are head counts.
type Config struct {
	Population         float64         `json:"population" yaml:"population"`
	NoPolicyGrowthRate float64         `json:"no_policy_growth_rate" yaml:"no_policy_growth_rate"`
	Policies           []policy.Config `json:"policies" yaml:"policies"`
	// PolicyInterval, when set as [start, end], replaces every policy's
	// onset interval.
	PolicyInterval     []int           `json:"policy_interval,omitempty" yaml:"policy_interval"`
	NDays              int             `json:"n_days" yaml:"n_days"`
	StepsPerDay        int             `json:"steps_per_day" yaml:"steps_per_day"`
	NSamples           int             `json:"n_samples" yaml:"n_samples"`
	LHS                []string        `json:"lhs" yaml:"lhs"`
	RegLags            []int           `json:"reg_lags" yaml:"reg_lags"`
	Gamma              axis.Coords     `json:"gamma" yaml:"gamma"`
	Sigma              axis.Coords     `json:"sigma,omitempty" yaml:"sigma"`
	MinCases           float64         `json:"min_cases" yaml:"min_cases"`

	BetaNoise  NoiseSpec `json:"beta_noise" yaml:"beta_noise"`
	GammaNoise NoiseSpec `json:"gamma_noise" yaml:"gamma_noise"`
	SigmaNoise NoiseSpec `json:"sigma_noise" yaml:"sigma_noise"`

	Kind      string  `json:"kind" yaml:"kind"`
	E0        float64 `json:"e0" yaml:"e0"`
	I0        float64 `json:"i0" yaml:"i0"`
	R0        float64 `json:"r0" yaml:"r0"`
	RandomEnd bool    `json:"random_end" yaml:"random_end"`
	Seed      uint64  `json:"seed" yaml:"seed"`
	Workers   int     `json:"workers,omitempty" yaml:"workers"`
	SaveDir   string  `json:"save_dir,omitempty" yaml:"save_dir"`
}

// Defaults returns a config with everything but the policies filled in.
func Defaults() Config {
	return Config{
		Population:         1e6,
		NoPolicyGrowthRate: 0.2,
		NDays:              120,
		StepsPerDay:        4,
		NSamples:           100,
		LHS:                []string{"IR"},
		RegLags:            []int{0},
		Gamma:              axis.Coords{0.1},
		Sigma:              axis.Coords{0.2},
		MinCases:           100,
		Kind:               "SEIR",
		E0:                 1,
	}
}

// Validate checks cfg without running anything. Unknown kinds and noise
// models keep their own sentinels; everything else wraps ErrInvalidConfig.
func (c Config) Validate() error {
	kind, err := epi.ParseKind(c.Kind)
	if err != nil {
		return err
	}
	for name, n := range map[string]NoiseSpec{"beta": c.BetaNoise, "gamma": c.GammaNoise, "sigma": c.SigmaNoise} {
		if _, err := epi.ParseNoise(n.Model); err != nil {
			return fmt.Errorf("%s noise: %w", name, err)
		}
		if n.SD < 0 || math.IsNaN(n.SD) {
			return fmt.Errorf("%w: %s noise sd %f", ErrInvalidConfig, name, n.SD)
		}
	}

	switch {
	case !(c.Population > 0):
		return fmt.Errorf("%w: population must be positive", ErrInvalidConfig)
	case c.NDays <= 0:
		return fmt.Errorf("%w: n_days must be positive", ErrInvalidConfig)
	case c.StepsPerDay <= 0:
		return fmt.Errorf("%w: steps_per_day must be positive", ErrInvalidConfig)
	case c.NSamples <= 0:
		return fmt.Errorf("%w: n_samples must be positive", ErrInvalidConfig)
	case len(c.Gamma) == 0:
		return fmt.Errorf("%w: gamma grid is empty", ErrInvalidConfig)
	case c.MinCases < 0:
		return fmt.Errorf("%w: min_cases must not be negative", ErrInvalidConfig)
	case c.E0 < 0 || c.I0 < 0 || c.R0 < 0:
		return fmt.Errorf("%w: initial conditions must not be negative", ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	seeded := c.I0 + c.R0
	if kind.HasExposed() {
		seeded += c.E0
		if len(c.Sigma) == 0 {
			return fmt.Errorf("%w: sigma grid is empty", ErrInvalidConfig)
		}
	}
	if seeded > c.Population {
		return fmt.Errorf("%w: %g initial cases exceed population %g", ErrInvalidConfig, seeded, c.Population)
	}
	if seeded == 0 {
		return fmt.Errorf("%w: no initial cases", ErrInvalidConfig)
	}

	if n := len(c.PolicyInterval); n != 0 && n != 2 {
		return fmt.Errorf("%w: policy_interval needs [start, end], got %d values", ErrInvalidConfig, n)
	}
	policies := c.policies()
	if err := policy.Validate(policies); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i, p := range policies {
		if p.End > c.NDays {
			return fmt.Errorf("%w: policy %s onset window ends after day %d", ErrInvalidConfig, policy.Names(policies)[i], c.NDays)
		}
	}
	for _, l := range c.RegLags {
		if l < 0 || l >= c.NDays {
			return fmt.Errorf("%w: regression lag %d outside [0,%d)", ErrInvalidConfig, l, c.NDays)
		}
	}
	if len(c.RegLags) == 0 {
		return fmt.Errorf("%w: no regression lags", ErrInvalidConfig)
	}

	lhs := outcomeNames(kind, c.LHS)
	if len(lhs) == 0 {
		return fmt.Errorf("%w: no outcome variables for %s", ErrInvalidConfig, kind.Name())
	}
	known := epi.Observables(kind)
	for _, name := range lhs {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: unknown outcome %q, want one of %v", ErrInvalidConfig, name, known)
		}
	}
	return nil
}

// policies applies PolicyInterval, if any.
func (c Config) policies() []policy.Config {
	if len(c.PolicyInterval) != 2 {
		return c.Policies
	}
	return policy.Shared(c.Policies, c.PolicyInterval[0], c.PolicyInterval[1])
}

// outcomeNames drops outcomes that need the exposed compartment when kind
// has none.
func outcomeNames(kind epi.Kind, lhs []string) []string {
	if kind.HasExposed() {
		return slices.Clone(lhs)
	}
	out := make([]string, 0, len(lhs))
	for _, name := range lhs {
		if !strings.Contains(name, "E") {
			out = append(out, name)
		}
	}
	return out
}

// sigmaGrid is the daily sigma sweep; models without an exposed
// compartment get a single NaN coordinate.
func (c Config) sigmaGrid(kind epi.Kind) []float64 {
	if !kind.HasExposed() {
		return []float64{math.NaN()}
	}
	return c.Sigma
}
