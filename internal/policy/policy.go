// Package policy draws randomized policy onset schedules and builds the
// per-step activation series used by the simulator and the regressions.
package policy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"policysim/internal/axis"
)

// Oversample is the number of candidate draws per requested sample;
// draws with coinciding onset days are discarded.
const Oversample = 2

var (
	ErrSamplingExhausted = errors.New("not enough collinearity-free policy draws")
	ErrInvalidPolicy     = errors.New("invalid policy config")
)

// Config describes one intervention. Start and End bound the onset day
// draw as [Start, End). Lag is the activation ramp applied, one value per
// day, from the onset onwards.
type Config struct {
	Name   string    `json:"name" yaml:"name"`
	Effect float64   `json:"effect" yaml:"effect"`
	Lag    []float64 `json:"lag,omitempty" yaml:"lag"`
	Start  int       `json:"start" yaml:"start"`
	End    int       `json:"end" yaml:"end"`
}

// Timing is the outcome of one generator call.
type Timing struct {
	// Onsets holds onset days per sample, ascending.
	Onsets [][]int
	// Series is the ramp-adjusted indicator over (sample, t, policy).
	Series *axis.Tensor
	// RandomEnd is a U[0,1) draw per sample, or 1 when random end is off.
	RandomEnd []float64
}

type Request struct {
	Policies    []Config
	Samples     int
	FineSteps   int
	StepsPerDay int
	RandomEnd   bool
}

// Names returns policy names, defaulting to p1, p2, ...
func Names(cfgs []Config) []string {
	out := make([]string, len(cfgs))
	for i, c := range cfgs {
		out[i] = c.Name
		if out[i] == "" {
			out[i] = fmt.Sprintf("p%d", i+1)
		}
	}
	return out
}

// Shared returns a copy of cfgs with every onset interval replaced by
// [start, end).
func Shared(cfgs []Config, start, end int) []Config {
	out := slices.Clone(cfgs)
	for i := range out {
		out[i].Start, out[i].End = start, end
	}
	return out
}

// FirstStart is the earliest onset interval start over all policies.
func FirstStart(cfgs []Config) int {
	first := 0
	for i, c := range cfgs {
		if i == 0 || c.Start < first {
			first = c.Start
		}
	}
	return first
}

// Validate checks interval bounds and ramp shapes.
func Validate(cfgs []Config) error {
	if len(cfgs) == 0 {
		return fmt.Errorf("%w: at least one policy is required", ErrInvalidPolicy)
	}
	names := make(map[string]bool, len(cfgs))
	for i, name := range Names(cfgs) {
		c := cfgs[i]
		if names[name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidPolicy, name)
		}
		names[name] = true
		if c.Start < 0 || c.End <= c.Start {
			return fmt.Errorf("%w: %s interval [%d,%d)", ErrInvalidPolicy, name, c.Start, c.End)
		}
		if len(c.Lag) != len(cfgs[0].Lag) {
			return fmt.Errorf("%w: %s has %d lag values, want %d", ErrInvalidPolicy, name, len(c.Lag), len(cfgs[0].Lag))
		}
		for _, v := range c.Lag {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: %s lag value %f outside [0,1]", ErrInvalidPolicy, name, v)
			}
		}
	}
	return nil
}

// Generate draws onsets for req.Samples samples from rng.
func Generate(rng *rand.Rand, req Request) (Timing, error) {
	if err := Validate(req.Policies); err != nil {
		return Timing{}, err
	}
	if req.Samples <= 0 || req.StepsPerDay <= 0 || req.FineSteps <= 0 {
		return Timing{}, fmt.Errorf("%w: samples=%d steps_per_day=%d fine_steps=%d", ErrInvalidPolicy, req.Samples, req.StepsPerDay, req.FineSteps)
	}

	onsets, err := drawOnsets(rng, req.Policies, req.Samples)
	if err != nil {
		return Timing{}, err
	}

	randomEnd := make([]float64, req.Samples)
	if req.RandomEnd {
		u := distuv.Uniform{Min: 0, Max: 1, Src: rng}
		for i := range randomEnd {
			randomEnd[i] = u.Rand()
		}
	} else {
		for i := range randomEnd {
			randomEnd[i] = 1
		}
	}

	return Timing{
		Onsets:    onsets,
		Series:    buildSeries(onsets, req.Policies, req.FineSteps, req.StepsPerDay),
		RandomEnd: randomEnd,
	}, nil
}

func drawOnsets(rng *rand.Rand, cfgs []Config, samples int) ([][]int, error) {
	candidates := samples * Oversample
	valid := make([][]int, 0, candidates)
	for i := 0; i < candidates; i++ {
		row := make([]int, len(cfgs))
		for p, c := range cfgs {
			row[p] = c.Start + rng.IntN(c.End-c.Start)
		}
		slices.Sort(row)
		if len(slices.Compact(slices.Clone(row))) != len(row) {
			continue
		}
		valid = append(valid, row)
	}
	if len(valid) <= samples {
		return nil, fmt.Errorf("%w: %d valid of %d drawn, need more than %d; widen onset intervals or raise oversampling",
			ErrSamplingExhausted, len(valid), candidates, samples)
	}
	return valid[:samples], nil
}

func buildSeries(onsets [][]int, cfgs []Config, fineSteps, stepsPerDay int) *axis.Tensor {
	nPolicies := len(cfgs)
	series := axis.New(
		axis.Axis{Name: axis.Sample, Size: len(onsets)},
		axis.Axis{Name: axis.T, Size: fineSteps},
		axis.Axis{Name: axis.Policy, Size: nPolicies},
	)
	ramps := make([][]float64, nPolicies)
	for p, c := range cfgs {
		ramps[p] = expandRamp(c.Lag, stepsPerDay)
	}

	data := series.Data()
	for s, row := range onsets {
		for p, day := range row {
			on := day * stepsPerDay
			if on >= fineSteps {
				continue
			}
			for t := on; t < fineSteps; t++ {
				v := 1.0
				if k := t - on; k < len(ramps[p]) {
					v = ramps[p][k]
				}
				data[(s*fineSteps+t)*nPolicies+p] = v
			}
		}
	}
	return series
}

// expandRamp repeats each daily ramp value once per fine step.
func expandRamp(lag []float64, stepsPerDay int) []float64 {
	out := make([]float64, 0, len(lag)*stepsPerDay)
	for _, v := range lag {
		for k := 0; k < stepsPerDay; k++ {
			out = append(out, v)
		}
	}
	return out
}

// EffectSeries is sum over policies of indicator times effect, on
// (sample, t).
func EffectSeries(timing Timing, cfgs []Config) (*axis.Tensor, error) {
	effects := make([]float64, len(cfgs))
	for i, c := range cfgs {
		effects[i] = c.Effect
	}
	weighted, err := axis.Map(func(v []float64) float64 { return v[0] * v[1] }, timing.Series, axis.Vector(axis.Policy, effects))
	if err != nil {
		return nil, err
	}
	return weighted.Reduce(axis.Policy, func(lane []float64) float64 {
		total := 0.0
		for _, v := range lane {
			total += v
		}
		return total
	})
}

// LastOnset is the onset day of the final policy in sample s.
func (t Timing) LastOnset(s int) int {
	row := t.Onsets[s]
	return row[len(row)-1]
}

// LastActivation is the step at which the last policy in sample s first
// becomes positive, or -1 when some policy never activates.
func LastActivation(series *axis.Tensor, sample int) int {
	nT := series.Size(axis.T)
	nP := series.Size(axis.Policy)
	data := series.Data()
	base := sample * nT * nP
	last := -1
	for p := 0; p < nP; p++ {
		first := -1
		for t := 0; t < nT; t++ {
			if data[base+t*nP+p] > 0 {
				first = t
				break
			}
		}
		if first < 0 {
			return -1
		}
		last = max(last, first)
	}
	return last
}
