package epi

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"policysim/internal/axis"
)

var ErrUnknownNoise = errors.New("unknown noise model")

type NoiseModel int

const (
	NoiseOff NoiseModel = iota
	// NoiseNormal adds zero-mean gaussian noise with a fixed standard
	// deviation.
	NoiseNormal
	// NoiseExponential replaces the value with an exponential draw whose
	// mean is the deterministic value.
	NoiseExponential
)

func (m NoiseModel) String() string {
	switch m {
	case NoiseNormal:
		return "normal"
	case NoiseExponential:
		return "exponential"
	default:
		return "off"
	}
}

func ParseNoise(name string) (NoiseModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "off", "false", "none":
		return NoiseOff, nil
	case "normal":
		return NoiseNormal, nil
	case "exponential":
		return NoiseExponential, nil
	default:
		return NoiseOff, fmt.Errorf("%w: %q", ErrUnknownNoise, name)
	}
}

// Noise selects a model and, for NoiseNormal, its standard deviation in
// per-step units.
type Noise struct {
	Model NoiseModel
	SD    float64
}

// perturb applies n to det over the full parameter layout. One standard
// draw is taken per (sample, t) and shared by every grid point, so the
// swept gamma/sigma values see common random numbers. For exponential
// noise this means one Exp(1) factor per (sample, t) rather than an
// independent draw per grid cell.
func perturb(rng *rand.Rand, n Noise, det *axis.Tensor, full []axis.Axis) (*axis.Tensor, error) {
	if n.Model == NoiseOff {
		return det.BroadcastTo(full...)
	}

	draws := axis.New(full[0], full[1])
	switch n.Model {
	case NoiseNormal:
		dist := distuv.Normal{Mu: 0, Sigma: n.SD, Src: rng}
		fill(draws, dist.Rand)
		return axis.MapTo(full, func(v []float64) float64 { return v[0] + v[1] }, det, draws)
	case NoiseExponential:
		dist := distuv.Exponential{Rate: 1, Src: rng}
		fill(draws, dist.Rand)
		return axis.MapTo(full, func(v []float64) float64 { return v[0] * v[1] }, det, draws)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownNoise, n.Model)
	}
}

func fill(tn *axis.Tensor, draw func() float64) {
	data := tn.Data()
	for i := range data {
		data[i] = draw()
	}
}
