package epi

import (
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"policysim/internal/axis"
	"policysim/internal/timescale"
)

// SampleInput carries per-step rates. Growth and Effects are continuous
// daily rates; TStep converts them. Gamma and Sigma grids must already be
// in per-step continuous units, and noise SDs already scaled for the
// step size.
type SampleInput struct {
	Kind    Kind
	Growth  float64
	Effects *axis.Tensor // (sample, t)
	TStep   float64
	Gamma   []float64
	Sigma   []float64

	BetaNoise  Noise
	GammaNoise Noise
	SigmaNoise Noise

	Logger *zap.Logger
}

// Params are the deterministic and noisy per-step discrete rates over
// (sample, t, gamma, sigma).
type Params struct {
	LambdaDisc *axis.Tensor // (sample, t), no-noise growth eigenvalue
	GammaDet   *axis.Tensor // (gamma)
	SigmaDet   *axis.Tensor // (sigma)
	BetaDet    *axis.Tensor

	BetaStoch   *axis.Tensor
	GammaStoch  *axis.Tensor
	SigmaStoch  *axis.Tensor
	LambdaStoch *axis.Tensor

	// NonPhysical counts stochastic beta/gamma/sigma draws <= 0.
	NonPhysical int
}

// Sample derives stochastic rates from in, drawing noise from rng in the
// order beta, gamma, sigma.
func Sample(rng *rand.Rand, in SampleInput) (Params, error) {
	logger := in.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if in.Kind == nil {
		return Params{}, fmt.Errorf("%w: nil", ErrUnknownKind)
	}
	if in.Effects == nil || !in.Effects.Has(axis.Sample) || !in.Effects.Has(axis.T) {
		return Params{}, fmt.Errorf("%w: effect series needs sample and t axes", axis.ErrUnknownAxis)
	}
	sigmaGrid := in.Sigma
	if len(sigmaGrid) == 0 {
		sigmaGrid = []float64{math.NaN()}
	}

	var p Params
	var err error
	p.LambdaDisc, err = axis.Map(func(v []float64) float64 {
		return timescale.Discretize((in.Growth + v[0]) * in.TStep)
	}, in.Effects)
	if err != nil {
		return Params{}, err
	}
	p.GammaDet = axis.Vector(axis.Gamma, discretizeAll(in.Gamma))
	p.SigmaDet = axis.Vector(axis.Sigma, discretizeAll(sigmaGrid))

	full := []axis.Axis{
		{Name: axis.Sample, Size: in.Effects.Size(axis.Sample)},
		{Name: axis.T, Size: in.Effects.Size(axis.T)},
		{Name: axis.Gamma, Size: len(in.Gamma)},
		{Name: axis.Sigma, Size: len(sigmaGrid)},
	}
	p.BetaDet, err = axis.MapTo(full, func(v []float64) float64 {
		return in.Kind.Beta(v[0], v[1], v[2])
	}, p.LambdaDisc, p.GammaDet, p.SigmaDet)
	if err != nil {
		return Params{}, err
	}

	if p.BetaStoch, err = perturb(rng, in.BetaNoise, p.BetaDet, full); err != nil {
		return Params{}, fmt.Errorf("beta noise: %w", err)
	}
	if p.GammaStoch, err = perturb(rng, in.GammaNoise, p.GammaDet, full); err != nil {
		return Params{}, fmt.Errorf("gamma noise: %w", err)
	}
	sigmaNoise := in.SigmaNoise
	if !in.Kind.HasExposed() {
		sigmaNoise = Noise{}
	}
	if p.SigmaStoch, err = perturb(rng, sigmaNoise, p.SigmaDet, full); err != nil {
		return Params{}, fmt.Errorf("sigma noise: %w", err)
	}

	p.LambdaStoch, err = axis.MapTo(full, func(v []float64) float64 {
		return in.Kind.Lambda(v[0], v[1], v[2])
	}, p.BetaStoch, p.GammaStoch, p.SigmaStoch)
	if err != nil {
		return Params{}, err
	}

	nonPositive := func(v float64) bool { return v <= 0 }
	p.NonPhysical = p.BetaStoch.Count(nonPositive) + p.GammaStoch.Count(nonPositive)
	if in.Kind.HasExposed() {
		p.NonPhysical += p.SigmaStoch.Count(nonPositive)
	}
	if p.NonPhysical > 0 {
		logger.Warn("non-physical parameter draws",
			zap.Int("count", p.NonPhysical),
			zap.String("hint", "reduce gaussian noise or use exponential noise"))
	}
	return p, nil
}

func discretizeAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = timescale.Discretize(x)
	}
	return out
}
