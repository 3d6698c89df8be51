package epi

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"policysim/internal/axis"
)

// BaselineGuard is the number of fine steps dropped from the end of the
// pre-policy window so near-onset steps do not leak into the baseline.
const BaselineGuard = 20

// Truth is the sample-pooled growth rate attribution: Intercept is the
// no-policy level over (gamma, sigma) and Effect the marginal change per
// policy over (policy, gamma, sigma).
type Truth struct {
	Intercept *axis.Tensor
	Effect    *axis.Tensor
}

// TrueEffects attributes the realized growth rate lambda (sample, t,
// gamma, sigma) to policies using the activation series (sample, t,
// policy). baselineEnd is the first fine step of the earliest onset
// interval. Pooled levels pass through units before they are differenced;
// a nil units keeps the input rate units. Converting first makes a daily
// effect equal the configured effect exactly; differencing the discrete
// levels and converting the difference instead gives a slightly larger
// magnitude (about -0.158 for a -0.15 policy at four steps per day).
func TrueEffects(lambda, series *axis.Tensor, baselineEnd int, units func(float64) float64) (Truth, error) {
	lam, err := lambda.Transpose(axis.Sample, axis.T, axis.Gamma, axis.Sigma)
	if err != nil {
		return Truth{}, err
	}
	ser, err := series.Transpose(axis.Sample, axis.T, axis.Policy)
	if err != nil {
		return Truth{}, err
	}
	samples, steps := lam.Size(axis.Sample), lam.Size(axis.T)
	if ser.Size(axis.Sample) != samples || ser.Size(axis.T) != steps {
		return Truth{}, fmt.Errorf("%w: lambda %s vs series %s", axis.ErrAxisMismatch, lam, ser)
	}
	nPolicies := ser.Size(axis.Policy)
	grid := []axis.Axis{
		{Name: axis.Gamma, Size: lam.Size(axis.Gamma)},
		{Name: axis.Sigma, Size: lam.Size(axis.Sigma)},
	}
	cells := grid[0].Size * grid[1].Size

	cut := baselineEnd - BaselineGuard
	levels := make([]*axis.Tensor, 0, nPolicies+1)
	levels = append(levels, pooledLevel(lam, cells, func(_, t int) bool { return t < cut }, true))
	for p := 0; p < nPolicies; p++ {
		exactlyOne := func(s, t int) bool {
			total := 0.0
			for q := p; q < nPolicies; q++ {
				total += ser.At(s, t, q)
			}
			return total == 1
		}
		levels = append(levels, pooledLevel(lam, cells, exactlyOne, false))
	}

	stacked, err := axis.Stack(axis.Policy, levels...)
	if err != nil {
		return Truth{}, err
	}
	if units != nil {
		for i, v := range stacked.Data() {
			stacked.Data()[i] = units(v)
		}
	}
	intercept, err := stacked.Select(axis.Policy, 0)
	if err != nil {
		return Truth{}, err
	}
	effect := axis.New(append([]axis.Axis{{Name: axis.Policy, Size: nPolicies}}, grid...)...)
	src, dst := stacked.Data(), effect.Data()
	for p := 0; p < nPolicies; p++ {
		for k := 0; k < cells; k++ {
			dst[p*cells+k] = src[(p+1)*cells+k] - src[p*cells+k]
		}
	}
	return Truth{Intercept: intercept, Effect: effect}, nil
}

// pooledLevel averages lambda over the selected steps of each sample and
// pools the per-sample means weighted by their step counts. With
// countAll every selected step counts towards the weight, otherwise only
// the non-NaN values do.
func pooledLevel(lam *axis.Tensor, cells int, selected func(s, t int) bool, countAll bool) *axis.Tensor {
	samples, steps := lam.Size(axis.Sample), lam.Size(axis.T)
	data := lam.Data()
	out := axis.New(axis.Axis{Name: axis.Gamma, Size: lam.Size(axis.Gamma)}, axis.Axis{Name: axis.Sigma, Size: lam.Size(axis.Sigma)})

	means := make([][]float64, cells)
	weights := make([][]float64, cells)
	picked := make([]bool, steps)
	vals := make([]float64, 0, steps)
	for s := 0; s < samples; s++ {
		n := 0
		for t := 0; t < steps; t++ {
			picked[t] = selected(s, t)
			if picked[t] {
				n++
			}
		}
		for k := 0; k < cells; k++ {
			vals = vals[:0]
			for t := 0; t < steps; t++ {
				if !picked[t] {
					continue
				}
				v := data[(s*steps+t)*cells+k]
				if !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				continue
			}
			w := float64(len(vals))
			if countAll {
				w = float64(n)
			}
			means[k] = append(means[k], stat.Mean(vals, nil))
			weights[k] = append(weights[k], w)
		}
	}
	for k := 0; k < cells; k++ {
		if len(means[k]) == 0 {
			out.Data()[k] = math.NaN()
			continue
		}
		out.Data()[k] = stat.Mean(means[k], weights[k])
	}
	return out
}
