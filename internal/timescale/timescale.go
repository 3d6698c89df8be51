// Package timescale converts rate parameters between the fine simulation
// grid and the daily observation grid.
package timescale

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"policysim/internal/axis"
)

// CoordDecimals is the precision coordinate grids are rounded to after
// conversion back to daily units, so values group stably downstream.
const CoordDecimals = 5

var ErrStepsPerDay = errors.New("steps per day must be positive")

var rateNames = map[string]bool{
	"lambda": true,
	"beta":   true,
	"gamma":  true,
	"sigma":  true,
}

// IsRateName reports whether a variable name denotes a rate, judged by
// the prefix before the first underscore.
func IsRateName(name string) bool {
	prefix, _, _ := strings.Cut(name, "_")
	return rateNames[prefix]
}

// FromDaily converts a continuous daily rate to a per-fine-step rate.
func FromDaily(rate, tstep float64) float64 { return rate * tstep }

func FromDailyAll(rates []float64, tstep float64) []float64 {
	out := make([]float64, len(rates))
	for i, r := range rates {
		out[i] = FromDaily(r, tstep)
	}
	return out
}

// Discretize turns a continuous per-step rate into the discrete growth
// fraction over one step.
func Discretize(x float64) float64 { return math.Expm1(x) }

// Continuize is the inverse of Discretize.
func Continuize(x float64) float64 { return math.Log1p(x) }

// ScalarToDaily converts a discrete per-step rate without a time axis to
// a continuous daily rate: log((1+x)^(1/tstep)).
func ScalarToDaily(x, tstep float64) float64 {
	return Continuize(x) / tstep
}

// GridToDaily converts a swept coordinate grid and rounds it.
func GridToDaily(grid []float64, tstep float64) []float64 {
	out := make([]float64, len(grid))
	for i, x := range grid {
		out[i] = RoundCoord(ScalarToDaily(x, tstep))
	}
	return out
}

func RoundCoord(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	scale := math.Pow(10, CoordDecimals)
	return math.RoundToEven(x*scale) / scale
}

// DailySteps is the number of coarse steps produced from nFine fine
// steps: the final fine step is dropped before grouping.
func DailySteps(nFine, stepsPerDay int) int {
	if stepsPerDay <= 0 || nFine <= 1 {
		return 0
	}
	return (nFine - 1) / stepsPerDay
}

// ToDaily compounds a per-fine-step discrete rate over each day,
// producing sum(log(1+x)) per block of stepsPerDay steps along t.
func ToDaily(tn *axis.Tensor, stepsPerDay int) (*axis.Tensor, error) {
	return blocks(tn, stepsPerDay, func(lane []float64) float64 {
		total := 0.0
		for _, v := range lane {
			total += Continuize(v)
		}
		return total
	})
}

// Subsample keeps the first fine step of each day, for state variables
// and indicators.
func Subsample(tn *axis.Tensor, stepsPerDay int) (*axis.Tensor, error) {
	return blocks(tn, stepsPerDay, func(lane []float64) float64 { return lane[0] })
}

func blocks(tn *axis.Tensor, stepsPerDay int, reduce func(lane []float64) float64) (*axis.Tensor, error) {
	if stepsPerDay <= 0 {
		return nil, ErrStepsPerDay
	}
	j := tn.Index(axis.T)
	if j < 0 {
		return nil, fmt.Errorf("%w: %s", axis.ErrUnknownAxis, axis.T)
	}
	nFine := tn.Size(axis.T)
	nDays := DailySteps(nFine, stepsPerDay)

	axes := tn.Axes()
	axes[j].Size = nDays
	out := axis.New(axes...)

	src := tn.Data()
	dst := out.Data()
	fineStride := tn.Stride(axis.T)
	dayStride := out.Stride(axis.T)
	// outer: product of axes before t; inner: product after t
	inner := fineStride
	outer := 1
	for _, a := range axes[:j] {
		outer *= a.Size
	}
	lane := make([]float64, stepsPerDay)
	for o := 0; o < outer; o++ {
		for d := 0; d < nDays; d++ {
			for in := 0; in < inner; in++ {
				for k := 0; k < stepsPerDay; k++ {
					step := d*stepsPerDay + k
					lane[k] = src[o*nFine*fineStride+step*fineStride+in]
				}
				dst[o*nDays*dayStride+d*dayStride+in] = reduce(lane)
			}
		}
	}
	return out, nil
}
