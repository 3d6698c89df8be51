package stats

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"policysim/internal/axis"
	"policysim/internal/model"
	"policysim/internal/pipeline"
	"policysim/internal/regress"
	"policysim/internal/storage"
)

// EffectSummary describes the spread of one coefficient across samples
// and the parameter grid. Truth is NaN for regressors without a true
// counterpart.
type EffectSummary struct {
	LHS       string
	Regressor string
	Fitted    int
	Total     int
	Mean      float64
	Std       float64
	Min       float64
	Max       float64
	Truth     float64
}

// Bias is Mean - Truth.
func (e EffectSummary) Bias() float64 { return e.Mean - e.Truth }

// Summarize reports every (lhs, regressor) coefficient of res.
func Summarize(res *pipeline.Result) ([]EffectSummary, error) {
	coef, err := res.Coefficients.Transpose(axis.LHS, axis.Regressor, axis.Gamma, axis.Sigma, axis.Sample)
	if err != nil {
		return nil, err
	}
	nLHS, nReg := coef.Size(axis.LHS), coef.Size(axis.Regressor)
	cells := coef.Len() / max(nLHS*nReg, 1)
	data := coef.Data()

	out := make([]EffectSummary, 0, nLHS*nReg)
	vals := make([]float64, 0, cells)
	for c := 0; c < nLHS; c++ {
		for k := 0; k < nReg; k++ {
			vals = vals[:0]
			off := (c*nReg + k) * cells
			for _, v := range data[off : off+cells] {
				if !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			s := EffectSummary{
				LHS:       res.LHS[c],
				Regressor: res.Regressors[k],
				Fitted:    len(vals),
				Total:     cells,
				Mean:      math.NaN(),
				Std:       math.NaN(),
				Min:       math.NaN(),
				Max:       math.NaN(),
				Truth:     truthFor(res, res.Regressors[k]),
			}
			if len(vals) > 0 {
				s.Mean, s.Std = stat.MeanStdDev(vals, nil)
				s.Min, s.Max = floats.Min(vals), floats.Max(vals)
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// truthFor maps a regressor to its true value: the pooled intercept for
// the intercept column and the policy effect for the shortest lag.
func truthFor(res *pipeline.Result, regressor string) float64 {
	if regressor == regress.Intercept {
		vals := finite(res.TrueIntercept.Data())
		if len(vals) == 0 {
			return math.NaN()
		}
		return stat.Mean(vals, nil)
	}
	name, lagText, ok := strings.Cut(regressor, "_lag")
	if !ok || len(res.Config.RegLags) == 0 {
		return math.NaN()
	}
	lag, err := strconv.Atoi(lagText)
	if err != nil || lag != slices.Min(res.Config.RegLags) {
		return math.NaN()
	}
	v, err := res.TrueEffectOf(name)
	if err != nil {
		return math.NaN()
	}
	return v
}

func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// IndexRecord builds the run index entry for res stored at resultPath.
func IndexRecord(res *pipeline.Result, resultPath string) (model.RunRecord, error) {
	summaries, err := Summarize(res)
	if err != nil {
		return model.RunRecord{}, err
	}
	rec := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              res.RunID,
		CreatedAt:       res.CreatedAt,
		Kind:            res.Kind,
		Population:      res.Config.Population,
		Seed:            res.Config.Seed,
		Samples:         res.Config.NSamples,
		Days:            res.Config.NDays,
		Lags:            slices.Clone(res.Config.RegLags),
		Policies:        slices.Clone(res.Policies),
		ResultPath:      resultPath,
		Attempted:       res.Attempted,
		NonPhysical:     res.NonPhysical,
	}
	if len(res.Missing) > 0 {
		rec.Missing = make(map[string]int, len(res.Missing))
		for reason, n := range res.Missing {
			rec.Missing[string(reason)] = n
		}
	}
	for _, s := range summaries {
		est := model.EffectEstimate{LHS: s.LHS, Regressor: s.Regressor, Fitted: s.Fitted}
		if !math.IsNaN(s.Mean) {
			mean := s.Mean
			est.Mean = &mean
		}
		if !math.IsNaN(s.Truth) {
			truth := s.Truth
			est.TrueEffect = &truth
		}
		rec.Estimates = append(rec.Estimates, est)
	}
	return rec, nil
}
