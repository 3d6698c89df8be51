package regress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"policysim/internal/axis"
)

const Intercept = "Intercept"

// Reason records how a regression cell ended.
type Reason string

const (
	ReasonFitted      Reason = "fitted"
	ReasonNoValidDays Reason = "no_valid_days"
	ReasonNoBaseline  Reason = "no_baseline"
	ReasonNoPolicy    Reason = "no_policy"
	ReasonSingular    Reason = "singular"
)

// Recorder observes finished cells. metrics.Metrics implements it.
type Recorder interface {
	CellDone(reason Reason, elapsed time.Duration)
}

// Input is the daily data the regressions run on. Observables are laid
// out (t, sample, gamma, sigma); Series is (sample, t, policy).
type Input struct {
	LHS      []string
	Outcomes map[string]*axis.Tensor
	// Cases is the cumulative case fraction used for the validity threshold.
	Cases    *axis.Tensor
	MinCases float64

	Series   *axis.Tensor
	Policies []string
	Lags     []int

	// RandomEnd, when set, holds one U[0,1) fraction per sample and
	// LastOnset the day of each sample's final policy onset.
	RandomEnd []float64
	LastOnset []int
}

// Estimates holds the coefficient tensor over (gamma, sigma, sample, lhs,
// regressor); cells that could not be fitted are NaN.
type Estimates struct {
	Coefficients *axis.Tensor
	Regressors   []string
	LastRegDay   []int
	Attempted    int
	Missing      map[Reason]int
}

type Driver struct {
	Workers  int
	Logger   *zap.Logger
	Recorder Recorder
}

// RegressorNames lists the design columns: the intercept, then one
// column per lag and policy, lag-major.
func RegressorNames(policies []string, lags []int) []string {
	out := []string{Intercept}
	for _, l := range lags {
		for _, p := range policies {
			out = append(out, fmt.Sprintf("%s_lag%d", p, l))
		}
	}
	return out
}

// LastRegressionDay is the final day a sample's regression may use:
// lastOnset + round(frac*(days-lastOnset-1)) + 1.
func LastRegressionDay(lastOnset int, frac float64, days int) int {
	return lastOnset + int(math.RoundToEven(frac*float64(days-lastOnset-1))) + 1
}

// LogDiff returns log(x[t+1]) - log(x[t]) along t, NaN at the final day.
func LogDiff(tn *axis.Tensor) (*axis.Tensor, error) {
	j := tn.Index(axis.T)
	if j < 0 {
		return nil, fmt.Errorf("%w: %s", axis.ErrUnknownAxis, axis.T)
	}
	n := tn.Size(axis.T)
	stride := tn.Stride(axis.T)
	out := axis.New(tn.Axes()...)
	src, dst := tn.Data(), out.Data()
	for i := range dst {
		t := (i / stride) % n
		if t == n-1 {
			dst[i] = math.NaN()
			continue
		}
		dst[i] = math.Log(src[i+stride]) - math.Log(src[i])
	}
	return out, nil
}

type cell struct {
	lhs, gamma, sigma, sample int
}

type prepared struct {
	days, samples, gammas, sigmas int
	nPolicies                     int
	minCases                      float64
	outcomes                      []*axis.Tensor
	cases                         *axis.Tensor
	active                        []bool // (sample, day, policy)
	firstPolicy                   []int
	lastRegDay                    []int
}

var stateOrder = []string{axis.T, axis.Sample, axis.Gamma, axis.Sigma}

// Run fits every (lhs, gamma, sigma, sample) cell. Cells are independent
// and run on a bounded pool; failures leave their cell NaN.
func (d Driver) Run(ctx context.Context, in Input) (Estimates, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pr, err := prepare(in)
	if err != nil {
		return Estimates{}, err
	}

	regressors := RegressorNames(in.Policies, in.Lags)
	coef := axis.Full(math.NaN(),
		axis.Axis{Name: axis.Gamma, Size: pr.gammas},
		axis.Axis{Name: axis.Sigma, Size: pr.sigmas},
		axis.Axis{Name: axis.Sample, Size: pr.samples},
		axis.Axis{Name: axis.LHS, Size: len(in.LHS)},
		axis.Axis{Name: axis.Regressor, Size: len(regressors)},
	)

	cells := make([]cell, 0, len(in.LHS)*pr.gammas*pr.sigmas*pr.samples)
	for c := range in.LHS {
		for g := 0; g < pr.gammas; g++ {
			for sg := 0; sg < pr.sigmas; sg++ {
				for s := 0; s < pr.samples; s++ {
					cells = append(cells, cell{lhs: c, gamma: g, sigma: sg, sample: s})
				}
			}
		}
	}
	reasons := make([]Reason, len(cells))

	workers := max(d.Workers, 1)
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)
	for i, cl := range cells {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			reason, params := pr.fit(cl, in.Lags)
			if params != nil {
				width := len(regressors)
				off := (((cl.gamma*pr.sigmas+cl.sigma)*pr.samples+cl.sample)*len(in.LHS) + cl.lhs) * width
				copy(coef.Data()[off:off+width], params)
			}
			reasons[i] = reason
			if d.Recorder != nil {
				d.Recorder.CellDone(reason, time.Since(start))
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return Estimates{}, fmt.Errorf("regress: %w", err)
	}

	est := Estimates{
		Coefficients: coef,
		Regressors:   regressors,
		LastRegDay:   pr.lastRegDay,
		Missing:      make(map[Reason]int),
	}
	for _, r := range reasons {
		if r == ReasonNoValidDays || r == ReasonNoBaseline || r == ReasonNoPolicy {
			est.Missing[r]++
			continue
		}
		est.Attempted++
		if r != ReasonFitted {
			est.Missing[r]++
		}
	}
	logger.Debug("regressions finished",
		zap.Int("cells", len(cells)),
		zap.Int("attempted", est.Attempted),
		zap.Any("missing", est.Missing))
	return est, nil
}

func prepare(in Input) (*prepared, error) {
	if len(in.LHS) == 0 {
		return nil, errors.New("regress: no outcome variables")
	}
	if in.Cases == nil || in.Series == nil {
		return nil, errors.New("regress: cases and policy series are required")
	}
	cases, err := in.Cases.Transpose(stateOrder...)
	if err != nil {
		return nil, fmt.Errorf("regress cases: %w", err)
	}
	pr := &prepared{
		days:     cases.Size(axis.T),
		samples:  cases.Size(axis.Sample),
		gammas:   cases.Size(axis.Gamma),
		sigmas:   cases.Size(axis.Sigma),
		minCases: in.MinCases,
		cases:    cases,
	}
	for _, name := range in.LHS {
		raw, ok := in.Outcomes[name]
		if !ok {
			return nil, fmt.Errorf("regress: missing outcome %q", name)
		}
		aligned, err := raw.Transpose(stateOrder...)
		if err != nil {
			return nil, fmt.Errorf("regress outcome %s: %w", name, err)
		}
		if aligned.Len() != cases.Len() {
			return nil, fmt.Errorf("regress outcome %s: %w", name, axis.ErrAxisMismatch)
		}
		ld, err := LogDiff(aligned)
		if err != nil {
			return nil, err
		}
		pr.outcomes = append(pr.outcomes, ld)
	}

	series, err := in.Series.Transpose(axis.Sample, axis.T, axis.Policy)
	if err != nil {
		return nil, fmt.Errorf("regress series: %w", err)
	}
	if series.Size(axis.Sample) != pr.samples || series.Size(axis.T) != pr.days {
		return nil, fmt.Errorf("regress series %s vs cases %s: %w", series, cases, axis.ErrAxisMismatch)
	}
	pr.nPolicies = series.Size(axis.Policy)
	if len(in.Policies) != pr.nPolicies {
		return nil, fmt.Errorf("regress: %d policy names for %d policies", len(in.Policies), pr.nPolicies)
	}
	pr.active = make([]bool, series.Len())
	pr.firstPolicy = make([]int, pr.samples)
	for s := 0; s < pr.samples; s++ {
		pr.firstPolicy[s] = -1
		for t := 0; t < pr.days; t++ {
			for p := 0; p < pr.nPolicies; p++ {
				idx := (s*pr.days+t)*pr.nPolicies + p
				pr.active[idx] = series.Data()[idx] > 0
				if pr.active[idx] && pr.firstPolicy[s] < 0 {
					pr.firstPolicy[s] = t
				}
			}
		}
	}

	pr.lastRegDay = make([]int, pr.samples)
	for s := range pr.lastRegDay {
		pr.lastRegDay[s] = pr.days
		if in.RandomEnd != nil {
			if len(in.RandomEnd) != pr.samples || len(in.LastOnset) != pr.samples {
				return nil, errors.New("regress: random end needs one fraction and onset per sample")
			}
			pr.lastRegDay[s] = LastRegressionDay(in.LastOnset[s], in.RandomEnd[s], pr.days)
		}
	}
	return pr, nil
}

// fit runs one cell. params is nil unless the fit succeeded.
func (pr *prepared) fit(cl cell, lags []int) (Reason, []float64) {
	cols := pr.sigmas * pr.gammas * pr.samples
	col := (cl.sample*pr.gammas+cl.gamma)*pr.sigmas + cl.sigma
	cases := pr.cases.Data()

	firstValid := -1
	for t := 0; t < pr.days; t++ {
		if cases[t*cols+col] >= pr.minCases {
			firstValid = t
			break
		}
	}
	if firstValid < 0 {
		return ReasonNoValidDays, nil
	}
	if pr.firstPolicy[cl.sample] < 0 {
		return ReasonNoPolicy, nil
	}
	if pr.firstPolicy[cl.sample] <= firstValid {
		return ReasonNoBaseline, nil
	}

	width := 1 + len(lags)*pr.nPolicies
	y := pr.outcomes[cl.lhs].Data()
	var xs, ys []float64
	row := make([]float64, width)
	for t := firstValid; t < pr.days; t++ {
		if cases[t*cols+col] < pr.minCases || t > pr.lastRegDay[cl.sample] {
			continue
		}
		v := y[t*cols+col]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		row[0] = 1
		k := 1
		for _, l := range lags {
			for p := 0; p < pr.nPolicies; p++ {
				row[k] = 0
				if src := t - l; src >= 0 && src < pr.days && pr.active[(cl.sample*pr.days+src)*pr.nPolicies+p] {
					row[k] = 1
				}
				k++
			}
		}
		xs = append(xs, row...)
		ys = append(ys, v)
	}
	if len(ys) == 0 {
		return ReasonNoValidDays, nil
	}

	params, err := OLS(mat.NewDense(len(ys), width, xs), mat.NewVecDense(len(ys), ys))
	if err != nil {
		return ReasonSingular, nil
	}
	return ReasonFitted, params
}
