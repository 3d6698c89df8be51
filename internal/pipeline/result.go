package pipeline

import (
	"fmt"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"policysim/internal/axis"
	"policysim/internal/regress"
)

// Result is the in-memory bundle of one run. Every tensor is on the daily
// grid; rates are continuous daily rates.
type Result struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Config    Config    `json:"config"`
	Kind      string    `json:"kind"`

	Days       []float64   `json:"days"`
	Gamma      axis.Coords `json:"gamma"`
	Sigma      axis.Coords `json:"sigma"`
	Policies   []string    `json:"policies"`
	LHS        []string    `json:"lhs"`
	Regressors []string    `json:"regressors"`

	// Observables are (t, sample, gamma, sigma) population fractions.
	Observables  map[string]*axis.Tensor `json:"observables"`
	PolicySeries *axis.Tensor            `json:"policy_series"`
	Onsets       [][]int                 `json:"onsets"`
	LastRegDay   []int                   `json:"last_reg_day"`
	// Rates holds beta_stoch, gamma_stoch, sigma_stoch and lambda_stoch
	// over (sample, t, gamma, sigma).
	Rates map[string]*axis.Tensor `json:"rates"`

	TrueIntercept *axis.Tensor `json:"true_intercept"`
	TrueEffect    *axis.Tensor `json:"true_effect"`
	// Coefficients are (gamma, sigma, sample, lhs, regressor).
	Coefficients *axis.Tensor `json:"coefficients"`

	SMin           *axis.Tensor `json:"s_min"`
	SMinLastPolicy *axis.Tensor `json:"s_min_last_policy"`

	NonPhysical   int                    `json:"nonphysical_draws"`
	NegativeCells int                    `json:"negative_cells"`
	Attempted     int                    `json:"regressions_attempted"`
	Missing       map[regress.Reason]int `json:"regressions_missing"`
}

// MeanCoefficient averages one coefficient over gamma, sigma and samples,
// skipping missing cells. n is the number of fitted cells.
func (r *Result) MeanCoefficient(lhs, regressor string) (mean float64, n int, err error) {
	c := slices.Index(r.LHS, lhs)
	if c < 0 {
		return 0, 0, fmt.Errorf("unknown outcome %q", lhs)
	}
	k := slices.Index(r.Regressors, regressor)
	if k < 0 {
		return 0, 0, fmt.Errorf("unknown regressor %q", regressor)
	}
	byLHS, err := r.Coefficients.Select(axis.LHS, c)
	if err != nil {
		return 0, 0, err
	}
	cells, err := byLHS.Select(axis.Regressor, k)
	if err != nil {
		return 0, 0, err
	}
	vals := make([]float64, 0, cells.Len())
	for _, v := range cells.Data() {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), 0, nil
	}
	return stat.Mean(vals, nil), len(vals), nil
}

// TrueEffectOf is the pooled true effect of a policy averaged over the
// gamma and sigma grid.
func (r *Result) TrueEffectOf(name string) (float64, error) {
	p := slices.Index(r.Policies, name)
	if p < 0 {
		return 0, fmt.Errorf("unknown policy %q", name)
	}
	cells, err := r.TrueEffect.Select(axis.Policy, p)
	if err != nil {
		return 0, err
	}
	vals := make([]float64, 0, cells.Len())
	for _, v := range cells.Data() {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN(), nil
	}
	return stat.Mean(vals, nil), nil
}
