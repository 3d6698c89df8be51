// Package pipeline runs a batch of simulated epidemics under randomized
// policy schedules and regresses the policy effects back out of the
// daily observations.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policysim/internal/axis"
	"policysim/internal/epi"
	"policysim/internal/metrics"
	"policysim/internal/policy"
	"policysim/internal/regress"
	"policysim/internal/timescale"
)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	workers int
}

type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithWorkers overrides Config.Workers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// SimulateAndRegress runs cfg end to end. All random draws come from a
// single PCG stream seeded by cfg.Seed and happen before any fan-out, so
// the result does not depend on the worker count.
func SimulateAndRegress(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	o := options{logger: zap.NewNop(), workers: cfg.Workers}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := epi.ParseKind(cfg.Kind)
	logger := o.logger.With(zap.String("kind", kind.Name()), zap.Uint64("seed", cfg.Seed))
	started := time.Now()

	lhs := outcomeNames(kind, cfg.LHS)
	policies := cfg.policies()
	names := policy.Names(policies)
	spd := cfg.StepsPerDay
	fineSteps := cfg.NDays*spd + 1
	tstep := 1 / float64(spd)
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))

	stage := time.Now()
	timing, err := policy.Generate(rng, policy.Request{
		Policies:    policies,
		Samples:     cfg.NSamples,
		FineSteps:   fineSteps,
		StepsPerDay: spd,
		RandomEnd:   cfg.RandomEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("policy timing: %w", err)
	}
	effects, err := policy.EffectSeries(timing, policies)
	if err != nil {
		return nil, fmt.Errorf("policy effects: %w", err)
	}
	o.metrics.ObserveStage("policy", time.Since(stage))

	stage = time.Now()
	noise := func(spec NoiseSpec) epi.Noise {
		model, _ := epi.ParseNoise(spec.Model)
		return epi.Noise{Model: model, SD: spec.SD / math.Sqrt(float64(spd))}
	}
	params, err := epi.Sample(rng, epi.SampleInput{
		Kind:       kind,
		Growth:     cfg.NoPolicyGrowthRate,
		Effects:    effects,
		TStep:      tstep,
		Gamma:      timescale.FromDailyAll(cfg.Gamma, tstep),
		Sigma:      timescale.FromDailyAll(cfg.sigmaGrid(kind), tstep),
		BetaNoise:  noise(cfg.BetaNoise),
		GammaNoise: noise(cfg.GammaNoise),
		SigmaNoise: noise(cfg.SigmaNoise),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sample parameters: %w", err)
	}
	o.metrics.AddNonPhysical(params.NonPhysical)
	o.metrics.ObserveStage("sample", time.Since(stage))

	stage = time.Now()
	ic := epi.InitialConditions{
		E0: cfg.E0 / cfg.Population,
		I0: cfg.I0 / cfg.Population,
		R0: cfg.R0 / cfg.Population,
	}
	traj, err := epi.Simulate(ctx, kind, ic, params, o.workers)
	if err != nil {
		return nil, err
	}
	negative := traj.NegativeCells()
	if negative > 0 {
		logger.Debug("negative compartment values", zap.Int("cells", negative))
	}
	o.metrics.AddNegativeCells(negative)
	sMin, sMinLastPolicy, err := traj.Depletion(timing.Series)
	if err != nil {
		return nil, fmt.Errorf("depletion: %w", err)
	}
	o.metrics.ObserveStage("simulate", time.Since(stage))

	truth, err := epi.TrueEffects(params.LambdaStoch, timing.Series, policy.FirstStart(policies)*spd,
		func(v float64) float64 { return timescale.ScalarToDaily(v, tstep) })
	if err != nil {
		return nil, fmt.Errorf("true effects: %w", err)
	}

	stage = time.Now()
	fine := map[string]*axis.Tensor{
		"beta_stoch":   params.BetaStoch,
		"gamma_stoch":  params.GammaStoch,
		"sigma_stoch":  params.SigmaStoch,
		"lambda_stoch": params.LambdaStoch,
	}
	for _, name := range epi.Observables(kind) {
		if fine[name], err = traj.Observable(name); err != nil {
			return nil, err
		}
	}
	observables, rates, err := toDaily(fine, spd)
	if err != nil {
		return nil, err
	}
	dailySeries, err := timescale.Subsample(timing.Series, spd)
	if err != nil {
		return nil, fmt.Errorf("daily policy series: %w", err)
	}
	o.metrics.ObserveStage("daily", time.Since(stage))

	stage = time.Now()
	in := regress.Input{
		LHS:      lhs,
		Outcomes: observables,
		Cases:    observables["IR"],
		MinCases: cfg.MinCases / cfg.Population,
		Series:   dailySeries,
		Policies: names,
		Lags:     cfg.RegLags,
	}
	if cfg.RandomEnd {
		in.RandomEnd = timing.RandomEnd
		in.LastOnset = make([]int, cfg.NSamples)
		for s := range in.LastOnset {
			in.LastOnset[s] = timing.LastOnset(s)
		}
	}
	driver := regress.Driver{Workers: o.workers, Logger: logger}
	if o.metrics != nil {
		driver.Recorder = o.metrics
	}
	est, err := driver.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveStage("regress", time.Since(stage))

	days := make([]float64, cfg.NDays)
	for d := range days {
		days[d] = float64(d)
	}
	res := &Result{
		RunID:          uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Config:         cfg,
		Kind:           kind.Name(),
		Days:           days,
		Gamma:          axis.Coords(timescale.GridToDaily(params.GammaDet.Data(), tstep)),
		Sigma:          axis.Coords(timescale.GridToDaily(params.SigmaDet.Data(), tstep)),
		Policies:       names,
		LHS:            lhs,
		Regressors:     est.Regressors,
		Observables:    observables,
		PolicySeries:   dailySeries,
		Onsets:         timing.Onsets,
		LastRegDay:     est.LastRegDay,
		Rates:          rates,
		TrueIntercept:  truth.Intercept,
		TrueEffect:     truth.Effect,
		Coefficients:   est.Coefficients,
		SMin:           sMin,
		SMinLastPolicy: sMinLastPolicy,
		NonPhysical:    params.NonPhysical,
		NegativeCells:  negative,
		Attempted:      est.Attempted,
		Missing:        est.Missing,
	}
	o.metrics.RunDone()
	logger.Info("simulate and regress finished",
		zap.String("run_id", res.RunID),
		zap.Int("samples", cfg.NSamples),
		zap.Int("regressions", est.Attempted),
		zap.Int("nonphysical", params.NonPhysical),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

// toDaily compounds rate variables over each day and subsamples the
// state variables.
func toDaily(fine map[string]*axis.Tensor, spd int) (states, rates map[string]*axis.Tensor, err error) {
	states = make(map[string]*axis.Tensor)
	rates = make(map[string]*axis.Tensor)
	for name, tn := range fine {
		if timescale.IsRateName(name) {
			rates[name], err = timescale.ToDaily(tn, spd)
		} else {
			states[name], err = timescale.Subsample(tn, spd)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("daily %s: %w", name, err)
		}
	}
	return states, rates, nil
}
