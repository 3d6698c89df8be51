package epi

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"policysim/internal/axis"
	"policysim/internal/policy"
)

// InitialConditions are population fractions at t=0; S is the remainder.
type InitialConditions struct {
	E0 float64
	I0 float64
	R0 float64
}

// Trajectory holds compartment fractions over (t, sample, gamma, sigma).
// E is nil for models without an exposed compartment.
type Trajectory struct {
	Kind Kind
	S    *axis.Tensor
	E    *axis.Tensor
	I    *axis.Tensor
	R    *axis.Tensor
}

var stateOrder = []string{axis.T, axis.Sample, axis.Gamma, axis.Sigma}

// Simulate integrates kind forward over the time axis of p. Columns
// (every non-time index) are independent and are split across workers;
// each worker owns the full time loop for its columns.
func Simulate(ctx context.Context, kind Kind, ic InitialConditions, p Params, workers int) (Trajectory, error) {
	beta, err := p.BetaStoch.Transpose(stateOrder...)
	if err != nil {
		return Trajectory{}, err
	}
	gamma, err := p.GammaStoch.Transpose(stateOrder...)
	if err != nil {
		return Trajectory{}, err
	}
	sigma, err := p.SigmaStoch.Transpose(stateOrder...)
	if err != nil {
		return Trajectory{}, err
	}

	layout := beta.Axes()
	steps := layout[0].Size
	cols := beta.Len() / max(steps, 1)

	tr := Trajectory{
		Kind: kind,
		S:    axis.New(layout...),
		I:    axis.New(layout...),
		R:    axis.New(layout...),
	}
	e0 := ic.E0
	if kind.HasExposed() {
		tr.E = axis.New(layout...)
	} else {
		e0 = 0
	}

	st := &stepper{
		kind:  kind,
		cols:  cols,
		steps: steps,
		beta:  beta.Data(),
		gamma: gamma.Data(),
		sigma: sigma.Data(),
		s:     tr.S.Data(),
		i:     tr.I.Data(),
		r:     tr.R.Data(),
	}
	if tr.E != nil {
		st.e = tr.E.Data()
	}
	for c := 0; c < cols; c++ {
		st.s[c] = 1 - e0 - ic.I0 - ic.R0
		st.i[c] = ic.I0
		st.r[c] = ic.R0
		if st.e != nil {
			st.e[c] = e0
		}
	}

	if workers < 1 {
		workers = 1
	}
	chunk := (cols + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < cols; lo += chunk {
		hi := min(lo+chunk, cols)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st.run(lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Trajectory{}, fmt.Errorf("simulate: %w", err)
	}
	return tr, nil
}

type stepper struct {
	kind  Kind
	cols  int
	steps int

	beta, gamma, sigma []float64
	s, e, i, r         []float64
}

func (st *stepper) run(lo, hi int) {
	n := st.cols
	for t := 1; t < st.steps; t++ {
		prev, cur := (t-1)*n, t*n
		for c := lo; c < hi; c++ {
			p, k := prev+c, cur+c
			if st.e == nil {
				newInfectedRate := st.beta[p] * st.s[p]
				st.s[k] = st.s[p] - newInfectedRate*st.i[p]
				st.i[k] = st.i[p] * math.Exp(newInfectedRate-st.gamma[p])
				st.r[k] = 1 - st.s[k] - st.i[k]
				continue
			}
			newExposed := st.beta[p] * st.s[p] * st.i[p]
			newInfected := st.sigma[p] * st.e[p]
			newRemoved := st.gamma[p] * st.i[p]
			st.s[k] = st.s[p] - newExposed
			st.e[k] = st.e[p] + newExposed - newInfected
			st.i[k] = st.i[p] + newInfected - newRemoved
			st.r[k] = 1 - st.s[k] - st.e[k] - st.i[k]
		}
	}
}

// Observables lists the observable names available for kind.
func Observables(kind Kind) []string {
	if kind.HasExposed() {
		return []string{"S", "E", "I", "R", "IR", "EI", "EIR"}
	}
	return []string{"S", "I", "R", "IR"}
}

// Observable returns a compartment or a sum of compartments by name.
func (tr Trajectory) Observable(name string) (*axis.Tensor, error) {
	sum := func(parts ...*axis.Tensor) (*axis.Tensor, error) {
		for _, p := range parts {
			if p == nil {
				return nil, fmt.Errorf("observable %q needs an exposed compartment", name)
			}
		}
		return axis.Map(func(v []float64) float64 {
			total := 0.0
			for _, x := range v {
				total += x
			}
			return total
		}, parts...)
	}
	switch name {
	case "S":
		return tr.S, nil
	case "I":
		return tr.I, nil
	case "R":
		return tr.R, nil
	case "E":
		if tr.E == nil {
			return nil, fmt.Errorf("observable %q needs an exposed compartment", name)
		}
		return tr.E, nil
	case "IR":
		return sum(tr.I, tr.R)
	case "EI":
		return sum(tr.E, tr.I)
	case "EIR":
		return sum(tr.E, tr.I, tr.R)
	default:
		return nil, fmt.Errorf("unknown observable %q", name)
	}
}

// NegativeCells counts compartment values below zero, which explicit
// forward integration can produce near the bounds.
func (tr Trajectory) NegativeCells() int {
	neg := func(v float64) bool { return v < 0 }
	n := tr.S.Count(neg) + tr.I.Count(neg) + tr.R.Count(neg)
	if tr.E != nil {
		n += tr.E.Count(neg)
	}
	return n
}

// Depletion reports the susceptible fraction at the final step and at
// the step where the last policy of each sample switches on (NaN when it
// never does). Both are laid out (sample, gamma, sigma).
func (tr Trajectory) Depletion(series *axis.Tensor) (final, atLastPolicy *axis.Tensor, err error) {
	steps := tr.S.Size(axis.T)
	final, err = tr.S.Select(axis.T, steps-1)
	if err != nil {
		return nil, nil, err
	}

	atLastPolicy = axis.New(final.Axes()...)
	samples := final.Size(axis.Sample)
	block := final.Len() / max(samples, 1)
	src := tr.S.Data()
	cols := tr.S.Len() / max(steps, 1)
	dst := atLastPolicy.Data()
	for s := 0; s < samples; s++ {
		step := policy.LastActivation(series, s)
		for k := 0; k < block; k++ {
			if step < 0 {
				dst[s*block+k] = math.NaN()
				continue
			}
			dst[s*block+k] = src[step*cols+s*block+k]
		}
	}
	return final, atLastPolicy, nil
}
