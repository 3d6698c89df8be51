// Package epi holds the compartmental epidemic models: the rate formulas
// per model kind, stochastic parameter sampling, forward simulation and
// the ground-truth policy effect estimator.
package epi

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrUnknownKind = errors.New("unknown epidemic kind")

// Kind relates the transmission rate beta to the exponential growth rate
// lambda for one compartmental model.
type Kind interface {
	Name() string
	Beta(lambda, gamma, sigma float64) float64
	Lambda(beta, gamma, sigma float64) float64
	// HasExposed reports whether the model carries an E compartment and a
	// sigma rate.
	HasExposed() bool
}

type SIR struct{}

func (SIR) Name() string { return "SIR" }

func (SIR) Beta(lambda, gamma, _ float64) float64 { return lambda + gamma }

func (SIR) Lambda(beta, gamma, _ float64) float64 { return beta - gamma }

func (SIR) HasExposed() bool { return false }

type SEIR struct{}

func (SEIR) Name() string { return "SEIR" }

func (SEIR) Beta(lambda, gamma, sigma float64) float64 {
	return (lambda + gamma) * (lambda + sigma) / sigma
}

// Lambda is the positive root of the SEIR characteristic equation.
func (SEIR) Lambda(beta, gamma, sigma float64) float64 {
	d := sigma - gamma
	return (-(sigma + gamma) + math.Sqrt(d*d+4*sigma*beta)) / 2
}

func (SEIR) HasExposed() bool { return true }

func ParseKind(name string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SIR":
		return SIR{}, nil
	case "SEIR":
		return SEIR{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}
