// Package metrics collects batch-run counters on a private registry and
// exports them in the node exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"policysim/internal/regress"
)

const namespace = "policysim"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Runs          prometheus.Counter
	NonPhysical   prometheus.Counter
	NegativeCells prometheus.Counter
	Cells         *prometheus.CounterVec
	CellLatency   prometheus.Histogram
	StageLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Runs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed simulate-and-regress runs",
		}),
		NonPhysical: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonphysical_draws_total",
			Help:      "Stochastic rate draws at or below zero",
		}),
		NegativeCells: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "negative_cells_total",
			Help:      "Compartment values that drifted below zero",
		}),
		Cells: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "regress",
			Name:      "cells_total",
			Help:      "Regression cells by outcome",
		}, []string{"reason"}),
		CellLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "regress",
			Name:      "cell_duration_seconds",
			Help:      "Time to fit one regression cell",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RunDone() {
	if m == nil {
		return
	}
	m.Runs.Inc()
}

func (m *Metrics) AddNonPhysical(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NonPhysical.Add(float64(n))
}

func (m *Metrics) AddNegativeCells(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NegativeCells.Add(float64(n))
}

// CellDone implements regress.Recorder.
func (m *Metrics) CellDone(reason regress.Reason, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Cells.WithLabelValues(string(reason)).Inc()
	m.CellLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// WriteTextfile writes every registered metric to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
