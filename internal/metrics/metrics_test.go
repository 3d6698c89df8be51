package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"policysim/internal/regress"
)

func TestWriteTextfileExportsCounters(t *testing.T) {
	m := New()
	m.RunDone()
	m.AddNonPhysical(7)
	m.AddNegativeCells(0)
	m.CellDone(regress.ReasonFitted, time.Millisecond)
	m.CellDone(regress.ReasonFitted, time.Millisecond)
	m.CellDone(regress.ReasonNoBaseline, time.Millisecond)
	m.ObserveStage("simulate", 2*time.Second)

	path := filepath.Join(t.TempDir(), "policysim.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		"policysim_runs_total 1",
		"policysim_nonphysical_draws_total 7",
		"policysim_simulator_negative_cells_total 0",
		`policysim_regress_cells_total{reason="fitted"} 2`,
		`policysim_regress_cells_total{reason="no_baseline"} 1`,
		`policysim_stage_duration_seconds_count{stage="simulate"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("textfile missing %q:\n%s", want, text)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunDone()
	m.AddNonPhysical(3)
	m.CellDone(regress.ReasonSingular, time.Second)
	m.ObserveStage("regress", time.Second)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Fatalf("nil write: %v", err)
	}
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestSeparateInstancesDoNotShareState(t *testing.T) {
	a, b := New(), New()
	a.RunDone()
	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "policysim_runs_total" && f.GetMetric()[0].GetCounter().GetValue() != 0 {
			t.Fatal("runs counter leaked across registries")
		}
	}
}
