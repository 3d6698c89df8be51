package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"policysim/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRunRunsShowLoadDelete(t *testing.T) {
	base := t.TempDir()
	configPath := filepath.Join(base, "policysim.yaml")
	dbPath := filepath.Join(base, "policysim.db")
	resultsDir := filepath.Join(base, "results")
	metricsPath := filepath.Join(base, "policysim.prom")
	store := []string{"--store", "sqlite", "--db-path", dbPath, "--results-dir", resultsDir}

	if _, err := execute(t, "init", configPath); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "init", configPath); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	out, err := execute(t, append(store, "run", "--config", configPath, "--samples", "4", "--seed", "9", "--workers", "2", "--metrics-file", metricsPath)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "run_id=") || !strings.Contains(out, "lockdown_lag0") {
		t.Fatalf("unexpected run output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(resultsDir, "pop_1000000_lag_0.json")); err != nil {
		t.Fatalf("expected result file: %v", err)
	}
	metricsText, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(metricsText), "policysim_runs_total 1") {
		t.Fatalf("unexpected metrics:\n%s", metricsText)
	}

	out, err = execute(t, append(store, "runs", "--limit", "5")...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one run:\n%s", out)
	}
	runID := strings.Fields(lines[1])[0]

	out, err = execute(t, append(store, "show", "--latest")...)
	if err != nil {
		t.Fatalf("show latest: %v", err)
	}
	if !strings.Contains(out, "run_id="+runID) || !strings.Contains(out, "seed=9") || !strings.Contains(out, "samples=4") {
		t.Fatalf("unexpected show output:\n%s", out)
	}

	out, err = execute(t, append(store, "load", "--dir", resultsDir)...)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out, "loaded 1 results") {
		t.Fatalf("unexpected load output:\n%s", out)
	}

	if _, err := execute(t, append(store, "delete", runID)...); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, err = execute(t, append(store, "runs")...)
	if err != nil {
		t.Fatalf("runs after delete: %v", err)
	}
	if !strings.Contains(out, "no runs found") {
		t.Fatalf("expected empty index:\n%s", out)
	}
}

func TestRunRejectsBadOverrides(t *testing.T) {
	base := t.TempDir()
	store := []string{"--store", "memory", "--results-dir", filepath.Join(base, "results")}
	if _, err := execute(t, append(store, "run", "--kind", "SIS")...); err == nil || !strings.Contains(err.Error(), "SIS") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if _, err := execute(t, append(store, "run", "--config", filepath.Join(base, "missing.yaml"))...); err == nil {
		t.Fatal("expected missing config error")
	}
	if _, err := execute(t, append(store, "runs", "--limit", "0")...); err == nil {
		t.Fatal("expected limit error")
	}
	if _, err := execute(t, "--log-level", "chatty", "runs", "--store", "memory"); err == nil {
		t.Fatal("expected logger error for unknown level")
	}
}

func TestOverrideFromFlagsOnlyTouchesChangedFlags(t *testing.T) {
	cmd := newRunCmd(&app{})
	if err := cmd.ParseFlags([]string{"--samples", "7", "--lags", "0,3"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg := pipeline.Defaults()
	cfg.Seed = 42
	f := runFlags{samples: 7, lags: []int{0, 3}}
	overrideFromFlags(cmd, &cfg, f)
	if cfg.NSamples != 7 || len(cfg.RegLags) != 2 || cfg.RegLags[1] != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Seed != 42 || cfg.NDays != pipeline.Defaults().NDays {
		t.Fatalf("unset flags changed config: seed=%d days=%d", cfg.Seed, cfg.NDays)
	}
}
