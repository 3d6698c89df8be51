package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"policysim/internal/model"
)

func testRun(id string, created time.Time) model.RunRecord {
	mean := -0.14
	return model.RunRecord{
		VersionedRecord: Versioned(),
		ID:              id,
		CreatedAt:       created,
		Kind:            "SEIR",
		Population:      1e6,
		Seed:            3,
		Samples:         10,
		Days:            60,
		Lags:            []int{0, 1},
		Policies:        []string{"p1"},
		Attempted:       9,
		Missing:         map[string]int{"no_baseline": 1},
		Estimates:       []model.EffectEstimate{{LHS: "IR", Regressor: "p1_lag0", Mean: &mean, Fitted: 9}},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.SaveRun(ctx, testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save run %d: %v", i, err)
		}
	}

	got, ok, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected run-1")
	}
	if got.Attempted != 9 || got.Missing["no_baseline"] != 1 || *got.Estimates[0].Mean != -0.14 {
		t.Fatalf("unexpected run loaded: %+v", got)
	}
	if !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("created at %v", got.CreatedAt)
	}

	if _, ok, err := store.GetRun(ctx, "absent"); err != nil || ok {
		t.Fatalf("absent run: ok=%v err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-2" || runs[1].ID != "run-1" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	updated := testRun("run-0", base.Add(time.Hour))
	updated.Attempted = 10
	if err := store.SaveRun(ctx, updated); err != nil {
		t.Fatalf("upsert run: %v", err)
	}
	runs, err = store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list all runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-0" || runs[0].Attempted != 10 {
		t.Fatalf("expected upserted run first, got %+v", runs)
	}

	if err := store.DeleteRun(ctx, "run-2"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, ok, _ := store.GetRun(ctx, "run-2"); ok {
		t.Fatal("run-2 should be deleted")
	}

	if err := store.SaveRun(ctx, model.RunRecord{VersionedRecord: Versioned()}); err == nil {
		t.Fatal("expected error for run without id")
	}
}
