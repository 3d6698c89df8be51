package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRuns(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	exerciseStore(t, store)
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), testRun("r", time.Now())); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestMemoryStoreCopiesSlices(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	run := testRun("r", time.Now())
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	run.Policies[0] = "mutated"
	got, _, _ := store.GetRun(ctx, "r")
	if got.Policies[0] != "p1" {
		t.Fatalf("stored run aliased caller slice: %v", got.Policies)
	}
}
