package stats

import (
	"math"
	"testing"
)

func TestSummarizeAttachesTruth(t *testing.T) {
	res := smallResult(t, 1e6, []int{0, 2})
	summaries, err := Summarize(res)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected intercept and two lags, got %d", len(summaries))
	}
	byName := map[string]EffectSummary{}
	for _, s := range summaries {
		byName[s.Regressor] = s
		if s.Total != res.Config.NSamples {
			t.Fatalf("%s: total %d", s.Regressor, s.Total)
		}
	}
	if got := byName["Intercept"].Truth; math.Abs(got-0.2) > 1e-9 {
		t.Fatalf("intercept truth %f", got)
	}
	if got := byName["p1_lag0"].Truth; math.Abs(got+0.15) > 1e-9 {
		t.Fatalf("lag0 truth %f", got)
	}
	if !math.IsNaN(byName["p1_lag2"].Truth) {
		t.Fatal("longer lags have no direct truth")
	}
	lag0 := byName["p1_lag0"]
	if lag0.Fitted > 0 && (lag0.Min > lag0.Mean || lag0.Max < lag0.Mean) {
		t.Fatalf("inconsistent spread %+v", lag0)
	}
}

func TestIndexRecord(t *testing.T) {
	res := smallResult(t, 1e6, []int{0})
	rec, err := IndexRecord(res, "results/x.json")
	if err != nil {
		t.Fatalf("index record: %v", err)
	}
	if rec.ID != res.RunID || rec.Kind != "SIR" || rec.Samples != 4 || rec.ResultPath != "results/x.json" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Estimates) != 2 {
		t.Fatalf("expected two estimates, got %+v", rec.Estimates)
	}
	effect := rec.Estimates[1]
	if effect.Regressor != "p1_lag0" || effect.TrueEffect == nil || math.Abs(*effect.TrueEffect+0.15) > 1e-9 {
		t.Fatalf("unexpected effect estimate %+v", effect)
	}
	if effect.Fitted > 0 && effect.Mean == nil {
		t.Fatal("fitted estimate needs a mean")
	}
}
