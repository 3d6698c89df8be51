package policy

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestGenerateDisjointIntervalsAreNeverRejected(t *testing.T) {
	cfgs := []Config{
		{Effect: -0.1, Start: 10, End: 30},
		{Effect: -0.1, Start: 40, End: 60},
		{Effect: -0.1, Start: 70, End: 90},
	}
	samples := 1000
	onsets, err := drawOnsets(newRand(1), cfgs, samples)
	if err != nil {
		t.Fatalf("draw onsets: %v", err)
	}
	if len(onsets) != samples {
		t.Fatalf("expected %d samples, got %d", samples, len(onsets))
	}
	for s, row := range onsets {
		for p := 1; p < len(row); p++ {
			if row[p] <= row[p-1] {
				t.Fatalf("sample %d onsets not increasing: %v", s, row)
			}
		}
		for p, day := range row {
			if day < cfgs[p].Start || day >= cfgs[p].End {
				t.Fatalf("sample %d policy %d onset %d outside interval", s, p, day)
			}
		}
	}
}

func TestGenerateRejectsCollinearDrawsUntilExhausted(t *testing.T) {
	cfgs := []Config{
		{Start: 5, End: 7},
		{Start: 5, End: 7},
		{Start: 6, End: 8},
	}
	_, err := Generate(newRand(2), Request{Policies: cfgs, Samples: 100, FineSteps: 41, StepsPerDay: 2})
	if !errors.Is(err, ErrSamplingExhausted) {
		t.Fatalf("expected sampling exhaustion, got %v", err)
	}
}

func TestGenerateImpossibleScheduleFails(t *testing.T) {
	cfgs := []Config{{Start: 3, End: 4}, {Start: 3, End: 4}}
	_, err := Generate(newRand(3), Request{Policies: cfgs, Samples: 1, FineSteps: 11, StepsPerDay: 1})
	if !errors.Is(err, ErrSamplingExhausted) {
		t.Fatalf("expected sampling exhaustion, got %v", err)
	}
}

func TestSeriesStepsOnAtOnsetWithRamp(t *testing.T) {
	cfgs := []Config{{Start: 2, End: 3, Lag: []float64{0.25, 0.5}}}
	const spd = 2
	timing, err := Generate(newRand(4), Request{Policies: cfgs, Samples: 3, FineSteps: 2*10 + 1, StepsPerDay: spd})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := []float64{0, 0, 0, 0, 0.25, 0.25, 0.5, 0.5, 1, 1}
	for s := 0; s < 3; s++ {
		if timing.Onsets[s][0] != 2 {
			t.Fatalf("expected onset day 2, got %d", timing.Onsets[s][0])
		}
		for step, w := range want {
			if got := timing.Series.At(s, step, 0); got != w {
				t.Fatalf("sample %d step %d: expected %f, got %f", s, step, w, got)
			}
		}
		if got := timing.Series.At(s, 20, 0); got != 1 {
			t.Fatalf("expected indicator to stay on, got %f", got)
		}
		if timing.RandomEnd[s] != 1 {
			t.Fatalf("expected unit random end without randomization")
		}
	}
	if got := LastActivation(timing.Series, 0); got != 4 {
		t.Fatalf("expected activation at step 4, got %d", got)
	}
}

func TestGenerateRandomEndDraws(t *testing.T) {
	cfgs := []Config{{Start: 1, End: 5}, {Start: 6, End: 9}}
	timing, err := Generate(newRand(5), Request{Policies: cfgs, Samples: 50, FineSteps: 21, StepsPerDay: 1, RandomEnd: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	distinct := map[float64]bool{}
	for _, v := range timing.RandomEnd {
		if v < 0 || v >= 1 {
			t.Fatalf("random end %f outside [0,1)", v)
		}
		distinct[v] = true
	}
	if len(distinct) < 45 {
		t.Fatalf("expected distinct random end draws, got %d", len(distinct))
	}
	if timing.LastOnset(0) != timing.Onsets[0][1] {
		t.Fatalf("unexpected last onset")
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	cfgs := []Config{{Start: 1, End: 20}, {Start: 1, End: 20}}
	req := Request{Policies: cfgs, Samples: 30, FineSteps: 41, StepsPerDay: 2, RandomEnd: true}
	a, err := Generate(newRand(9), req)
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := Generate(newRand(9), req)
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	for s := range a.Onsets {
		if a.Onsets[s][0] != b.Onsets[s][0] || a.Onsets[s][1] != b.Onsets[s][1] || a.RandomEnd[s] != b.RandomEnd[s] {
			t.Fatalf("sample %d differs between identical seeds", s)
		}
	}
}

func TestEffectSeriesSumsActivePolicies(t *testing.T) {
	cfgs := []Config{{Effect: -0.1, Start: 1, End: 2}, {Effect: -0.05, Start: 3, End: 4}}
	timing, err := Generate(newRand(6), Request{Policies: cfgs, Samples: 2, FineSteps: 6, StepsPerDay: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	eff, err := EffectSeries(timing, cfgs)
	if err != nil {
		t.Fatalf("effect series: %v", err)
	}
	want := []float64{0, -0.1, -0.1, -0.15, -0.15, -0.15}
	for step, w := range want {
		if got := eff.At(1, step); math.Abs(got-w) > 1e-12 {
			t.Fatalf("step %d: expected %f, got %f", step, w, got)
		}
	}
	if got := LastActivation(timing.Series, 1); got != 3 {
		t.Fatalf("expected last activation at 3, got %d", got)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string][]Config{
		"empty":      nil,
		"interval":   {{Start: 5, End: 5}},
		"ramp":       {{Start: 0, End: 5, Lag: []float64{1.5}}},
		"ramp-shape": {{Start: 0, End: 5, Lag: []float64{0.5}}, {Start: 0, End: 5}},
		"duplicate":  {{Name: "a", Start: 0, End: 5}, {Name: "a", Start: 0, End: 5}},
	}
	for name, cfgs := range cases {
		if err := Validate(cfgs); !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("%s: expected invalid policy, got %v", name, err)
		}
	}
}

func TestSharedIntervalAppliesToEveryPolicy(t *testing.T) {
	cfgs := []Config{
		{Name: "school", Effect: -0.1, Start: 1, End: 2},
		{Name: "work", Effect: -0.2, Start: 50, End: 60},
	}
	shared := Shared(cfgs, 10, 40)
	for i, c := range shared {
		if c.Start != 10 || c.End != 40 || c.Effect != cfgs[i].Effect {
			t.Fatalf("policy %d: %+v", i, c)
		}
	}
	if cfgs[0].Start != 1 {
		t.Fatal("Shared modified its input")
	}
}
