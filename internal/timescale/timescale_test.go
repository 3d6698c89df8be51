package timescale

import (
	"math"
	"testing"

	"policysim/internal/axis"
)

func TestRoundTripAtOneStepPerDay(t *testing.T) {
	daily := []float64{0.2, -0.15, 0.05, 0, 1.3}
	fine := axis.New(axis.Axis{Name: axis.T, Size: len(daily) + 1})
	for i, r := range daily {
		fine.Data()[i] = Discretize(FromDaily(r, 1))
	}

	back, err := ToDaily(fine, 1)
	if err != nil {
		t.Fatalf("to daily: %v", err)
	}
	if back.Size(axis.T) != len(daily) {
		t.Fatalf("expected %d daily steps, got %d", len(daily), back.Size(axis.T))
	}
	for i, r := range daily {
		if got := back.At(i); math.Abs(got-r) > 1e-12 {
			t.Fatalf("day %d: expected %f, got %f", i, r, got)
		}
	}
}

func TestToDailyCompoundsFineSteps(t *testing.T) {
	const spd = 4
	rate := 0.2
	tstep := 1.0 / spd
	nFine := 3*spd + 1
	fine := axis.New(axis.Axis{Name: axis.Sample, Size: 2}, axis.Axis{Name: axis.T, Size: nFine})
	for i := range fine.Data() {
		fine.Data()[i] = Discretize(FromDaily(rate, tstep))
	}

	out, err := ToDaily(fine, spd)
	if err != nil {
		t.Fatalf("to daily: %v", err)
	}
	if out.Size(axis.T) != 3 || out.Size(axis.Sample) != 2 {
		t.Fatalf("unexpected shape %s", out)
	}
	for _, v := range out.Data() {
		if math.Abs(v-rate) > 1e-12 {
			t.Fatalf("expected compounded daily rate %f, got %f", rate, v)
		}
	}
}

func TestDailyStepsDropsFinalFineStep(t *testing.T) {
	cases := []struct {
		nFine, spd, want int
	}{
		{nFine: 121, spd: 1, want: 120},
		{nFine: 481, spd: 4, want: 120},
		{nFine: 10, spd: 4, want: 2},
		{nFine: 1, spd: 4, want: 0},
	}
	for _, tc := range cases {
		if got := DailySteps(tc.nFine, tc.spd); got != tc.want {
			t.Fatalf("DailySteps(%d,%d)=%d, want %d", tc.nFine, tc.spd, got, tc.want)
		}
	}
}

func TestSubsampleKeepsDayStarts(t *testing.T) {
	fine := axis.New(axis.Axis{Name: axis.T, Size: 9}, axis.Axis{Name: axis.Gamma, Size: 1})
	for i := 0; i < 9; i++ {
		fine.Set(float64(i), i, 0)
	}
	out, err := Subsample(fine, 4)
	if err != nil {
		t.Fatalf("subsample: %v", err)
	}
	if out.Size(axis.T) != 2 || out.At(0, 0) != 0 || out.At(1, 0) != 4 {
		t.Fatalf("unexpected subsample: %v", out.Data())
	}
}

func TestGridToDailyRecoversRoundedGrid(t *testing.T) {
	tstep := 0.25
	grid := []float64{0.1, 1.0 / 3, 0.25}
	disc := make([]float64, len(grid))
	for i, g := range grid {
		disc[i] = Discretize(FromDaily(g, tstep))
	}
	back := GridToDaily(disc, tstep)
	if back[0] != 0.1 || back[1] != 0.33333 || back[2] != 0.25 {
		t.Fatalf("unexpected grid: %v", back)
	}
	if !math.IsNaN(GridToDaily([]float64{math.NaN()}, tstep)[0]) {
		t.Fatal("expected NaN coordinate to pass through")
	}
}

func TestIsRateName(t *testing.T) {
	for _, name := range []string{"beta_stoch", "gamma", "lambda_disc_meanbeta", "sigma_deterministic"} {
		if !IsRateName(name) {
			t.Fatalf("expected %q to be a rate", name)
		}
	}
	for _, name := range []string{"S", "IR", "effect_true", "betas"} {
		if IsRateName(name) {
			t.Fatalf("expected %q not to be a rate", name)
		}
	}
}

func TestToDailyRequiresTimeAxis(t *testing.T) {
	if _, err := ToDaily(axis.New(axis.Axis{Name: axis.Sample, Size: 2}), 2); err == nil {
		t.Fatal("expected missing time axis error")
	}
	if _, err := ToDaily(axis.New(axis.Axis{Name: axis.T, Size: 2}), 0); err == nil {
		t.Fatal("expected steps per day error")
	}
}
