package feature

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

func f(v float64) *float64 { return &v }

// hourlySeries builds n hourly measurements for one entity. gen returns the
// pm25 value for sample i; returning NaN leaves the reading null.
func hourlySeries(n int, gen func(i int) float64) []airdata.Measurement {
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday
	out := make([]airdata.Measurement, n)
	for i := range out {
		out[i] = airdata.Measurement{
			EntityID:  "city-a",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Source:    "test",
		}
		if v := gen(i); !math.IsNaN(v) {
			out[i].PM25 = f(v)
		}
	}
	return out
}

func TestBuild_InsufficientHistory(t *testing.T) {
	b := NewBuilder(Config{})
	history := hourlySeries(50, func(i int) float64 { return 10 })

	_, err := b.Build("city-a", history)
	if !errors.Is(err, airdata.ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestBuild_CalendarFeatures(t *testing.T) {
	b := NewBuilder(Config{})
	n := b.MinHistory()
	history := hourlySeries(n, func(i int) float64 { return 10 })

	fv, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	last := history[n-1].Timestamp
	if got, _ := fv.Get("hour"); got != float64(last.Hour()) {
		t.Errorf("hour = %v, want %d", got, last.Hour())
	}
	if got, _ := fv.Get("day_of_week"); got != float64(last.Weekday()) {
		t.Errorf("day_of_week = %v, want %d", got, last.Weekday())
	}
	if !fv.AsOf.Equal(last) {
		t.Errorf("AsOf = %v, want %v", fv.AsOf, last)
	}
	if len(fv.Values) != len(Names) {
		t.Fatalf("vector width %d, want %d", len(fv.Values), len(Names))
	}
}

func TestBuild_WeekendFlag(t *testing.T) {
	b := NewBuilder(Config{})
	n := b.MinHistory()

	// Monday 00:00 start; sample n-1 lands mid-week for n=192. Shift the
	// base so the final sample is a Saturday.
	history := hourlySeries(n, func(i int) float64 { return 10 })
	for i := range history {
		history[i].Timestamp = history[i].Timestamp.Add(5 * 24 * time.Hour) // start Saturday
	}

	fv, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	wd := history[n-1].Timestamp.Weekday()
	want := 0.0
	if wd == time.Saturday || wd == time.Sunday {
		want = 1.0
	}
	if got, _ := fv.Get("is_weekend"); got != want {
		t.Errorf("is_weekend = %v on %v, want %v", got, wd, want)
	}
}

func TestBuild_RollingStatistics(t *testing.T) {
	b := NewBuilder(Config{ShortWindow: 24, LongWindow: 168})
	n := b.MinHistory()

	// Constant 10 with the final short window at 20.
	history := hourlySeries(n, func(i int) float64 {
		if i >= n-24 {
			return 20
		}
		return 10
	})

	fv, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got, _ := fv.Get("pm25_mean_short"); got != 20 {
		t.Errorf("pm25_mean_short = %v, want 20", got)
	}
	if got, _ := fv.Get("pm25_std_short"); got != 0 {
		t.Errorf("pm25_std_short = %v, want 0", got)
	}
	if got, _ := fv.Get("pm25_min_long"); got != 10 {
		t.Errorf("pm25_min_long = %v, want 10", got)
	}
	if got, _ := fv.Get("pm25_max_long"); got != 20 {
		t.Errorf("pm25_max_long = %v, want 20", got)
	}
	meanL, _ := fv.Get("pm25_mean_long")
	if meanL <= 10 || meanL >= 20 {
		t.Errorf("pm25_mean_long = %v, want between 10 and 20", meanL)
	}
}

func TestBuild_LagAndChangeFeatures(t *testing.T) {
	b := NewBuilder(Config{})
	n := b.MinHistory()
	history := hourlySeries(n, func(i int) float64 { return float64(i) })

	fv, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	cur := float64(n - 1)
	if got, _ := fv.Get("pm25_lag_1"); got != cur-1 {
		t.Errorf("pm25_lag_1 = %v, want %v", got, cur-1)
	}
	if got, _ := fv.Get("pm25_lag_24"); got != cur-24 {
		t.Errorf("pm25_lag_24 = %v, want %v", got, cur-24)
	}
	if got, _ := fv.Get("pm25_change_1"); got != 1 {
		t.Errorf("pm25_change_1 = %v, want 1", got)
	}
	if got, _ := fv.Get("pm25_change_24"); got != 24 {
		t.Errorf("pm25_change_24 = %v, want 24", got)
	}
}

func TestBuild_ForwardFillWithinBound(t *testing.T) {
	b := NewBuilder(Config{MaxFillGap: 3})
	n := b.MinHistory()

	// Three consecutive missing samples near the end: fillable.
	missing := map[int]bool{n - 10: true, n - 9: true, n - 8: true}
	history := hourlySeries(n, func(i int) float64 {
		if missing[i] {
			return math.NaN()
		}
		return 10
	})

	fv, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build with fillable gap: %v", err)
	}
	if got, _ := fv.Get("pm25_mean_short"); got != 10 {
		t.Errorf("pm25_mean_short = %v, want 10 (forward-filled)", got)
	}
}

func TestBuild_GapBeyondBoundFails(t *testing.T) {
	b := NewBuilder(Config{MaxFillGap: 3})
	n := b.MinHistory()

	// Four consecutive missing samples: beyond the fill bound.
	history := hourlySeries(n, func(i int) float64 {
		if i >= n-10 && i < n-6 {
			return math.NaN()
		}
		return 10
	})

	_, err := b.Build("city-a", history)
	if !errors.Is(err, airdata.ErrUpstreamDataGap) {
		t.Fatalf("err = %v, want ErrUpstreamDataGap", err)
	}
}

func TestBuild_NeverDefaultsMissingToZero(t *testing.T) {
	b := NewBuilder(Config{MaxFillGap: 3})
	n := b.MinHistory()

	// A long run of missing values must surface as an error; silently using
	// zero would poison the rolling statistics.
	history := hourlySeries(n, func(i int) float64 {
		if i >= n-30 && i < n-5 {
			return math.NaN()
		}
		return 50
	})

	_, err := b.Build("city-a", history)
	if err == nil {
		t.Fatal("expected error for long gap, got vector")
	}
}

func TestTrainingSet_ShapeAndTargets(t *testing.T) {
	b := NewBuilder(Config{})
	horizon := 24
	n := b.MinHistory() + horizon + 100
	history := hourlySeries(n, func(i int) float64 { return float64(i % 24) })

	x, y, skipped, err := b.TrainingSet("city-a", history, horizon)
	if err != nil {
		t.Fatalf("TrainingSet: %v", err)
	}
	if len(x) != len(y) {
		t.Fatalf("len(x)=%d len(y)=%d", len(x), len(y))
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0 for complete series", skipped)
	}
	if len(x) == 0 {
		t.Fatal("empty training set")
	}
	for i := range x {
		if len(x[i]) != len(Names) {
			t.Fatalf("row %d width %d, want %d", i, len(x[i]), len(Names))
		}
	}
	// Target is the series value horizon samples ahead of the row's as-of.
	// Row 0 corresponds to history index MinHistory()-1.
	wantTarget := float64((b.MinHistory() - 1 + horizon) % 24)
	if y[0] != wantTarget {
		t.Errorf("y[0] = %v, want %v", y[0], wantTarget)
	}
}

func TestTrainingSet_InsufficientHistory(t *testing.T) {
	b := NewBuilder(Config{})
	history := hourlySeries(b.MinHistory(), func(i int) float64 { return 10 })

	_, _, _, err := b.TrainingSet("city-a", history, 24)
	if !errors.Is(err, airdata.ErrInsufficientHistory) {
		t.Fatalf("err = %v, want ErrInsufficientHistory", err)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewBuilder(Config{})
	n := b.MinHistory()
	history := hourlySeries(n, func(i int) float64 { return math.Sin(float64(i)) * 10 })

	fv1, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fv2, err := b.Build("city-a", history)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range fv1.Values {
		if fv1.Values[i] != fv2.Values[i] {
			t.Fatalf("non-deterministic feature %s: %v vs %v", Names[i], fv1.Values[i], fv2.Values[i])
		}
	}
}
