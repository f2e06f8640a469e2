package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airguard-io/airguard/pkg/airdata"
)

func tempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background(), "airguard", Migrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func f(v float64) *float64 { return &v }

func TestNew_creates_database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNew_invalid_path(t *testing.T) {
	if _, err := New("/nonexistent/path/to/db"); err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestMigrate_idempotent(t *testing.T) {
	s := tempStore(t)
	if err := s.Migrate(context.Background(), "airguard", Migrations()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestMeasurementStore_roundtrip(t *testing.T) {
	s := tempStore(t)
	ms := NewMeasurementStore(s.DB())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := airdata.Measurement{
			EntityID:  "city-a",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			PM25:      f(10 + float64(i)),
			Source:    "sensor",
		}
		if err := ms.Insert(ctx, &m); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := ms.Range(ctx, "city-a", base, base.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("Range returned %d rows, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Error("Range results not ascending by timestamp")
		}
	}
	if got[0].PM25 == nil || *got[0].PM25 != 10 {
		t.Errorf("first pm25 = %v, want 10", got[0].PM25)
	}
	if got[0].PM10 != nil {
		t.Errorf("pm10 = %v, want nil", got[0].PM10)
	}
}

func TestMeasurementStore_window(t *testing.T) {
	s := tempStore(t)
	ms := NewMeasurementStore(s.DB())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	batch := make([]airdata.Measurement, 10)
	for i := range batch {
		batch[i] = airdata.Measurement{
			EntityID:  "city-a",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			PM25:      f(float64(i)),
		}
	}
	if err := ms.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	got, err := ms.Window(ctx, "city-a", 3)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Window returned %d rows, want 3", len(got))
	}
	// Most recent rows, returned ascending.
	for i, want := range []float64{7, 8, 9} {
		if got[i].PM25 == nil || *got[i].PM25 != want {
			t.Errorf("row %d pm25 = %v, want %v", i, got[i].PM25, want)
		}
	}

	// Asking for more than exists returns everything.
	all, err := ms.Window(ctx, "city-a", 100)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(all) != 10 {
		t.Errorf("Window returned %d rows, want 10", len(all))
	}
}

func TestMeasurementStore_latest(t *testing.T) {
	s := tempStore(t)
	ms := NewMeasurementStore(s.DB())
	ctx := context.Background()

	latest, err := ms.Latest(ctx, "ghost")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Fatal("expected nil for unknown entity")
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	batch := []airdata.Measurement{
		{EntityID: "city-a", Timestamp: base, PM25: f(10)},
		{EntityID: "city-a", Timestamp: base.Add(time.Hour), PM25: f(20)},
	}
	if err := ms.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	latest, err = ms.Latest(ctx, "city-a")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || *latest.PM25 != 20 {
		t.Fatalf("Latest = %+v, want pm25=20", latest)
	}
}

func TestModelRegistry_versioning(t *testing.T) {
	s := tempStore(t)
	reg := NewModelRegistry(s.DB())
	ctx := context.Background()

	info := &airdata.ModelInfo{
		EntityID:     "city-a",
		TrainedAt:    time.Now().UTC(),
		Metrics:      airdata.ModelMetrics{R2: 0.8, RMSE: 4.2, MAPE: 12, MAE: 3.1},
		MinTrainSize: 168,
	}

	v1, err := reg.SaveVersion(ctx, info, []byte(`{"trees":[]}`))
	if err != nil {
		t.Fatalf("SaveVersion: %v", err)
	}
	if v1 != 1 {
		t.Errorf("first version = %d, want 1", v1)
	}

	// No active model until Activate.
	active, _, err := reg.GetActive(ctx, "city-a")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active != nil {
		t.Fatal("expected no active model before Activate")
	}

	if err := reg.Activate(ctx, "city-a", v1); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	v2, err := reg.SaveVersion(ctx, info, []byte(`{"trees":[1]}`))
	if err != nil {
		t.Fatalf("SaveVersion v2: %v", err)
	}
	if v2 != 2 {
		t.Errorf("second version = %d, want 2", v2)
	}
	if err := reg.Activate(ctx, "city-a", v2); err != nil {
		t.Fatalf("Activate v2: %v", err)
	}

	active, params, err := reg.GetActive(ctx, "city-a")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active == nil || active.Version != v2 {
		t.Fatalf("active = %+v, want version %d", active, v2)
	}
	if string(params) != `{"trees":[1]}` {
		t.Errorf("params = %s", params)
	}

	versions, err := reg.ListVersions(ctx, "city-a")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("ListVersions returned %d, want 2", len(versions))
	}
	if versions[0].Version != 2 || !versions[0].Active {
		t.Errorf("newest version = %+v, want active v2", versions[0])
	}
	if versions[1].Active {
		t.Error("old version still active after Activate")
	}
}

func TestModelRegistry_activate_missing_version(t *testing.T) {
	s := tempStore(t)
	reg := NewModelRegistry(s.DB())

	if err := reg.Activate(context.Background(), "city-a", 99); err == nil {
		t.Fatal("expected error activating unknown version")
	}
}

func TestAnomalyStore_recent_ordering(t *testing.T) {
	s := tempStore(t)
	as := NewAnomalyStore(s.DB())
	ctx := context.Background()

	now := time.Now().UTC()
	for i, sev := range []string{airdata.SeverityHigh, airdata.SeverityCritical, airdata.SeverityMedium} {
		e := airdata.AnomalyEvent{
			ID:        string(rune('a' + i)),
			EntityID:  "city-a",
			Timestamp: now.Add(time.Duration(-i) * time.Hour),
			Observed:  80,
			Expected:  20,
			Severity:  sev,
			Detectors: []string{airdata.DetectorZScore},
			Message:   "spike",
		}
		if err := as.Insert(ctx, &e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := as.Recent(ctx, "city-a", 24, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d, want 3", len(got))
	}
	if got[0].Detectors[0] != airdata.DetectorZScore {
		t.Errorf("detectors round trip = %v", got[0].Detectors)
	}

	// Unfiltered query includes other entities.
	other := airdata.AnomalyEvent{ID: "z", EntityID: "city-b", Timestamp: now,
		Severity: airdata.SeverityLow, Detectors: []string{}}
	if err := as.Insert(ctx, &other); err != nil {
		t.Fatalf("Insert other: %v", err)
	}
	all, err := as.Recent(ctx, "", 24, 10)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Recent all returned %d, want 4", len(all))
	}

	limited, err := as.Recent(ctx, "city-a", 24, 2)
	if err != nil {
		t.Fatalf("Recent limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("Recent limited returned %d, want 2", len(limited))
	}
}
