package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/airdrums/internal/marker"
	"github.com/ayusman/airdrums/internal/strike"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"sessions", "color_models", "hits"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s should exist: %v", table, err)
		}
	}

	version, dirty, err := s.Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Version() = %d, %v; want 1, false", version, dirty)
	}
}

func TestNewStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		s, err := New(dbPath)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

func TestColorModels_SaveLoad(t *testing.T) {
	s := newTestStore(t)
	repo := s.ColorModels()

	if _, err := repo.Get(marker.LeftStick); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	set := marker.Set{
		marker.LeftStick:  {Center: marker.HSV{H: 120, S: 0.8, V: 0.6}, Tolerance: 0.1, Radius: 20},
		marker.RightStick: {Center: marker.HSV{H: 240, S: 0.7, V: 0.5}, Tolerance: 0.12, Radius: 18},
	}
	if err := repo.Save(set); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Upsert replaces the previous model.
	updated := set[marker.LeftStick]
	updated.Radius = 25
	if err := repo.Save(marker.Set{marker.LeftStick: updated}); err != nil {
		t.Fatalf("Save() update error = %v", err)
	}

	got, err := repo.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Load() returned %d models, want 2", len(got))
	}
	if got[marker.LeftStick].Radius != 25 {
		t.Errorf("left stick radius = %v, want 25", got[marker.LeftStick].Radius)
	}
	if got[marker.RightStick] != set[marker.RightStick] {
		t.Errorf("right stick = %+v, want %+v", got[marker.RightStick], set[marker.RightStick])
	}
}

func TestColorModels_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.ColorModels().Save(marker.Set{marker.LeftStick: {Tolerance: 0, Radius: 10}})
	if !errors.Is(err, marker.ErrInvalidTolerance) {
		t.Errorf("Save() error = %v, want ErrInvalidTolerance", err)
	}
}

func TestColorModels_Delete(t *testing.T) {
	s := newTestStore(t)
	repo := s.ColorModels()
	repo.Save(marker.Set{marker.LeftFoot: {Center: marker.HSV{H: 10, S: 1, V: 1}, Tolerance: 0.1, Radius: 30}})

	if err := repo.Delete(marker.LeftFoot); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(marker.LeftFoot); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.Start("s1", start); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := repo.Start("s2", start.Add(time.Hour)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got, err := repo.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.EndedAt != nil {
		t.Error("open session should have no end time")
	}

	if err := repo.End("s1", start.Add(time.Minute), "quit"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got, _ = repo.Get("s1")
	if got.EndedAt == nil || got.StopReason != "quit" {
		t.Errorf("ended session = %+v", got)
	}

	if err := repo.End("missing", start, "quit"); !errors.Is(err, ErrNotFound) {
		t.Errorf("End() on missing session error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on missing session error = %v, want ErrNotFound", err)
	}

	list, err := repo.List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "s2" {
		t.Errorf("List() = %v, want s2 first", list)
	}
}

func hitAt(ms int, instrument string) strike.HitEvent {
	return strike.HitEvent{
		Marker:     marker.RightStick,
		Zone:       instrument,
		Instrument: instrument,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(ms) * time.Millisecond),
		Intensity:  0.5,
		PeakSpeed:  900,
	}
}

func TestHits_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	s.Sessions().Start("s1", time.Now())
	repo := s.Hits()

	if err := repo.Record("s1", hitAt(200, "snare"), hitAt(100, "kick"), hitAt(300, "snare")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	hits, err := repo.ListBySession("s1")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	if hits[0].Instrument != "kick" {
		t.Errorf("first hit = %s, want kick (time order)", hits[0].Instrument)
	}
	if !hits[1].Timestamp.Equal(hitAt(200, "").Timestamp) {
		t.Errorf("timestamp not preserved: %v", hits[1].Timestamp)
	}

	counts, err := repo.CountBySession("s1")
	if err != nil {
		t.Fatalf("CountBySession() error = %v", err)
	}
	if counts["snare"] != 2 || counts["kick"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestHits_RequireSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.Hits().Record("nope", hitAt(0, "snare")); err == nil {
		t.Error("expected foreign key error for unknown session")
	}
}

func TestHitRecorder_FlushesOnClose(t *testing.T) {
	s := newTestStore(t)
	s.Sessions().Start("s1", time.Now())

	rec := NewHitRecorder(s.Hits(), "s1", 64, zerolog.Nop())
	for i := 0; i < 50; i++ {
		rec.Record(hitAt(i, "snare"))
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := rec.Written() + rec.Dropped(); got != 50 {
		t.Errorf("written+dropped = %d, want 50", got)
	}
	hits, _ := s.Hits().ListBySession("s1")
	if int64(len(hits)) != rec.Written() {
		t.Errorf("stored %d hits, recorder wrote %d", len(hits), rec.Written())
	}

	// Records after close are dropped, never panic.
	before := rec.Dropped()
	rec.Record(hitAt(999, "snare"))
	if rec.Dropped() != before+1 {
		t.Errorf("Dropped() = %d, want %d", rec.Dropped(), before+1)
	}
}
