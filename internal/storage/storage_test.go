package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := openStore(t)

	if err := s.RecordJobQueued(JobRecord{ID: "j1", JobType: "geotag", Status: "queued", InputPath: "/imgs", TrajectoryPath: "/traj.csv"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobQueued(JobRecord{ID: "j2", JobType: "scan", Status: "queued", InputPath: "/imgs"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordJobStart("j1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordJobResult("j1", "failed", map[string]any{"images": 3}, "range error"); err != nil {
		t.Fatalf("result: %v", err)
	}

	jobs, err := s.RecentJobs(10)
	if err != nil {
		t.Fatalf("RecentJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "j2" {
		t.Fatalf("expected newest job first, got %s", jobs[0].ID)
	}
	j1 := jobs[1]
	if j1.Status != "failed" || j1.Error != "range error" || j1.TrajectoryPath != "/traj.csv" {
		t.Fatalf("unexpected record: %+v", j1)
	}
	if j1.StartedAt == nil || j1.CompletedAt == nil {
		t.Fatalf("timestamps not recorded: %+v", j1)
	}
	if jobs[0].OptionsJSON != "{}" {
		t.Fatalf("default options = %q", jobs[0].OptionsJSON)
	}

	meta, err := s.JobMeta("j1")
	if err != nil {
		t.Fatalf("JobMeta: %v", err)
	}
	if meta["images"] != float64(3) {
		t.Fatalf("meta = %v", meta)
	}
	if _, err := s.JobMeta("j2"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestCaptureTimes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := []CaptureTime{
		{FilePath: "b.jpg", Time: 1700000010.5, Source: "exiftool"},
		{FilePath: "a.jpg", Time: 1700000000.25, Source: "exiftool"},
	}
	if err := s.RecordCaptureTimes(ctx, "j1", in); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Re-recording replaces rather than duplicates.
	if err := s.RecordCaptureTimes(ctx, "j1", in[:1]); err != nil {
		t.Fatalf("record again: %v", err)
	}

	got, err := s.CaptureTimes(ctx, "j1")
	if err != nil {
		t.Fatalf("CaptureTimes: %v", err)
	}
	if len(got) != 2 || got[0].FilePath != "a.jpg" || got[1].Time != 1700000010.5 {
		t.Fatalf("unexpected capture times: %+v", got)
	}
	if other, _ := s.CaptureTimes(ctx, "j2"); len(other) != 0 {
		t.Fatalf("expected no rows for another job, got %+v", other)
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	if err := s.RecordJobQueued(JobRecord{ID: "x"}); err != nil {
		t.Fatalf("nil queue: %v", err)
	}
	if err := s.RecordCaptureTimes(context.Background(), "x", []CaptureTime{{FilePath: "a"}}); err != nil {
		t.Fatalf("nil capture: %v", err)
	}
	if _, err := s.RecentJobs(1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
