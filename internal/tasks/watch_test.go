package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"traj2gps/internal/interpolate"
	"traj2gps/internal/projection"
	"traj2gps/internal/trajectory"
)

func TestWatchTagsSettledImages(t *testing.T) {
	traj, err := trajectory.LoadFile(writeTrajectory(t, 1000, 11), trajectory.DefaultColumns())
	if err != nil {
		t.Fatalf("load trajectory: %v", err)
	}
	engine, err := interpolate.New(traj, interpolate.Linear)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	proj, err := projection.ForCRS("EPSG:25832")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	w := &recordingWriter{}
	tagged := make(chan TaggedImage, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, WatchRequest{
			Dir:       dir,
			Settle:    50 * time.Millisecond,
			Engine:    engine,
			Projector: proj,
			Reader:    stubReader{times: map[string]float64{"in.jpg": 1003, "late.jpg": 2000}},
			Writer:    w,
			OnTagged:  func(img TaggedImage) { tagged <- img },
		})
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	for _, name := range []string{"late.jpg", "notes.txt", "in.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case img := <-tagged:
		if filepath.Base(img.Path) != "in.jpg" || img.Position.Easting != 500030 {
			t.Fatalf("unexpected tagged image: %+v", img)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tagged image")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop after cancel")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.writes[filepath.Join(dir, "late.jpg")]; ok {
		t.Fatal("out of range image must not be written")
	}
}
