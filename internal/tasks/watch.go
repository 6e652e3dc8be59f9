package tasks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"traj2gps/internal/interpolate"
	"traj2gps/internal/metrics"
	"traj2gps/internal/projection"
)

// WatchRequest configures a long-running watch over a directory.
type WatchRequest struct {
	Dir       string
	Settle    time.Duration
	Engine    *interpolate.Engine
	Projector projection.Projector
	Reader    TimeReader
	Writer    PositionWriter // nil for dry-run
	Metrics   *metrics.Manager
	Logger    *slog.Logger
	// OnTagged, when set, receives every image handled successfully.
	OnTagged func(TaggedImage)
}

// Watch geotags images as they settle in req.Dir until ctx is cancelled.
// Unlike Geotag, a failing image is logged and skipped; the watch goes on.
func Watch(ctx context.Context, req WatchRequest) error {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if req.Engine == nil || req.Projector == nil || req.Reader == nil {
		return errors.New("watch: engine, projector and reader are required")
	}

	fsw, err := NewFileSystemWatcher([]string{req.Dir}, req.Settle, logger)
	if err != nil {
		return err
	}
	if err := fsw.Start(); err != nil {
		fsw.Stop()
		return err
	}
	defer fsw.Stop()

	// exiftool rewrites files in place, which shows up as a fresh create.
	handled := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if handled[ev.Path] {
				continue
			}
			img, err := tagOne(ctx, req, ev.Path)
			if err != nil {
				reason := "error"
				if errors.Is(err, interpolate.ErrRange) {
					reason = "out_of_range"
				} else if errors.Is(err, ErrNoImages) {
					reason = "no_time"
				}
				req.Metrics.ImageSkipped(reason)
				logger.Warn("skipping image", "path", ev.Path, "reason", reason, "error", err)
				continue
			}
			handled[ev.Path] = true
			logger.Info("image tagged", "path", img.Path, "lat", img.Geodetic.Lat, "lon", img.Geodetic.Lon, "alt", img.Geodetic.Alt)
			if req.OnTagged != nil {
				req.OnTagged(img)
			}
		}
	}
}

func tagOne(ctx context.Context, req WatchRequest, path string) (TaggedImage, error) {
	read, err := req.Reader.ReadTimes(ctx, []string{path})
	if err != nil {
		return TaggedImage{}, err
	}
	if len(read.Times) == 0 {
		return TaggedImage{}, ErrNoImages
	}
	it := read.Times[0]
	pos, err := req.Engine.Interpolate(it.Time)
	if err != nil {
		var re *interpolate.RangeError
		if errors.As(err, &re) {
			req.Metrics.RangeFailure(string(re.Side))
		}
		return TaggedImage{}, err
	}
	geo, err := req.Projector.Inverse(pos.Easting, pos.Northing, pos.Height)
	if err != nil {
		return TaggedImage{}, err
	}
	if req.Writer != nil {
		if err := req.Writer.WriteGPS(ctx, path, geo); err != nil {
			return TaggedImage{}, err
		}
		req.Metrics.ImageTagged()
	}
	return TaggedImage{Path: path, Time: it.Time, Position: pos, Geodetic: geo}, nil
}
