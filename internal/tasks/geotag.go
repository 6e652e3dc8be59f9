package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"traj2gps/internal/gpstime"
	"traj2gps/internal/interpolate"
	"traj2gps/internal/logging"
	"traj2gps/internal/metrics"
	"traj2gps/internal/projection"
	"traj2gps/internal/storage"
	"traj2gps/internal/trajectory"
)

// ErrNoImages is returned when no image under the input could be dated.
var ErrNoImages = errors.New("no images")

// TrajectoryClock returns the transform that brings trajectory time values
// onto the UTC axis. "gps" values are adjusted GPS seconds: offset is added
// before leap seconds are removed. "utc" values are used as is.
func TrajectoryClock(format string, offset float64) (func(float64) float64, error) {
	switch format {
	case "utc":
		return nil, nil
	case "gps", "":
		return func(t float64) float64 { return gpstime.ToUTC(t + offset) }, nil
	}
	return nil, fmt.Errorf("unknown trajectory time format %q", format)
}

// TrajectorySource says where and how to load a trajectory.
type TrajectorySource struct {
	Path       string
	Columns    trajectory.Columns
	CRS        string
	TimeFormat string
	TimeOffset float64
}

// Load reads and validates the trajectory file.
func (s TrajectorySource) Load() (*trajectory.Store, error) {
	clock, err := TrajectoryClock(s.TimeFormat, s.TimeOffset)
	if err != nil {
		return nil, err
	}
	opts := []trajectory.Option{trajectory.WithCRS(s.CRS)}
	if clock != nil {
		opts = append(opts, trajectory.WithTimeTransform(clock))
	}
	return trajectory.LoadFile(s.Path, s.Columns, opts...)
}

// GeotagRequest describes one geotag run.
type GeotagRequest struct {
	JobID      string
	Input      string
	Trajectory TrajectorySource
	Kernel     interpolate.Kernel
	Parallel   int
	DryRun     bool

	Reader  TimeReader
	Writer  PositionWriter // unused when DryRun
	Store   *storage.Store
	Metrics *metrics.Manager
	Logger  *slog.Logger
}

// TaggedImage is one image with its interpolated and geodetic position.
type TaggedImage struct {
	Path     string               `json:"path"`
	Time     float64              `json:"time"`
	Position interpolate.Position `json:"position"`
	Geodetic projection.Geodetic  `json:"geodetic"`
}

// GeotagResult summarises a run. Tagged is in capture time order.
type GeotagResult struct {
	JobID    string               `json:"job_id"`
	Images   int                  `json:"images"`
	Skipped  []string             `json:"skipped,omitempty"`
	Tagged   []TaggedImage        `json:"tagged"`
	Coverage interpolate.Coverage `json:"coverage"`
	Kernel   string               `json:"kernel"`
	CRS      string               `json:"crs"`
	DryRun   bool                 `json:"dry_run"`
	Duration time.Duration        `json:"duration"`
}

// Meta flattens the result for job bookkeeping.
func (r GeotagResult) Meta() map[string]any {
	return map[string]any{
		"images":    r.Images,
		"tagged":    len(r.Tagged),
		"skipped":   len(r.Skipped),
		"kernel":    r.Kernel,
		"crs":       r.CRS,
		"dry_run":   r.DryRun,
		"query_min": r.Coverage.QueryMin,
		"query_max": r.Coverage.QueryMax,
	}
}

// Geotag dates every image under req.Input, validates the whole batch
// against the trajectory, then interpolates and projects every position.
// Tags are written only once all positions are known, so a range or
// projection failure aborts the run before any file is touched.
func Geotag(ctx context.Context, req GeotagRequest) (GeotagResult, error) {
	start := time.Now()
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if req.Reader == nil {
		return GeotagResult{}, errors.New("geotag: no capture time reader")
	}
	if !req.DryRun && req.Writer == nil {
		return GeotagResult{}, errors.New("geotag: no GPS writer")
	}
	proj, err := projection.ForCRS(req.Trajectory.CRS)
	if err != nil {
		return GeotagResult{}, err
	}

	logging.LogProcessingStep(logger, req.JobID, "scan", "started", map[string]any{"input": req.Input, "reader": req.Reader.Name()})
	scan, err := Scan(ctx, req.Input, req.Reader)
	if err != nil {
		return GeotagResult{}, err
	}
	if len(scan.Times) == 0 {
		return GeotagResult{}, fmt.Errorf("%w under %s", ErrNoImages, req.Input)
	}
	if scan.Mismatch() {
		logging.LogDataQuality(logger, req.JobID, "some files could not be parsed", map[string]any{
			"found":   len(scan.Images),
			"dated":   len(scan.Times),
			"skipped": scan.Skipped,
		})
	}
	if err := req.Store.RecordCaptureTimes(ctx, req.JobID, captureRecords(scan)); err != nil {
		logger.Warn("failed to record capture times", "job_id", req.JobID, "error", err)
	}

	traj, err := req.Trajectory.Load()
	if err != nil {
		return GeotagResult{}, err
	}
	req.Metrics.TrajectoryLoaded(traj.Len(), traj.Span())
	logging.LogProcessingStep(logger, req.JobID, "trajectory", "loaded", map[string]any{
		"samples": traj.Len(),
		"start":   traj.MinTime(),
		"end":     traj.MaxTime(),
	})

	engine, err := interpolate.New(traj, req.Kernel)
	if err != nil {
		return GeotagResult{}, err
	}

	times := make([]float64, len(scan.Times))
	for i, it := range scan.Times {
		times[i] = it.Time
	}
	cov, err := engine.ValidateRange(times)
	if err != nil {
		var re *interpolate.RangeError
		if errors.As(err, &re) {
			req.Metrics.RangeFailure(string(re.Side))
		}
		return GeotagResult{}, err
	}

	tagged := make([]TaggedImage, len(scan.Times))
	batchStart := time.Now()
	for i, it := range scan.Times {
		pos, err := engine.Interpolate(it.Time)
		if err != nil {
			return GeotagResult{}, fmt.Errorf("%s: %w", it.Path, err)
		}
		geo, err := proj.Inverse(pos.Easting, pos.Northing, pos.Height)
		if err != nil {
			return GeotagResult{}, fmt.Errorf("%s: %w", it.Path, err)
		}
		tagged[i] = TaggedImage{Path: it.Path, Time: it.Time, Position: pos, Geodetic: geo}
	}
	req.Metrics.ObserveBatch(req.Kernel.String(), len(tagged), time.Since(batchStart))

	if !req.DryRun {
		logging.LogProcessingStep(logger, req.JobID, "write", "started", map[string]any{"images": len(tagged)})
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(req.Parallel, 1))
		for _, img := range tagged {
			g.Go(func() error {
				if err := req.Writer.WriteGPS(gctx, img.Path, img.Geodetic); err != nil {
					return err
				}
				req.Metrics.ImageTagged()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return GeotagResult{}, err
		}
	}

	return GeotagResult{
		JobID:    req.JobID,
		Images:   len(scan.Images),
		Skipped:  scan.Skipped,
		Tagged:   tagged,
		Coverage: cov,
		Kernel:   req.Kernel.String(),
		CRS:      proj.CRS(),
		DryRun:   req.DryRun,
		Duration: time.Since(start),
	}, nil
}

func captureRecords(scan ScanResult) []storage.CaptureTime {
	out := make([]storage.CaptureTime, len(scan.Times))
	for i, it := range scan.Times {
		out[i] = storage.CaptureTime{FilePath: it.Path, Time: it.Time, Source: scan.Reader}
	}
	return out
}
