package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"traj2gps/internal/interpolate"
	"traj2gps/internal/logging"
	"traj2gps/internal/metrics"
	"traj2gps/internal/storage"
	"traj2gps/internal/tasks"
	"traj2gps/internal/trajectory"
)

// Defaults fill in job options a submitter leaves out.
type Defaults struct {
	Columns    trajectory.Columns
	CRS        string
	TimeFormat string
	TimeOffset float64
	Kernel     interpolate.Kernel
	Parallel   int
}

type toolChecker interface {
	GetToolStatus() map[string]tasks.ToolStatus
	Reader() (tasks.TimeReader, error)
	Writer() (tasks.PositionWriter, error)
}

type geotagFunc func(ctx context.Context, req tasks.GeotagRequest) (tasks.GeotagResult, error)

// router implements Processor and routes jobs to their task handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	metrics  *metrics.Manager
	tools    toolChecker
	geotagFn geotagFunc
	defaults Defaults
}

// NewRouter returns the Processor for geotag, scan and check jobs.
func NewRouter(logger *slog.Logger, store *storage.Store, m *metrics.Manager, tools *tasks.ToolManager, d Defaults) Processor {
	return &router{
		log:      logger,
		store:    store,
		metrics:  m,
		tools:    tools,
		geotagFn: tasks.Geotag,
		defaults: d,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobGeotag:
		return r.handleGeotag(ctx, job)
	case JobScan:
		return r.handleScan(ctx, job)
	case JobCheck:
		return r.handleCheck(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleGeotag(ctx context.Context, job Job) Result {
	if job.Trajectory == "" {
		return Result{Job: job, Error: errors.New("geotag: trajectory path is required")}
	}
	kernel := r.defaults.Kernel
	if name := optString(job.Options, "kernel"); name != "" {
		k, err := interpolate.ParseKernel(name)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		kernel = k
	}
	crs := optString(job.Options, "crs")
	if crs == "" {
		crs = r.defaults.CRS
	}
	parallel := optInt(job.Options, "parallel")
	if parallel < 1 {
		parallel = r.defaults.Parallel
	}
	timeFormat := optString(job.Options, "time_format")
	if timeFormat == "" {
		timeFormat = r.defaults.TimeFormat
	}
	dryRun := optBool(job.Options, "dry_run")

	reader, err := r.tools.Reader()
	if err != nil {
		return Result{Job: job, Error: err}
	}
	var writer tasks.PositionWriter
	if !dryRun {
		if writer, err = r.tools.Writer(); err != nil {
			return Result{Job: job, Error: err}
		}
	}

	res, err := r.geotagFn(ctx, tasks.GeotagRequest{
		JobID: job.ID,
		Input: job.InputPath,
		Trajectory: tasks.TrajectorySource{
			Path:       job.Trajectory,
			Columns:    r.defaults.Columns,
			CRS:        crs,
			TimeFormat: timeFormat,
			TimeOffset: r.defaults.TimeOffset,
		},
		Kernel:   kernel,
		Parallel: parallel,
		DryRun:   dryRun,
		Reader:   reader,
		Writer:   writer,
		Store:    r.store,
		Metrics:  r.metrics,
		Logger:   r.log,
	})
	if err != nil {
		return Result{Job: job, Error: err, Meta: map[string]any{"kernel": kernel.String(), "crs": crs}}
	}
	return Result{Job: job, Meta: res.Meta(), Output: res}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	reader, err := r.tools.Reader()
	if err != nil {
		return Result{Job: job, Error: err}
	}
	summary, err := tasks.Scan(ctx, job.InputPath, reader)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if summary.Mismatch() {
		logging.LogDataQuality(r.log, job.ID, "some files could not be parsed", map[string]any{
			"found": len(summary.Images),
			"dated": len(summary.Times),
		})
	}
	records := make([]storage.CaptureTime, len(summary.Times))
	for i, it := range summary.Times {
		records[i] = storage.CaptureTime{FilePath: it.Path, Time: it.Time, Source: summary.Reader}
	}
	if err := r.store.RecordCaptureTimes(ctx, job.ID, records); err != nil {
		r.log.Warn("failed to record capture times", "job", job.ID, "error", err)
	}

	meta := map[string]any{
		"images":   len(summary.Images),
		"dated":    len(summary.Times),
		"skipped":  len(summary.Skipped),
		"sessions": len(summary.Sessions),
		"reader":   summary.Reader,
	}
	if len(summary.Times) > 0 {
		meta["first"] = summary.Times[0].Time
		meta["last"] = summary.Times[len(summary.Times)-1].Time
	}
	return Result{Job: job, Meta: meta, Output: summary}
}

func (r *router) handleCheck(_ context.Context, job Job) Result {
	status := r.tools.GetToolStatus()
	meta := make(map[string]any, len(status))
	for _, name := range tasks.ToolNames(status) {
		st := status[name]
		logging.LogToolStatus(r.log, name, st.Available, st.Version, st.Path, st.Error)
		meta[name] = map[string]any{"available": st.Available, "version": st.Version, "path": st.Path}
	}
	var err error
	if !status["exiftool"].Available {
		err = errors.New("exiftool not found. Is it installed?")
	}
	if !status["ddb"].Available {
		r.log.Warn("ddb not found. Is DroneDB installed?")
	}
	return Result{Job: job, Error: err, Meta: meta, Output: status}
}

func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

// optInt accepts ints and JSON numbers.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
