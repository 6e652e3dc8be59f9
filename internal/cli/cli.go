package cli

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"traj2gps/internal/config"
	"traj2gps/internal/gpstime"
	"traj2gps/internal/interpolate"
	"traj2gps/internal/metrics"
	"traj2gps/internal/pipeline"
	"traj2gps/internal/projection"
	"traj2gps/internal/storage"
	"traj2gps/internal/tasks"
	"traj2gps/internal/trajectory"
)

// Version is reported by the version command.
const Version = "v1.0.0-dev"

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type toolManager interface {
	GetToolStatus() map[string]tasks.ToolStatus
	Reader() (tasks.TimeReader, error)
	Writer() (tasks.PositionWriter, error)
}

type toolManagerFactory func(config.Tools) toolManager

type serveFunc func(ctx context.Context, opts serveOptions) error

type watchFunc func(ctx context.Context, req tasks.WatchRequest) error

// Root wires CLI commands to the pipeline and the interpolation engine.
type Root struct {
	pipeline    pipelineClient
	cfg         *config.Config
	log         *slog.Logger
	store       *storage.Store
	metrics     *metrics.Manager
	toolFactory toolManagerFactory
	serveFn     serveFunc
	watchFn     watchFunc
	stdin       io.Reader
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store, m *metrics.Manager) *Root {
	r := &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		metrics:  m,
		toolFactory: func(cfg config.Tools) toolManager {
			return tasks.NewToolManager(cfg)
		},
		watchFn: tasks.Watch,
		stdin:   os.Stdin,
	}
	r.serveFn = r.defaultServe
	return r
}

func (r *Root) newToolManager() toolManager {
	if r.toolFactory != nil {
		return r.toolFactory(r.cfg.Tools)
	}
	return tasks.NewToolManager(r.cfg.Tools)
}

// trajectoryOptions are the per-invocation overrides shared by every command
// that loads a trajectory.
type trajectoryOptions struct {
	Path       string
	CRS        string
	Kernel     string
	TimeFormat string
}

func (r *Root) defaultTrajectoryOptions() trajectoryOptions {
	return trajectoryOptions{
		CRS:        r.cfg.Projection.CRS,
		Kernel:     r.cfg.Interpolation.Kernel,
		TimeFormat: r.cfg.Trajectory.TimeFormat,
	}
}

func (r *Root) columns() trajectory.Columns {
	return trajectory.Columns{
		Time:     r.cfg.Trajectory.TimeColumn,
		Easting:  r.cfg.Trajectory.EastingColumn,
		Northing: r.cfg.Trajectory.NorthingColumn,
		Height:   r.cfg.Trajectory.HeightColumn,
	}
}

func (r *Root) loadTrajectory(o trajectoryOptions) (*trajectory.Store, projection.Projector, error) {
	if o.Path == "" {
		return nil, nil, errors.New("a trajectory file is required (--trajectory)")
	}
	proj, err := projection.ForCRS(o.CRS)
	if err != nil {
		return nil, nil, err
	}
	store, err := tasks.TrajectorySource{
		Path:       o.Path,
		Columns:    r.columns(),
		CRS:        proj.CRS(),
		TimeFormat: o.TimeFormat,
		TimeOffset: r.cfg.Trajectory.GPSTimeOffset,
	}.Load()
	if err != nil {
		return nil, nil, err
	}
	r.metrics.TrajectoryLoaded(store.Len(), store.Span())
	r.log.Info("trajectory loaded", "path", o.Path, "samples", store.Len(), "crs", store.CRS())
	return store, proj, nil
}

func (r *Root) loadEngine(o trajectoryOptions) (*interpolate.Engine, projection.Projector, error) {
	store, proj, err := r.loadTrajectory(o)
	if err != nil {
		return nil, nil, err
	}
	eng, err := interpolate.NewNamed(store, o.Kernel)
	if err != nil {
		return nil, nil, err
	}
	return eng, proj, nil
}

type geotagOptions struct {
	trajectoryOptions
	Parallel int
	DryRun   bool
	JSON     bool
}

func (r *Root) cmdGeotag(ctx context.Context, input string, o geotagOptions) error {
	if o.Path == "" {
		return errors.New("geotag requires --trajectory")
	}
	opts := map[string]any{"source": "cli", "dry_run": o.DryRun}
	if o.CRS != "" {
		opts["crs"] = o.CRS
	}
	if o.Kernel != "" {
		opts["kernel"] = o.Kernel
	}
	if o.TimeFormat != "" {
		opts["time_format"] = o.TimeFormat
	}
	if o.Parallel > 0 {
		opts["parallel"] = o.Parallel
	}

	fmt.Println("Gathering image information")
	res, err := r.enqueueAndWait(ctx, pipeline.Job{
		ID:         newID(),
		Type:       pipeline.JobGeotag,
		InputPath:  input,
		Trajectory: o.Path,
		Options:    opts,
	})
	if err != nil {
		return err
	}

	out, ok := res.Output.(tasks.GeotagResult)
	if !ok {
		return printMeta(res.Meta)
	}
	if o.JSON {
		return printJSON(out)
	}
	printGeotag(out)
	return nil
}

func printGeotag(out tasks.GeotagResult) {
	fmt.Printf("Found %s images\n", humanize.Comma(int64(out.Images)))
	if len(out.Skipped) > 0 {
		fmt.Printf("WARNING: some files could not be parsed (%d)\n", len(out.Skipped))
	}
	for _, img := range out.Tagged {
		fmt.Printf("  %s  %s  lat=%.8f lon=%.8f alt=%.3f\n",
			img.Path, formatUTC(img.Time), img.Geodetic.Lat, img.Geodetic.Lon, img.Geodetic.Alt)
	}
	verb := "Tagged"
	if out.DryRun {
		verb = "Would tag"
	}
	fmt.Printf("%s %s images in %s (kernel %s, %s)\n",
		verb, humanize.Comma(int64(len(out.Tagged))), out.Duration.Round(time.Millisecond), out.Kernel, out.CRS)
}

func (r *Root) cmdScan(ctx context.Context, input string, asJSON bool) error {
	res, err := r.enqueueAndWait(ctx, pipeline.Job{
		ID:        newID(),
		Type:      pipeline.JobScan,
		InputPath: input,
		Options:   map[string]any{"source": "cli"},
	})
	if err != nil {
		return err
	}
	out, ok := res.Output.(tasks.ScanResult)
	if !ok {
		return printMeta(res.Meta)
	}
	if asJSON {
		return printJSON(out)
	}

	fmt.Printf("Found %s images (%s dated, reader %s)\n",
		humanize.Comma(int64(len(out.Images))), humanize.Comma(int64(len(out.Times))), out.Reader)
	if out.Mismatch() {
		fmt.Println("WARNING: some files could not be parsed")
		for _, p := range out.Skipped {
			fmt.Printf("  skipped %s\n", p)
		}
	}
	for i, s := range out.Sessions {
		fmt.Printf("  session %d: %s .. %s, %d images over %s\n",
			i+1, formatUTC(s.Start), formatUTC(s.End), s.Count, seconds(s.End-s.Start))
	}
	return nil
}

func (r *Root) cmdCheck(ctx context.Context) error {
	res, err := r.enqueueAndWait(ctx, pipeline.Job{
		ID:      newID(),
		Type:    pipeline.JobCheck,
		Options: map[string]any{"source": "cli"},
	})
	if status, ok := res.Output.(map[string]tasks.ToolStatus); ok {
		printToolStatus(status, false)
	}
	return err
}

// cmdTools reports tool availability without going through the pipeline.
func (r *Root) cmdTools(verbose bool) error {
	status := r.newToolManager().GetToolStatus()

	fmt.Println("traj2gps Tool Status Report")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("\nConfigured tools:\n")
	fmt.Printf("  exiftool:        %s\n", r.cfg.Tools.Exiftool)
	fmt.Printf("  ddb:             %s\n", r.cfg.Tools.DDB)
	fmt.Printf("  metadata reader: %s\n\n", r.cfg.Tools.MetadataReader)
	printToolStatus(status, verbose)

	var missing []string
	for _, name := range tasks.ToolNames(status) {
		if !status[name].Available {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		fmt.Printf("\nInstallation Suggestions:\n")
		suggestInstalls(missing)
	}
	return nil
}

func printToolStatus(status map[string]tasks.ToolStatus, verbose bool) {
	for _, name := range tasks.ToolNames(status) {
		st := status[name]
		mark := "missing"
		if st.Available {
			mark = "ok"
		}
		fmt.Printf("  %-8s %-7s", name, mark)
		if st.Available && st.Version != "" {
			fmt.Printf(" %s", st.Version)
		}
		if verbose && st.Path != "" {
			fmt.Printf(" [%s]", st.Path)
		}
		if verbose && st.Error != nil {
			fmt.Printf(" - %v", st.Error)
		}
		fmt.Println()
	}
}

func suggestInstalls(tools []string) {
	apt := map[string]string{"exiftool": "libimage-exiftool-perl"}
	brew := map[string]string{"exiftool": "exiftool"}
	for _, tool := range tools {
		switch tool {
		case "ddb":
			fmt.Printf("  ddb: see https://docs.dronedb.app for DroneDB install instructions\n")
		default:
			if pkg, ok := apt[tool]; ok {
				fmt.Printf("  Ubuntu/Debian: sudo apt install %s\n", pkg)
				fmt.Printf("  macOS:         brew install %s\n", brew[tool])
			}
		}
	}
}

type interpolateOptions struct {
	trajectoryOptions
	QueryFormat string // utc, gps, adjusted
	Geodetic    bool
}

// cmdInterpolate answers query times given as arguments, or one per line on
// stdin, as CSV on stdout.
func (r *Root) cmdInterpolate(_ context.Context, args []string, o interpolateOptions) error {
	eng, proj, err := r.loadEngine(o.trajectoryOptions)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		sc := bufio.NewScanner(r.stdin)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
				args = append(args, line)
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read query times: %w", err)
		}
	}

	queries := make([]interpolate.Query, len(args))
	for i, arg := range args {
		t, err := parseQueryTime(arg, o.QueryFormat)
		if err != nil {
			return err
		}
		queries[i] = interpolate.Query{ID: arg, Time: t}
	}

	start := time.Now()
	results, err := eng.InterpolateBatch(queries)
	if err != nil {
		var re *interpolate.RangeError
		if errors.As(err, &re) {
			r.metrics.RangeFailure(string(re.Side))
		}
		return err
	}
	r.metrics.ObserveBatch(eng.Kernel().String(), len(results), time.Since(start))

	w := csv.NewWriter(os.Stdout)
	header := []string{"query", "utc", "easting", "northing", "height"}
	if o.Geodetic {
		header = append(header, "lat", "lon", "alt")
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for i, res := range results {
		row := []string{
			res.ID,
			formatUTC(queries[i].Time),
			ff(res.Easting, 3), ff(res.Northing, 3), ff(res.Height, 3),
		}
		if o.Geodetic {
			g, err := proj.Inverse(res.Easting, res.Northing, res.Height)
			if err != nil {
				return fmt.Errorf("query %s: %w", res.ID, err)
			}
			row = append(row, ff(g.Lat, 8), ff(g.Lon, 8), ff(g.Alt, 3))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// parseQueryTime accepts RFC 3339 timestamps or numeric seconds in the given
// time scale.
func parseQueryTime(s, format string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		switch format {
		case "", "utc":
			return v, nil
		case "gps":
			return gpstime.ToUTC(v), nil
		case "adjusted":
			return gpstime.FromAdjusted(v), nil
		default:
			return 0, fmt.Errorf("unknown query time format %q (want utc, gps or adjusted)", format)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, fmt.Errorf("invalid query time %q: want seconds or RFC 3339", s)
	}
	return gpstime.Seconds(t), nil
}

func (r *Root) cmdStats(o trajectoryOptions, asJSON bool) error {
	store, _, err := r.loadTrajectory(o)
	if err != nil {
		return err
	}
	st := store.Summarize()
	if asJSON {
		return printJSON(st)
	}

	fmt.Printf("Trajectory %s (%s)\n", o.Path, store.CRS())
	fmt.Printf("  samples:       %s\n", humanize.Comma(int64(st.Count)))
	fmt.Printf("  start:         %s\n", formatUTC(st.Start))
	fmt.Printf("  end:           %s\n", formatUTC(st.End))
	fmt.Printf("  duration:      %s\n", seconds(st.Duration))
	fmt.Printf("  path length:   %s\n", humanize.SIWithDigits(st.PathLength, 2, "m"))
	fmt.Printf("  interval:      %.4fs mean, %.4fs stddev\n", st.MeanInterval, st.StdInterval)
	fmt.Printf("  largest gap:   %s at %s\n", seconds(st.MaxGap), formatUTC(st.MaxGapAt))
	fmt.Printf("  speed:         %.2f m/s mean, %.2f m/s max\n", st.MeanSpeed, st.MaxSpeed)
	return nil
}

type watchOptions struct {
	trajectoryOptions
	Settle time.Duration
	DryRun bool
}

func (r *Root) cmdWatch(ctx context.Context, dir string, o watchOptions) error {
	eng, proj, err := r.loadEngine(o.trajectoryOptions)
	if err != nil {
		return err
	}
	tm := r.newToolManager()
	reader, err := tm.Reader()
	if err != nil {
		return err
	}
	var writer tasks.PositionWriter
	if !o.DryRun {
		if writer, err = tm.Writer(); err != nil {
			return err
		}
	}

	fmt.Printf("Watching %s (trajectory %s .. %s)\n",
		dir, formatUTC(eng.Store().MinTime()), formatUTC(eng.Store().MaxTime()))
	return r.watchFn(ctx, tasks.WatchRequest{
		Dir:       dir,
		Settle:    o.Settle,
		Engine:    eng,
		Projector: proj,
		Reader:    reader,
		Writer:    writer,
		Metrics:   r.metrics,
		Logger:    r.log,
		OnTagged: func(img tasks.TaggedImage) {
			fmt.Printf("  %s  lat=%.8f lon=%.8f alt=%.3f\n", img.Path, img.Geodetic.Lat, img.Geodetic.Lon, img.Geodetic.Alt)
		},
	})
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{Job: job}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{Job: job}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{Job: job}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				return res, res.Error
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Debug("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID() string {
	return uuid.NewString()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMeta(meta map[string]any) error {
	if len(meta) == 0 {
		return nil
	}
	return printJSON(meta)
}

func formatUTC(sec float64) string {
	return gpstime.UnixTime(sec).Format("2006-01-02T15:04:05.000Z")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}

func ff(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
