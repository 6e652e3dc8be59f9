package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"traj2gps/internal/config"
	"traj2gps/internal/metrics"
	"traj2gps/internal/pipeline"
	"traj2gps/internal/storage"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, m *metrics.Manager) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store, m))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "traj2gps",
		Short: "Georeference images from a recorded trajectory",
		Long: `traj2gps matches each image's capture time against a time-stamped trajectory,
interpolates the camera position at that instant and writes it to the image's
GPS tags. Runs abort before writing anything if any image falls outside the
trajectory's time range.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newGeotagCmd(root))
	rootCmd.AddCommand(newScanCmd(root))
	rootCmd.AddCommand(newCheckCmd(root))
	rootCmd.AddCommand(newInterpolateCmd(root))
	rootCmd.AddCommand(newStatsCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))
	return rootCmd
}

func addTrajectoryFlags(cmd *cobra.Command, o *trajectoryOptions, defaults trajectoryOptions) {
	cmd.Flags().StringVarP(&o.Path, "trajectory", "t", "", "trajectory CSV file")
	cmd.Flags().StringVarP(&o.CRS, "crs", "c", defaults.CRS, "EPSG code of trajectory values (EPSG:xxxx)")
	cmd.Flags().StringVarP(&o.Kernel, "kernel", "k", defaults.Kernel, "interpolation kernel (linear|quadratic|cubic)")
	cmd.Flags().StringVar(&o.TimeFormat, "time-format", defaults.TimeFormat, "trajectory time scale (gps|utc)")
}

func newGeotagCmd(root *Root) *cobra.Command {
	var o geotagOptions

	cmd := &cobra.Command{
		Use:   "geotag <images>",
		Short: "Write interpolated GPS positions into image metadata",
		Long: `Read the capture time of every image (a directory of JPG/JPEG/PNG/TIF/TIFF
files or a single file), interpolate the trajectory at those times and write
GPSLatitude/GPSLongitude/GPSAltitude with exiftool.

Examples:
  traj2gps geotag ./flight1 -t trajectory.csv -c EPSG:25832
  traj2gps geotag ./flight1 -t trajectory.csv -c EPSG:32633 --kernel cubic --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdGeotag(cmd.Context(), args[0], o)
		},
	}
	addTrajectoryFlags(cmd, &o.trajectoryOptions, root.defaultTrajectoryOptions())
	cmd.Flags().IntVar(&o.Parallel, "parallel", root.cfg.Processing.ParallelJobs, "images interpolated and written concurrently")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "interpolate and report without writing tags")
	cmd.Flags().BoolVar(&o.JSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("trajectory")
	return cmd
}

func newScanCmd(root *Root) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan [images]",
		Short: "List images and their capture times",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := root.cfg.Paths.DefaultInput
			if len(args) > 0 {
				input = args[0]
			}
			return root.cmdScan(cmd.Context(), input, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newCheckCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that the required external tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdCheck(cmd.Context())
		},
	}
}

func newInterpolateCmd(root *Root) *cobra.Command {
	var o interpolateOptions
	cmd := &cobra.Command{
		Use:   "interpolate [time...]",
		Short: "Interpolate trajectory positions at the given times",
		Long: `Print the interpolated position at each query time as CSV. Times are read
from the arguments, or one per line from stdin when none are given. A time is
either numeric seconds (see --query-format) or an RFC 3339 timestamp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdInterpolate(cmd.Context(), args, o)
		},
	}
	addTrajectoryFlags(cmd, &o.trajectoryOptions, root.defaultTrajectoryOptions())
	cmd.Flags().StringVar(&o.QueryFormat, "query-format", "utc", "scale of numeric query times (utc|gps|adjusted)")
	cmd.Flags().BoolVar(&o.Geodetic, "geodetic", false, "append WGS84 lat/lon/alt columns")
	_ = cmd.MarkFlagRequired("trajectory")
	return cmd
}

func newStatsCmd(root *Root) *cobra.Command {
	var (
		o      trajectoryOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats <trajectory>",
		Short: "Summarise a trajectory file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Path = args[0]
			return root.cmdStats(o, asJSON)
		},
	}
	defaults := root.defaultTrajectoryOptions()
	cmd.Flags().StringVarP(&o.CRS, "crs", "c", defaults.CRS, "EPSG code of trajectory values (EPSG:xxxx)")
	cmd.Flags().StringVar(&o.TimeFormat, "time-format", defaults.TimeFormat, "trajectory time scale (gps|utc)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var o watchOptions
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Geotag images as they arrive in a directory",
		Long: `Watch a directory and geotag every new image once it has stopped changing.
Images outside the trajectory's time range are logged and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdWatch(cmd.Context(), args[0], o)
		},
	}
	addTrajectoryFlags(cmd, &o.trajectoryOptions, root.defaultTrajectoryOptions())
	cmd.Flags().DurationVar(&o.Settle, "settle", 2*time.Second, "quiet period before a new file is processed")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "report positions without writing tags")
	_ = cmd.MarkFlagRequired("trajectory")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and optionally gRPC) server",
		Long: `Start an HTTP server for job submission and monitoring. With --trajectory the
trajectory is loaded once and /api/interpolate and /api/validate answer
against it; --grpc-addr additionally serves the traj2gps.v1.Interpolator
gRPC service.

Examples:
  traj2gps serve --addr 127.0.0.1:8080
  traj2gps serve -t trajectory.csv -c EPSG:25832 --grpc-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdServe(cmd.Context(), o)
		},
	}
	addTrajectoryFlags(cmd, &o.trajectoryOptions, root.defaultTrajectoryOptions())
	cmd.Flags().StringVar(&o.Addr, "addr", root.cfg.Server.Addr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&o.GRPCAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC address (host:port), disabled when empty")
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdTools(verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show tool paths and errors")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configValidate()
		},
	})
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.cmdVersion()
		},
	}
}
