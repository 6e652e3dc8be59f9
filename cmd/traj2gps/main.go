package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"traj2gps/internal/cli"
	"traj2gps/internal/config"
	"traj2gps/internal/interpolate"
	"traj2gps/internal/logging"
	"traj2gps/internal/metrics"
	"traj2gps/internal/pipeline"
	"traj2gps/internal/storage"
	"traj2gps/internal/tasks"
	"traj2gps/internal/trajectory"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open job database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kernel, _ := interpolate.ParseKernel(cfg.Interpolation.Kernel)
	m := metrics.New()
	router := pipeline.NewRouter(logger, store, m, tasks.NewToolManager(cfg.Tools), pipeline.Defaults{
		Columns: trajectory.Columns{
			Time:     cfg.Trajectory.TimeColumn,
			Easting:  cfg.Trajectory.EastingColumn,
			Northing: cfg.Trajectory.NorthingColumn,
			Height:   cfg.Trajectory.HeightColumn,
		},
		CRS:        cfg.Projection.CRS,
		TimeFormat: cfg.Trajectory.TimeFormat,
		TimeOffset: cfg.Trajectory.GPSTimeOffset,
		Kernel:     kernel,
		Parallel:   cfg.Processing.ParallelJobs,
	})
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, router,
		pipeline.WithQueueSize(cfg.Processing.QueueSize),
		pipeline.WithMetrics(m),
	)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, logger, store, pipe, m).ExecuteContext(ctx)
}
