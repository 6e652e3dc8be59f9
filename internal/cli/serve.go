package cli

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"traj2gps/internal/grpcserver"
	"traj2gps/internal/interpolate"
	"traj2gps/internal/pipeline"
	"traj2gps/internal/projection"
	"traj2gps/internal/server"
)

type serveOptions struct {
	trajectoryOptions
	Addr     string
	GRPCAddr string
}

func (r *Root) cmdServe(ctx context.Context, o serveOptions) error {
	if o.GRPCAddr != "" && o.Path == "" {
		return errors.New("--grpc-addr needs a trajectory (--trajectory)")
	}
	r.log.Info("starting server", "addr", o.Addr, "grpc_addr", o.GRPCAddr, "trajectory", o.Path)
	return r.serveFn(ctx, o)
}

func (r *Root) defaultServe(ctx context.Context, o serveOptions) error {
	real, ok := r.pipeline.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}

	var (
		eng  *interpolate.Engine
		proj projection.Projector
		err  error
	)
	if o.Path != "" {
		if eng, proj, err = r.loadEngine(o.trajectoryOptions); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewServer(server.Config{
			Addr:      o.Addr,
			Store:     r.store,
			Pipeline:  real,
			Engine:    eng,
			Projector: proj,
			Metrics:   r.metrics,
			Logger:    r.log,
		}).Start(gctx)
	})
	if o.GRPCAddr != "" {
		g.Go(func() error {
			return grpcserver.New(eng, proj, r.metrics, r.log).Start(gctx, o.GRPCAddr)
		})
	}
	return g.Wait()
}
