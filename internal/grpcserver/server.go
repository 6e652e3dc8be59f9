// Package grpcserver serves the interpolation engine over gRPC. Messages are
// google.protobuf.Struct so no generated stubs are needed.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"traj2gps/internal/interpolate"
	"traj2gps/internal/metrics"
	"traj2gps/internal/projection"
)

const (
	ServiceName         = "traj2gps.v1.Interpolator"
	interpolateMethod   = "/" + ServiceName + "/Interpolate"
	validateRangeMethod = "/" + ServiceName + "/ValidateRange"
)

// InterpolatorServer is the service contract registered by ServiceDesc.
type InterpolatorServer interface {
	Interpolate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateRange(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes traj2gps.v1.Interpolator.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InterpolatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Interpolate", Handler: unaryHandler(interpolateMethod, InterpolatorServer.Interpolate)},
		{MethodName: "ValidateRange", Handler: unaryHandler(validateRangeMethod, InterpolatorServer.ValidateRange)},
	},
	Metadata: "traj2gps/v1/interpolator.proto",
}

type unaryMethod func(InterpolatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InterpolatorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InterpolatorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server answers Interpolator calls from one engine.
type Server struct {
	engine    *interpolate.Engine
	projector projection.Projector
	metrics   *metrics.Manager
	log       *slog.Logger
}

// New returns a Server. projector may be nil, in which case responses carry
// only projected coordinates.
func New(engine *interpolate.Engine, projector projection.Projector, m *metrics.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, projector: projector, metrics: m, log: logger}
}

// Register attaches the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(16<<20),
		grpc.MaxSendMsgSize(64<<20),
	)
	s.Register(gs)

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down grpc server")
		gs.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String(), "service", ServiceName)
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Interpolate(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	queries, err := queriesFrom(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	start := time.Now()
	results, err := s.engine.InterpolateBatch(queries)
	if err != nil {
		return nil, s.engineStatus(err)
	}
	s.metrics.ObserveBatch(s.engine.Kernel().String(), len(results), time.Since(start))

	out := make([]any, len(results))
	for i, r := range results {
		row := map[string]any{
			"id":       r.ID,
			"time":     queries[i].Time,
			"easting":  r.Easting,
			"northing": r.Northing,
			"height":   r.Height,
		}
		if s.projector != nil {
			g, err := s.projector.Inverse(r.Easting, r.Northing, r.Height)
			if err != nil {
				return nil, status.Errorf(codes.FailedPrecondition, "query %s: %v", r.ID, err)
			}
			row["lat"], row["lon"], row["alt"] = g.Lat, g.Lon, g.Alt
		}
		out[i] = row
	}
	return structpb.NewStruct(map[string]any{
		"kernel":  s.engine.Kernel().String(),
		"crs":     s.engine.Store().CRS(),
		"results": out,
	})
}

func (s *Server) ValidateRange(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	queries, err := queriesFrom(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	times := make([]float64, len(queries))
	for i, q := range queries {
		times[i] = q.Time
	}
	cov, err := s.engine.ValidateRange(times)
	if err != nil {
		return nil, s.engineStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"count":     cov.Count,
		"query_min": cov.QueryMin,
		"query_max": cov.QueryMax,
		"store_min": cov.StoreMin,
		"store_max": cov.StoreMax,
	})
}

func (s *Server) engineStatus(err error) error {
	var rerr *interpolate.RangeError
	if errors.As(err, &rerr) {
		s.metrics.RangeFailure(string(rerr.Side))
		return status.Error(codes.OutOfRange, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// queriesFrom accepts {"times": [t...]} or {"queries": [{"id", "time"}...]}.
func queriesFrom(req *structpb.Struct) ([]interpolate.Query, error) {
	fields := req.GetFields()
	if v, ok := fields["queries"]; ok {
		list := v.GetListValue()
		if list == nil {
			return nil, errors.New("queries must be a list")
		}
		out := make([]interpolate.Query, 0, len(list.GetValues()))
		for i, item := range list.GetValues() {
			obj := item.GetStructValue()
			if obj == nil {
				return nil, fmt.Errorf("queries[%d] must be an object", i)
			}
			tv, ok := obj.GetFields()["time"]
			if !ok {
				return nil, fmt.Errorf("queries[%d] has no time", i)
			}
			if _, isNum := tv.GetKind().(*structpb.Value_NumberValue); !isNum {
				return nil, fmt.Errorf("queries[%d].time must be a number", i)
			}
			id := obj.GetFields()["id"].GetStringValue()
			if id == "" {
				id = strconv.Itoa(i)
			}
			out = append(out, interpolate.Query{ID: id, Time: tv.GetNumberValue()})
		}
		return out, nil
	}

	list := fields["times"].GetListValue()
	if list == nil {
		return nil, errors.New("request needs times or queries")
	}
	out := make([]interpolate.Query, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		if _, isNum := item.GetKind().(*structpb.Value_NumberValue); !isNum {
			return nil, fmt.Errorf("times[%d] must be a number", i)
		}
		out = append(out, interpolate.Query{ID: strconv.Itoa(i), Time: item.GetNumberValue()})
	}
	return out, nil
}
