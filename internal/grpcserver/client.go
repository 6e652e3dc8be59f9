package grpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"traj2gps/internal/interpolate"
)

// Client calls a remote Interpolator.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Interpolate sends times and returns the raw response fields.
func (c *Client) Interpolate(ctx context.Context, times []float64, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := timesRequest(times)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, interpolateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ValidateRange returns the remote engine's coverage for times.
func (c *Client) ValidateRange(ctx context.Context, times []float64, opts ...grpc.CallOption) (interpolate.Coverage, error) {
	in, err := timesRequest(times)
	if err != nil {
		return interpolate.Coverage{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, validateRangeMethod, in, out, opts...); err != nil {
		return interpolate.Coverage{}, err
	}
	f := out.GetFields()
	return interpolate.Coverage{
		Count:    int(f["count"].GetNumberValue()),
		QueryMin: f["query_min"].GetNumberValue(),
		QueryMax: f["query_max"].GetNumberValue(),
		StoreMin: f["store_min"].GetNumberValue(),
		StoreMax: f["store_max"].GetNumberValue(),
	}, nil
}

func timesRequest(times []float64) (*structpb.Struct, error) {
	list := make([]any, len(times))
	for i, t := range times {
		list[i] = t
	}
	in, err := structpb.NewStruct(map[string]any{"times": list})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return in, nil
}
