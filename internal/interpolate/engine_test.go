package interpolate

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traj2gps/internal/trajectory"
)

func mustStore(t *testing.T, samples ...trajectory.Sample) *trajectory.Store {
	t.Helper()
	store, err := trajectory.New(samples)
	require.NoError(t, err)
	return store
}

// curvedStore has irregular spacing and non-linear motion on every axis.
func curvedStore(t *testing.T) *trajectory.Store {
	t.Helper()
	var samples []trajectory.Sample
	for _, tm := range []float64{0, 0.7, 1.5, 2.1, 3.4, 4.0, 5.5, 6.2, 8.0} {
		samples = append(samples, trajectory.Sample{
			Time:     tm,
			Easting:  500000 + 12*tm + math.Sin(tm),
			Northing: 4000000 - 3*tm*tm,
			Height:   100 + math.Cos(tm/2),
		})
	}
	return mustStore(t, samples...)
}

func TestNewRejectsInvalidKernel(t *testing.T) {
	t.Parallel()

	store := curvedStore(t)
	for _, k := range []Kernel{0, 4, -1} {
		_, err := New(store, k)
		assert.ErrorIs(t, err, ErrConfig)
		var cerr *ConfigError
		assert.True(t, errors.As(err, &cerr))
	}

	_, err := NewNamed(store, "spline")
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "spline", cerr.Kernel)
}

func TestNewInsufficientData(t *testing.T) {
	t.Parallel()

	two := mustStore(t, trajectory.Sample{Time: 0}, trajectory.Sample{Time: 1})
	three := mustStore(t, trajectory.Sample{Time: 0}, trajectory.Sample{Time: 1}, trajectory.Sample{Time: 2})
	one := mustStore(t, trajectory.Sample{Time: 0})

	tests := []struct {
		store     *trajectory.Store
		kernel    Kernel
		required  int
		available int
	}{
		{two, Cubic, 4, 2},
		{three, Cubic, 4, 3},
		{two, Quadratic, 3, 2},
		{one, Linear, 2, 1},
	}
	for _, tt := range tests {
		_, err := New(tt.store, tt.kernel)
		var ierr *InsufficientDataError
		require.True(t, errors.As(err, &ierr), "kernel %s: %v", tt.kernel, err)
		assert.ErrorIs(t, err, ErrInsufficientData)
		assert.Equal(t, tt.kernel, ierr.Kernel)
		assert.Equal(t, tt.required, ierr.Required)
		assert.Equal(t, tt.available, ierr.Available)
	}

	_, err := New(three, Quadratic)
	assert.NoError(t, err)
	_, err = New(two, Linear)
	assert.NoError(t, err)
}

func TestInterpolateReproducesSamples(t *testing.T) {
	t.Parallel()

	store := curvedStore(t)
	for _, k := range Kernels {
		engine, err := New(store, k)
		require.NoError(t, err)
		for _, s := range store.Samples() {
			pos, err := engine.Interpolate(s.Time)
			require.NoError(t, err)
			assert.InDelta(t, s.Easting, pos.Easting, 1e-6, "%s at %v", k, s.Time)
			assert.InDelta(t, s.Northing, pos.Northing, 1e-6, "%s at %v", k, s.Time)
			assert.InDelta(t, s.Height, pos.Height, 1e-6, "%s at %v", k, s.Time)
		}
	}
}

func TestLinearMidpoint(t *testing.T) {
	t.Parallel()

	store := mustStore(t,
		trajectory.Sample{Time: 0, Easting: 0, Northing: 10, Height: -4},
		trajectory.Sample{Time: 10, Easting: 100, Northing: 20, Height: 4},
	)
	engine, err := New(store, Linear)
	require.NoError(t, err)

	pos, err := engine.Interpolate(5)
	require.NoError(t, err)
	assert.Equal(t, 50.0, pos.Easting)
	assert.Equal(t, 15.0, pos.Northing)
	assert.Equal(t, 0.0, pos.Height)
}

func TestQuadraticReproducesParabola(t *testing.T) {
	t.Parallel()

	var samples []trajectory.Sample
	for _, tm := range []float64{0, 1, 3, 4, 7} {
		samples = append(samples, trajectory.Sample{Time: tm, Easting: tm * tm, Northing: 2*tm + 1, Height: 5})
	}
	engine, err := New(mustStore(t, samples...), Quadratic)
	require.NoError(t, err)

	for _, tm := range []float64{0.5, 2.5, 3.9, 5.25, 6.99} {
		pos, err := engine.Interpolate(tm)
		require.NoError(t, err)
		assert.InDelta(t, tm*tm, pos.Easting, 1e-9)
		assert.InDelta(t, 2*tm+1, pos.Northing, 1e-9)
		assert.InDelta(t, 5, pos.Height, 1e-9)
	}
}

func TestCubicReproducesCubic(t *testing.T) {
	t.Parallel()

	var samples []trajectory.Sample
	for _, tm := range []float64{0, 1, 2, 3, 5} {
		samples = append(samples, trajectory.Sample{Time: tm, Easting: tm * tm * tm, Northing: -tm, Height: 1})
	}
	engine, err := New(mustStore(t, samples...), Cubic)
	require.NoError(t, err)

	for _, tm := range []float64{0.25, 1.5, 2.5, 4.0, 4.75} {
		pos, err := engine.Interpolate(tm)
		require.NoError(t, err)
		assert.InDelta(t, tm*tm*tm, pos.Easting, 1e-6)
		assert.InDelta(t, -tm, pos.Northing, 1e-6)
	}
}

func TestInterpolateOutOfRange(t *testing.T) {
	t.Parallel()

	store := curvedStore(t)
	for _, k := range Kernels {
		engine, err := New(store, k)
		require.NoError(t, err)

		tests := []struct {
			time float64
			side Side
		}{
			{-1e-9, Below},
			{-100, Below},
			{8 + 1e-9, Above},
			{math.Inf(1), Above},
			{math.Inf(-1), Below},
			{math.NaN(), Below},
		}
		for _, tt := range tests {
			pos, err := engine.Interpolate(tt.time)
			var rerr *RangeError
			require.True(t, errors.As(err, &rerr), "%s at %v", k, tt.time)
			assert.ErrorIs(t, err, ErrRange)
			assert.Equal(t, tt.side, rerr.Side)
			assert.Equal(t, Position{}, pos)
		}
	}
}

func TestValidateRange(t *testing.T) {
	t.Parallel()

	engine, err := New(curvedStore(t), Linear)
	require.NoError(t, err)

	queries := make([]float64, 1000)
	for i := range queries {
		queries[i] = float64(i) * 8 / 1000
	}

	cov, err := engine.ValidateRange(queries)
	require.NoError(t, err)
	assert.Equal(t, 1000, cov.Count)
	assert.Equal(t, 0.0, cov.QueryMin)
	assert.Equal(t, 8.0, cov.StoreMax)

	queries[999] = 8 + 1e-12
	_, err = engine.ValidateRange(queries)
	var rerr *RangeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, Above, rerr.Side)
	assert.Equal(t, 8+1e-12, rerr.Query)
	assert.Equal(t, 8.0, rerr.Bound)

	queries[999] = 7
	queries[500] = -0.5
	_, err = engine.ValidateRange(queries)
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, Below, rerr.Side)
	assert.Equal(t, -0.5, rerr.Query)
	assert.Equal(t, 0.0, rerr.Bound)

	cov, err = engine.ValidateRange(nil)
	assert.NoError(t, err)
	assert.Zero(t, cov.Count)
}

func TestInterpolateBatch(t *testing.T) {
	t.Parallel()

	engine, err := New(curvedStore(t), Cubic)
	require.NoError(t, err)

	res, err := engine.InterpolateBatch([]Query{{ID: "b.jpg", Time: 4}, {ID: "a.jpg", Time: 1}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "b.jpg", res[0].ID)
	assert.Equal(t, "a.jpg", res[1].ID)
	assert.InDelta(t, 100+math.Cos(2), res[0].Height, 1e-9)

	res, err = engine.InterpolateBatch([]Query{{ID: "ok", Time: 4}, {ID: "late", Time: 9}})
	assert.ErrorIs(t, err, ErrRange)
	assert.Nil(t, res)
}

func TestInterpolateDeterministic(t *testing.T) {
	t.Parallel()

	store := curvedStore(t)
	for _, k := range Kernels {
		a, err := New(store, k)
		require.NoError(t, err)
		b, err := New(store, k)
		require.NoError(t, err)
		for _, tm := range []float64{0.1, 1.23, 3.999, 7.5} {
			p1, err := a.Interpolate(tm)
			require.NoError(t, err)
			p2, err := b.Interpolate(tm)
			require.NoError(t, err)
			p3, err := a.Interpolate(tm)
			require.NoError(t, err)
			assert.Equal(t, math.Float64bits(p1.Easting), math.Float64bits(p2.Easting))
			assert.Equal(t, math.Float64bits(p1.Northing), math.Float64bits(p3.Northing))
			assert.Equal(t, math.Float64bits(p2.Height), math.Float64bits(p3.Height))
		}
	}
}

func TestInterpolateConcurrent(t *testing.T) {
	t.Parallel()

	engine, err := New(curvedStore(t), Cubic)
	require.NoError(t, err)

	times := make([]float64, 400)
	want := make([]Position, len(times))
	for i := range times {
		times[i] = float64(i) * 8 / float64(len(times))
		want[i], err = engine.Interpolate(times[i])
		require.NoError(t, err)
	}

	got := make([][]Position, 8)
	var wg sync.WaitGroup
	for w := range got {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]Position, len(times))
			for i := len(times) - 1; i >= 0; i-- {
				out[i], _ = engine.Interpolate(times[i])
			}
			got[w] = out
		}(w)
	}
	wg.Wait()

	for _, out := range got {
		assert.Equal(t, want, out)
	}
}
