// Package interpolate answers "where was the trajectory at time T" with a
// selectable kernel and strict range enforcement. It never extrapolates.
package interpolate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"traj2gps/internal/trajectory"
)

// Position is an interpolated point in the trajectory's CRS.
type Position struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Height   float64 `json:"height"`
}

// Query asks for the position of one image at its capture time.
type Query struct {
	ID   string  `json:"id"`
	Time float64 `json:"time"`
}

// Result is the answer to a Query.
type Result struct {
	ID string `json:"id"`
	Position
}

// Coverage describes a batch of query times accepted by ValidateRange.
type Coverage struct {
	Count    int     `json:"count"`
	QueryMin float64 `json:"query_min"`
	QueryMax float64 `json:"query_max"`
	StoreMin float64 `json:"store_min"`
	StoreMax float64 `json:"store_max"`
}

// Engine fits one interpolant per axis over a borrowed trajectory.Store.
// It is immutable after New and safe for concurrent use.
type Engine struct {
	store  *trajectory.Store
	kernel Kernel
	axes   [3]interp.Predictor
}

// New fits kernel to every axis of store. It fails with *ConfigError for an
// invalid kernel and *InsufficientDataError when the store is too short.
func New(store *trajectory.Store, kernel Kernel) (*Engine, error) {
	if !kernel.Valid() {
		return nil, &ConfigError{Kernel: fmt.Sprintf("kernel(%d)", int(kernel))}
	}
	if store.Len() < kernel.MinSamples() {
		return nil, &InsufficientDataError{
			Kernel:    kernel,
			Required:  kernel.MinSamples(),
			Available: store.Len(),
		}
	}

	times, eastings, northings, heights := store.Columns()
	e := &Engine{store: store, kernel: kernel}
	for i, ys := range [][]float64{eastings, northings, heights} {
		f := kernel.fitter()
		if err := f.Fit(times, ys); err != nil {
			return nil, fmt.Errorf("fit %s kernel on axis %d: %w", kernel, i, err)
		}
		e.axes[i] = f
	}
	return e, nil
}

// NewNamed is New with a kernel given by name.
func NewNamed(store *trajectory.Store, kernel string) (*Engine, error) {
	k, err := ParseKernel(kernel)
	if err != nil {
		return nil, err
	}
	return New(store, k)
}

// Kernel returns the engine's kernel.
func (e *Engine) Kernel() Kernel { return e.kernel }

// Store returns the trajectory the engine was built on.
func (e *Engine) Store() *trajectory.Store { return e.store }

// ValidateRange accepts or rejects a whole batch of query times. An empty
// batch is accepted.
func (e *Engine) ValidateRange(times []float64) (Coverage, error) {
	cov := Coverage{
		Count:    len(times),
		StoreMin: e.store.MinTime(),
		StoreMax: e.store.MaxTime(),
	}
	if len(times) == 0 {
		return cov, nil
	}

	cov.QueryMin, cov.QueryMax = math.Inf(1), math.Inf(-1)
	for _, t := range times {
		if math.IsNaN(t) {
			return cov, &RangeError{Side: Below, Query: t, Bound: cov.StoreMin}
		}
		cov.QueryMin = math.Min(cov.QueryMin, t)
		cov.QueryMax = math.Max(cov.QueryMax, t)
	}
	if cov.QueryMin < cov.StoreMin {
		return cov, &RangeError{Side: Below, Query: cov.QueryMin, Bound: cov.StoreMin}
	}
	if cov.QueryMax > cov.StoreMax {
		return cov, &RangeError{Side: Above, Query: cov.QueryMax, Bound: cov.StoreMax}
	}
	return cov, nil
}

// Interpolate returns the position at t. The range is checked on every call
// so the engine is safe to use without a prior ValidateRange.
func (e *Engine) Interpolate(t float64) (Position, error) {
	if err := e.check(t); err != nil {
		return Position{}, err
	}
	return Position{
		Easting:  e.axes[0].Predict(t),
		Northing: e.axes[1].Predict(t),
		Height:   e.axes[2].Predict(t),
	}, nil
}

// InterpolateBatch validates all query times first and then answers them in
// order. Nothing is returned if any query is out of range.
func (e *Engine) InterpolateBatch(queries []Query) ([]Result, error) {
	times := make([]float64, len(queries))
	for i, q := range queries {
		times[i] = q.Time
	}
	if _, err := e.ValidateRange(times); err != nil {
		return nil, err
	}

	out := make([]Result, len(queries))
	for i, q := range queries {
		pos, err := e.Interpolate(q.Time)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q.ID, err)
		}
		out[i] = Result{ID: q.ID, Position: pos}
	}
	return out, nil
}

func (e *Engine) check(t float64) error {
	lo, hi := e.store.MinTime(), e.store.MaxTime()
	switch {
	case !(t >= lo):
		return &RangeError{Side: Below, Query: t, Bound: lo}
	case t > hi:
		return &RangeError{Side: Above, Query: t, Bound: hi}
	}
	return nil
}
