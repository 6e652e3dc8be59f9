package trajectory

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Store holds an immutable, ascending-time trajectory. It is safe for
// concurrent readers because nothing mutates it after construction.
type Store struct {
	samples []Sample
	crs     string
}

// Option configures Build and New.
type Option func(*buildOptions)

type buildOptions struct {
	crs       string
	transform func(float64) float64
}

// WithCRS attaches an opaque coordinate reference system label.
func WithCRS(label string) Option {
	return func(o *buildOptions) { o.crs = label }
}

// WithTimeTransform maps every parsed sample time before validation, e.g. to
// convert GPS seconds to UTC.
func WithTimeTransform(fn func(float64) float64) Option {
	return func(o *buildOptions) { o.transform = fn }
}

// Build parses raw records and returns a validated Store. Any field that is
// not a finite number fails the whole build.
func Build(raw []RawSample, opts ...Option) (*Store, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Reason: "empty input", Index: -1}
	}
	samples := make([]Sample, len(raw))
	for i, r := range raw {
		s, err := parseSample(r)
		if err != nil {
			return nil, &ValidationError{Reason: "malformed sample", Index: i, Err: err}
		}
		samples[i] = s
	}
	return New(samples, opts...)
}

// New validates numeric samples and returns a Store owning a sorted copy.
//
// Samples are sorted with a stable sort, so equal times keep input order.
// Equal times are then rejected: the reported index is that of the later
// sample in sorted order.
func New(samples []Sample, opts ...Option) (*Store, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if len(samples) == 0 {
		return nil, &ValidationError{Reason: "empty input", Index: -1}
	}

	owned := make([]Sample, len(samples))
	copy(owned, samples)
	for i := range owned {
		if o.transform != nil {
			owned[i].Time = o.transform(owned[i].Time)
		}
		if !finite(owned[i]) {
			return nil, &ValidationError{Reason: "malformed sample", Index: i, Err: fmt.Errorf("non-finite value")}
		}
	}

	sort.SliceStable(owned, func(i, j int) bool { return owned[i].Time < owned[j].Time })
	for i := 1; i < len(owned); i++ {
		if owned[i].Time == owned[i-1].Time {
			return nil, &ValidationError{Reason: "duplicate timestamp", Index: i}
		}
	}
	return &Store{samples: owned, crs: o.crs}, nil
}

// MinTime returns the earliest sample time.
func (s *Store) MinTime() float64 { return s.samples[0].Time }

// MaxTime returns the latest sample time.
func (s *Store) MaxTime() float64 { return s.samples[len(s.samples)-1].Time }

// Span returns MaxTime - MinTime.
func (s *Store) Span() float64 { return s.MaxTime() - s.MinTime() }

// Len returns the number of samples.
func (s *Store) Len() int { return len(s.samples) }

// CRS returns the label passed through WithCRS.
func (s *Store) CRS() string { return s.crs }

// Samples returns the sorted samples. The slice is shared with the store
// and must not be modified.
func (s *Store) Samples() []Sample { return s.samples }

// Contains reports whether t lies within [MinTime, MaxTime].
func (s *Store) Contains(t float64) bool {
	return t >= s.MinTime() && t <= s.MaxTime()
}

// Columns returns fresh per-axis copies of the samples, in time order.
func (s *Store) Columns() (times, eastings, northings, heights []float64) {
	n := len(s.samples)
	times = make([]float64, n)
	eastings = make([]float64, n)
	northings = make([]float64, n)
	heights = make([]float64, n)
	for i, smp := range s.samples {
		times[i] = smp.Time
		eastings[i] = smp.Easting
		northings[i] = smp.Northing
		heights[i] = smp.Height
	}
	return times, eastings, northings, heights
}

func parseSample(r RawSample) (Sample, error) {
	var s Sample
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"time", r.Time, &s.Time},
		{"easting", r.Easting, &s.Easting},
		{"northing", r.Northing, &s.Northing},
		{"height", r.Height, &s.Height},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return s, nil
}

func finite(s Sample) bool {
	for _, v := range []float64{s.Time, s.Easting, s.Northing, s.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
