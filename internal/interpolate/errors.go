package interpolate

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by the structured error types via errors.Is.
var (
	ErrConfig           = errors.New("interpolate: invalid configuration")
	ErrInsufficientData = errors.New("interpolate: insufficient data")
	ErrRange            = errors.New("interpolate: query out of range")
)

// ConfigError reports an unrecognized interpolation kernel.
type ConfigError struct {
	Kernel string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("interpolate: unknown kernel %q (want linear, quadratic or cubic)", e.Kernel)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// InsufficientDataError reports a trajectory too short for the kernel.
type InsufficientDataError struct {
	Kernel    Kernel
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("interpolate: %s kernel needs at least %d samples, trajectory has %d",
		e.Kernel, e.Required, e.Available)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// Side tells which bound of the trajectory a query violated.
type Side string

const (
	Below Side = "below"
	Above Side = "above"
)

// RangeError reports a query time outside [MinTime, MaxTime]. Query is the
// offending time (the batch minimum or maximum for ValidateRange) and Bound
// is the trajectory limit it crossed.
type RangeError struct {
	Side  Side
	Query float64
	Bound float64
}

func (e *RangeError) Error() string {
	if e.Side == Above {
		return fmt.Sprintf("interpolate: query time %.6f is after trajectory end %.6f (by %.3fs)",
			e.Query, e.Bound, e.Query-e.Bound)
	}
	return fmt.Sprintf("interpolate: query time %.6f is before trajectory start %.6f (by %.3fs)",
		e.Query, e.Bound, e.Bound-e.Query)
}

func (e *RangeError) Is(target error) bool { return target == ErrRange }
