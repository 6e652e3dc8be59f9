// Package trajectory owns the validated, time-sorted samples of a recorded
// sensor path and exposes its time domain.
package trajectory

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("trajectory: validation failed")

// Sample is one recorded observation in a single projected CRS.
type Sample struct {
	Time     float64 `json:"time"` // UTC seconds
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Height   float64 `json:"height"`
}

// RawSample is a trajectory record in its source representation, before
// numeric parsing.
type RawSample struct {
	Time     string
	Easting  string
	Northing string
	Height   string
}

// ValidationError reports malformed or empty trajectory input. Index is the
// position of the offending sample, or -1 when the input as a whole is at fault.
type ValidationError struct {
	Reason string
	Index  int
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "trajectory: " + e.Reason
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s at index %d", msg, e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
