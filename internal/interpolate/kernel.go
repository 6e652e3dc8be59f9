package interpolate

import (
	"strings"

	"gonum.org/v1/gonum/interp"
)

// Kernel selects the interpolation basis. The zero value is invalid.
type Kernel int

const (
	Linear Kernel = iota + 1
	Quadratic
	Cubic
)

// Kernels lists every supported kernel in increasing order.
var Kernels = []Kernel{Linear, Quadratic, Cubic}

func (k Kernel) String() string {
	switch k {
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	case Cubic:
		return "cubic"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the supported kernels.
func (k Kernel) Valid() bool { return k >= Linear && k <= Cubic }

// MinSamples returns the number of samples the kernel needs.
func (k Kernel) MinSamples() int {
	switch k {
	case Quadratic:
		return 3
	case Cubic:
		return 4
	default:
		return 2
	}
}

// ParseKernel maps a case-insensitive name to a Kernel.
func ParseKernel(name string) (Kernel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linear":
		return Linear, nil
	case "quadratic":
		return Quadratic, nil
	case "cubic":
		return Cubic, nil
	default:
		return 0, &ConfigError{Kernel: name}
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kernel) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, &ConfigError{Kernel: k.String()}
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kernel) UnmarshalText(b []byte) error {
	parsed, err := ParseKernel(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Kernel) fitter() interp.FittablePredictor {
	switch k {
	case Quadratic:
		return &localQuadratic{}
	case Cubic:
		return &interp.NotAKnotCubic{}
	default:
		return &interp.PiecewiseLinear{}
	}
}
