package interpolate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKernel(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Kernel{
		"linear":    Linear,
		"Quadratic": Quadratic,
		" CUBIC ":   Cubic,
	} {
		got, err := ParseKernel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseKernel("nearest")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestKernelText(t *testing.T) {
	t.Parallel()

	b, err := Cubic.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "cubic", string(b))

	var k Kernel
	require.NoError(t, k.UnmarshalText([]byte("quadratic")))
	assert.Equal(t, Quadratic, k)
	assert.Error(t, k.UnmarshalText([]byte("bogus")))

	_, err = Kernel(0).MarshalText()
	assert.Error(t, err)
}

func TestKernelMinSamples(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, Linear.MinSamples())
	assert.Equal(t, 3, Quadratic.MinSamples())
	assert.Equal(t, 4, Cubic.MinSamples())
}
