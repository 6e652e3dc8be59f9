package trajectory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `Time[s],Easting[m],Northing[m],Height[m],Roll[deg]
100.5,500000.0,5000000.0,250.0,0.1
101.5,500010.0,5000000.0,251.0,0.2

99.5,499990.0,5000000.0,249.0,0.3
`

func TestReadCSV(t *testing.T) {
	t.Parallel()

	recs, err := ReadCSV(strings.NewReader(sampleCSV), DefaultColumns())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "100.5", recs[0].Time)
	assert.Equal(t, "500010.0", recs[1].Easting)
	assert.Equal(t, "249.0", recs[2].Height)
}

func TestReadCSVCustomColumns(t *testing.T) {
	t.Parallel()

	data := "t,x,y,z\n1,2,3,4\n"
	recs, err := ReadCSV(strings.NewReader(data), Columns{Time: "t", Easting: "x", Northing: "y", Height: "z"})
	require.NoError(t, err)
	assert.Equal(t, []RawSample{{Time: "1", Easting: "2", Northing: "3", Height: "4"}}, recs)
}

func TestReadCSVMissingColumn(t *testing.T) {
	t.Parallel()

	_, err := ReadCSV(strings.NewReader("Time[s],Easting[m]\n1,2\n"), DefaultColumns())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "missing column Northing[m]", verr.Reason)
}

func TestReadCSVEmpty(t *testing.T) {
	t.Parallel()

	_, err := ReadCSV(strings.NewReader(""), DefaultColumns())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "traj.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	store, err := LoadFile(path, DefaultColumns(), WithCRS("EPSG:32633"))
	require.NoError(t, err)
	assert.Equal(t, 99.5, store.MinTime())
	assert.Equal(t, 101.5, store.MaxTime())
	assert.Equal(t, 499990.0, store.Samples()[0].Easting)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"), DefaultColumns())
	assert.Error(t, err)
}

func TestLoadFileShortRow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.csv")
	require.NoError(t, os.WriteFile(path, []byte("Time[s],Easting[m],Northing[m],Height[m]\n1,2,3,4\n2,3\n"), 0o644))

	_, err := LoadFile(path, DefaultColumns())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "malformed sample", verr.Reason)
	assert.Equal(t, 1, verr.Index)
}
