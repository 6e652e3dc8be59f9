package trajectory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Columns names the CSV header fields holding each axis.
type Columns struct {
	Time     string
	Easting  string
	Northing string
	Height   string
}

// DefaultColumns matches the header written by common post-processing
// software for mobile mapping trajectories.
func DefaultColumns() Columns {
	return Columns{
		Time:     "Time[s]",
		Easting:  "Easting[m]",
		Northing: "Northing[m]",
		Height:   "Height[m]",
	}
}

// ReadCSV reads a header-driven trajectory CSV into raw records. Extra
// columns are ignored; a missing required column is a ValidationError.
func ReadCSV(r io.Reader, cols Columns) ([]RawSample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ValidationError{Reason: "empty input", Index: -1}
	}
	if err != nil {
		return nil, fmt.Errorf("read trajectory header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var pos [4]int
	for i, name := range []string{cols.Time, cols.Easting, cols.Northing, cols.Height} {
		p, ok := index[name]
		if !ok {
			return nil, &ValidationError{Reason: "missing column " + name, Index: -1}
		}
		pos[i] = p
	}

	var out []RawSample
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ValidationError{Reason: "malformed sample", Index: row, Err: err}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		get := func(p int) string {
			if p < len(rec) {
				return rec[p]
			}
			return ""
		}
		out = append(out, RawSample{
			Time:     get(pos[0]),
			Easting:  get(pos[1]),
			Northing: get(pos[2]),
			Height:   get(pos[3]),
		})
	}
	return out, nil
}

// LoadFile reads and builds a Store from a trajectory CSV on disk.
func LoadFile(path string, cols Columns, opts ...Option) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory: %w", err)
	}
	defer f.Close()

	raw, err := ReadCSV(f, cols)
	if err != nil {
		return nil, err
	}
	return Build(raw, opts...)
}
