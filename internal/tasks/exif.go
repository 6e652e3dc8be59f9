package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"traj2gps/internal/gpstime"
	"traj2gps/internal/projection"
)

// ImageTime is a capture time in UTC seconds read from an image.
type ImageTime struct {
	Path string  `json:"path"`
	Time float64 `json:"time"`
}

// ReadResult holds the timestamps a reader could extract and the files it
// could not date.
type ReadResult struct {
	Times   []ImageTime
	Skipped []string
}

// TimeReader extracts capture times from a batch of images.
type TimeReader interface {
	Name() string
	ReadTimes(ctx context.Context, paths []string) (ReadResult, error)
}

// PositionWriter stores a geodetic position in an image.
type PositionWriter interface {
	WriteGPS(ctx context.Context, path string, pos projection.Geodetic) error
}

// ExifReader reads DateTimeOriginal through one exiftool call per batch.
type ExifReader struct {
	Binary string
}

func NewExifReader(binary string) *ExifReader {
	if binary == "" {
		binary = "exiftool"
	}
	return &ExifReader{Binary: binary}
}

func (r *ExifReader) Name() string { return "exiftool" }

func (r *ExifReader) ReadTimes(ctx context.Context, paths []string) (ReadResult, error) {
	if len(paths) == 0 {
		return ReadResult{}, nil
	}
	args := append([]string{"-json", "-DateTimeOriginal", "-SubSecDateTimeOriginal", "-OffsetTimeOriginal"}, paths...)
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	// exiftool exits non-zero when some files fail but still reports the rest.
	if runErr != nil && out.Len() == 0 {
		return ReadResult{}, fmt.Errorf("exiftool: %w: %s", runErr, strings.TrimSpace(stderr.String()))
	}

	var parsed []map[string]any
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil {
		return ReadResult{}, fmt.Errorf("exiftool: decode output: %w", err)
	}

	seen := make(map[string]bool, len(parsed))
	var res ReadResult
	for _, m := range parsed {
		src, _ := m["SourceFile"].(string)
		if src == "" {
			continue
		}
		seen[src] = true
		ts, err := timeFromTags(m)
		if err != nil {
			res.Skipped = append(res.Skipped, src)
			continue
		}
		res.Times = append(res.Times, ImageTime{Path: src, Time: ts})
	}
	for _, p := range paths {
		if !seen[p] {
			res.Skipped = append(res.Skipped, p)
		}
	}
	return res, nil
}

func timeFromTags(m map[string]any) (float64, error) {
	if s, ok := m["SubSecDateTimeOriginal"].(string); ok && s != "" {
		if t, err := ParseExifTime(s); err == nil {
			return t, nil
		}
	}
	dto, ok := m["DateTimeOriginal"].(string)
	if !ok || dto == "" {
		return 0, errors.New("no DateTimeOriginal")
	}
	if off, ok := m["OffsetTimeOriginal"].(string); ok && !hasZone(dto) {
		dto += off
	}
	return ParseExifTime(dto)
}

var exifLayouts = []string{
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05-0700",
	"2006:01:02 15:04:05",
}

// ParseExifTime parses an EXIF timestamp "YYYY:MM:DD HH:MM:SS[.fff][zone]"
// into UTC seconds. A timestamp without a zone is taken as UTC.
func ParseExifTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range exifLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return gpstime.Seconds(t), nil
		}
	}
	return 0, fmt.Errorf("unparsable EXIF time %q", s)
}

func hasZone(s string) bool {
	n := len(s)
	switch {
	case n > 0 && s[n-1] == 'Z':
		return true
	case n >= 6 && (s[n-6] == '+' || s[n-6] == '-') && s[n-3] == ':':
		return true
	case n >= 5 && (s[n-5] == '+' || s[n-5] == '-') && !strings.Contains(s[n-5:], ":"):
		return true
	}
	return false
}

// ExifWriter writes GPS tags in place with exiftool.
type ExifWriter struct {
	Binary string
}

func NewExifWriter(binary string) *ExifWriter {
	if binary == "" {
		binary = "exiftool"
	}
	return &ExifWriter{Binary: binary}
}

func (w *ExifWriter) WriteGPS(ctx context.Context, path string, pos projection.Geodetic) error {
	cmd := exec.CommandContext(ctx, w.Binary, gpsArgs(path, pos)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("exiftool write %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func gpsArgs(path string, pos projection.Geodetic) []string {
	latRef, lonRef, altRef := "N", "E", "0"
	if pos.Lat < 0 {
		latRef = "S"
	}
	if pos.Lon < 0 {
		lonRef = "W"
	}
	if pos.Alt < 0 {
		altRef = "1"
	}
	return []string{
		"-overwrite_original",
		"-GPSLatitude=" + formatCoord(pos.Lat),
		"-GPSLatitudeRef=" + latRef,
		"-GPSLongitude=" + formatCoord(pos.Lon),
		"-GPSLongitudeRef=" + lonRef,
		"-GPSAltitude=" + strconv.FormatFloat(math.Abs(pos.Alt), 'f', 3, 64),
		"-GPSAltitudeRef#=" + altRef,
		path,
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(math.Abs(v), 'f', 8, 64)
}
