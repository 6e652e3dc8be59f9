package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"traj2gps/internal/interpolate"
	"traj2gps/internal/projection"
	"traj2gps/internal/trajectory"
)

type stubReader struct {
	times map[string]float64 // keyed by base name
}

func (r stubReader) Name() string { return "stub" }

func (r stubReader) ReadTimes(_ context.Context, paths []string) (ReadResult, error) {
	var res ReadResult
	for _, p := range paths {
		if ts, ok := r.times[filepath.Base(p)]; ok {
			res.Times = append(res.Times, ImageTime{Path: p, Time: ts})
		} else {
			res.Skipped = append(res.Skipped, p)
		}
	}
	return res, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	writes map[string]projection.Geodetic
}

func (w *recordingWriter) WriteGPS(_ context.Context, path string, pos projection.Geodetic) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writes == nil {
		w.writes = map[string]projection.Geodetic{}
	}
	w.writes[path] = pos
	return nil
}

func writeFakeTool(t *testing.T, name, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake %s: %v", name, err)
	}
	return path
}

func makeImages(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("img"), 0o644); err != nil {
			t.Fatalf("write image: %v", err)
		}
	}
	return dir
}

// writeTrajectory writes a straight eastward track through the central
// meridian of UTM 32 at 52°N, one sample per second from t0.
func writeTrajectory(t *testing.T, t0 float64, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Time[s],Easting[m],Northing[m],Height[m]\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%.3f,%.3f,5761038.2125,%.1f\n", t0+float64(i), 500000+10*float64(i), 100+float64(i))
	}
	path := filepath.Join(t.TempDir(), "traj.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write trajectory: %v", err)
	}
	return path
}

func TestParseExifTime(t *testing.T) {
	base := float64(time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).Unix())
	cases := []struct {
		in   string
		want float64
	}{
		{"2023:05:01 10:00:00", base},
		{"2023:05:01 10:00:00.25", base + 0.25},
		{"2023:05:01 12:00:00+02:00", base},
		{"2023:05:01 12:00:00.5+02:00", base + 0.5},
		{"2023:05:01 05:00:00-0500", base},
		{"2023:05:01 10:00:00Z", base},
	}
	for _, tc := range cases {
		got, err := ParseExifTime(tc.in)
		if err != nil {
			t.Fatalf("ParseExifTime(%q): %v", tc.in, err)
		}
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("ParseExifTime(%q) = %f, want %f", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "0000:00:00 00:00:00", "2023-05-01T10:00:00Z", "yesterday"} {
		if _, err := ParseExifTime(bad); err == nil {
			t.Errorf("ParseExifTime(%q) should fail", bad)
		}
	}
}

func TestComposeExifTime(t *testing.T) {
	if got := composeExifTime("2023:05:01 12:00:00", "25", "+02:00"); got != "2023:05:01 12:00:00.25+02:00" {
		t.Fatalf("compose = %q", got)
	}
	if got := composeExifTime(" ", "25", "+02:00"); got != "" {
		t.Fatalf("compose without date = %q", got)
	}
}

func TestExifReaderReadTimes(t *testing.T) {
	dir := makeImages(t, "a.jpg", "b.jpg", "c.jpg", "d.jpg")
	a, b, c, d := filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.jpg"), filepath.Join(dir, "c.jpg"), filepath.Join(dir, "d.jpg")
	json := fmt.Sprintf(`[
{"SourceFile":%q,"DateTimeOriginal":"2023:05:01 12:00:00","SubSecDateTimeOriginal":"2023:05:01 12:00:00.50+02:00"},
{"SourceFile":%q,"DateTimeOriginal":"2023:05:01 12:00:01","OffsetTimeOriginal":"+02:00"},
{"SourceFile":%q,"DateTimeOriginal":"0000:00:00 00:00:00"}
]`, a, b, c)
	bin := writeFakeTool(t, "exiftool", "cat <<'EOF'\n"+json+"\nEOF\nexit 1\n")

	res, err := NewExifReader(bin).ReadTimes(context.Background(), []string{a, b, c, d})
	if err != nil {
		t.Fatalf("ReadTimes: %v", err)
	}
	base := float64(time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).Unix())
	if len(res.Times) != 2 || res.Times[0].Path != a || res.Times[0].Time != base+0.5 || res.Times[1].Time != base+1 {
		t.Fatalf("unexpected times: %+v", res.Times)
	}
	if len(res.Skipped) != 2 || res.Skipped[0] != c || res.Skipped[1] != d {
		t.Fatalf("unexpected skipped: %v", res.Skipped)
	}
}

func TestExifReaderFailure(t *testing.T) {
	bin := writeFakeTool(t, "exiftool", "echo 'boom' >&2\nexit 2\n")
	if _, err := NewExifReader(bin).ReadTimes(context.Background(), []string{"x.jpg"}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected exiftool failure, got %v", err)
	}
}

func TestExifWriterArgs(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "args.log")
	bin := writeFakeTool(t, "exiftool", fmt.Sprintf("for a in \"$@\"; do echo \"$a\" >> %q; done\n", logFile))

	err := NewExifWriter(bin).WriteGPS(context.Background(), "/tmp/p.jpg", projection.Geodetic{Lat: -33.5, Lon: -70.25, Alt: -12.5})
	if err != nil {
		t.Fatalf("WriteGPS: %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	want := strings.Join([]string{
		"-overwrite_original",
		"-GPSLatitude=33.50000000",
		"-GPSLatitudeRef=S",
		"-GPSLongitude=70.25000000",
		"-GPSLongitudeRef=W",
		"-GPSAltitude=12.500",
		"-GPSAltitudeRef#=1",
		"/tmp/p.jpg",
	}, "\n") + "\n"
	if string(data) != want {
		t.Fatalf("args:\n%s\nwant:\n%s", data, want)
	}
}

func TestScanSortsAndGroups(t *testing.T) {
	dir := makeImages(t, "a.jpg", "b.jpg", "c.JPG", "d.png", "notes.txt")
	reader := stubReader{times: map[string]float64{"a.jpg": 130, "b.jpg": 10, "c.JPG": 20}}

	res, err := Scan(context.Background(), dir, reader)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Images) != 4 {
		t.Fatalf("expected 4 images, got %v", res.Images)
	}
	if !res.Mismatch() || len(res.Skipped) != 1 || filepath.Base(res.Skipped[0]) != "d.png" {
		t.Fatalf("unexpected skipped: %v", res.Skipped)
	}
	if filepath.Base(res.Times[0].Path) != "b.jpg" || filepath.Base(res.Times[2].Path) != "a.jpg" {
		t.Fatalf("times not sorted: %+v", res.Times)
	}
	if len(res.Sessions) != 2 || res.Sessions[0].Count != 2 || res.Sessions[1].Start != 130 {
		t.Fatalf("unexpected sessions: %+v", res.Sessions)
	}
}

func TestTrajectoryClock(t *testing.T) {
	clock, err := TrajectoryClock("gps", 1e9)
	if err != nil {
		t.Fatal(err)
	}
	// 2017-01-01 onwards GPS runs 18 s ahead of UTC.
	utc := float64(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	adjusted := utc - 315964800 + 18 - 1e9
	if got := clock(adjusted); math.Abs(got-utc) > 1e-6 {
		t.Fatalf("clock = %f, want %f", got, utc)
	}
	if c, err := TrajectoryClock("utc", 0); err != nil || c != nil {
		t.Fatalf("utc clock should be identity: %v", err)
	}
	if _, err := TrajectoryClock("tai", 0); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func geotagRequest(t *testing.T, dir string, reader TimeReader, w PositionWriter) GeotagRequest {
	return GeotagRequest{
		JobID: "job-1",
		Input: dir,
		Trajectory: TrajectorySource{
			Path:       writeTrajectory(t, 1000, 11),
			Columns:    trajectory.DefaultColumns(),
			CRS:        "EPSG:25832",
			TimeFormat: "utc",
		},
		Kernel:   interpolate.Linear,
		Parallel: 3,
		Reader:   reader,
		Writer:   w,
	}
}

func TestGeotag(t *testing.T) {
	dir := makeImages(t, "a.jpg", "b.jpg", "c.jpg", "undated.jpg")
	reader := stubReader{times: map[string]float64{"a.jpg": 1005, "b.jpg": 1000, "c.jpg": 1010}}
	w := &recordingWriter{}

	res, err := Geotag(context.Background(), geotagRequest(t, dir, reader, w))
	if err != nil {
		t.Fatalf("Geotag: %v", err)
	}
	if res.Images != 4 || len(res.Tagged) != 3 || len(res.Skipped) != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if filepath.Base(res.Tagged[0].Path) != "b.jpg" || filepath.Base(res.Tagged[2].Path) != "c.jpg" {
		t.Fatalf("results not in capture order: %+v", res.Tagged)
	}
	b := res.Tagged[0]
	if math.Abs(b.Geodetic.Lat-52) > 1e-6 || math.Abs(b.Geodetic.Lon-9) > 1e-9 || math.Abs(b.Geodetic.Alt-100) > 1e-3 {
		t.Fatalf("unexpected geodetic for first sample: %+v", b.Geodetic)
	}
	if mid := res.Tagged[1].Position; mid.Easting != 500050 || mid.Height != 105 {
		t.Fatalf("unexpected midpoint: %+v", mid)
	}
	if len(w.writes) != 3 {
		t.Fatalf("expected 3 writes, got %d", len(w.writes))
	}
	if res.Coverage.QueryMin != 1000 || res.Coverage.QueryMax != 1010 {
		t.Fatalf("unexpected coverage: %+v", res.Coverage)
	}
}

func TestGeotagRangeFailureWritesNothing(t *testing.T) {
	dir := makeImages(t, "a.jpg", "b.jpg")
	reader := stubReader{times: map[string]float64{"a.jpg": 1005, "b.jpg": 1010.001}}
	w := &recordingWriter{}

	_, err := Geotag(context.Background(), geotagRequest(t, dir, reader, w))
	var re *interpolate.RangeError
	if !errors.As(err, &re) || re.Side != interpolate.Above {
		t.Fatalf("expected above RangeError, got %v", err)
	}
	if len(w.writes) != 0 {
		t.Fatalf("no image may be written after a range failure, got %d", len(w.writes))
	}
}

func TestGeotagProjectionFailureWritesNothing(t *testing.T) {
	dir := makeImages(t, "a.jpg", "b.jpg", "c.jpg")
	reader := stubReader{times: map[string]float64{"a.jpg": 1000, "b.jpg": 1010, "c.jpg": 1020}}
	w := &recordingWriter{}

	// The last sample lies west of UTM zone 32.
	traj := filepath.Join(t.TempDir(), "traj.csv")
	csv := "Time[s],Easting[m],Northing[m],Height[m]\n" +
		"1000,500000,5761038.2125,100\n" +
		"1010,500100,5761038.2125,100\n" +
		"1020,-5,5761038.2125,100\n"
	if err := os.WriteFile(traj, []byte(csv), 0o644); err != nil {
		t.Fatalf("write trajectory: %v", err)
	}
	req := geotagRequest(t, dir, reader, w)
	req.Trajectory.Path = traj
	req.Parallel = 1

	_, err := Geotag(context.Background(), req)
	if !errors.Is(err, projection.ErrOutOfBounds) {
		t.Fatalf("expected out of bounds error, got %v", err)
	}
	if !strings.Contains(err.Error(), "c.jpg") {
		t.Fatalf("error should name the failing image: %v", err)
	}
	if len(w.writes) != 0 {
		t.Fatalf("no image may be written after a projection failure, got %d", len(w.writes))
	}
}

func TestGeotagNoImages(t *testing.T) {
	dir := makeImages(t, "a.jpg")
	_, err := Geotag(context.Background(), geotagRequest(t, dir, stubReader{}, &recordingWriter{}))
	if !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
}

func TestGeotagDryRun(t *testing.T) {
	dir := makeImages(t, "a.jpg")
	req := geotagRequest(t, dir, stubReader{times: map[string]float64{"a.jpg": 1002}}, nil)
	req.DryRun = true
	req.Kernel = interpolate.Cubic

	res, err := Geotag(context.Background(), req)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !res.DryRun || len(res.Tagged) != 1 || res.Kernel != "cubic" {
		t.Fatalf("unexpected dry run result: %+v", res)
	}
}

func TestToolManager(t *testing.T) {
	bin := writeFakeTool(t, "exiftool", "echo 12.76\n")
	cfgTools := NewToolManager(toolsConfig(bin, "auto"))

	st := cfgTools.CheckTool("exiftool")
	if !st.Available || st.Version != "12.76" || st.Path != bin {
		t.Fatalf("unexpected exiftool status: %+v", st)
	}
	if st := cfgTools.CheckTool("ddb"); st.Available {
		t.Fatalf("ddb should be missing: %+v", st)
	}
	r, err := cfgTools.Reader()
	if err != nil || r.Name() != "exiftool" {
		t.Fatalf("auto reader = %v, %v", r, err)
	}

	missing := NewToolManager(toolsConfig(filepath.Join(t.TempDir(), "nope"), "auto"))
	if r, err := missing.Reader(); err != nil || r.Name() != "imagick" {
		t.Fatalf("fallback reader = %v, %v", r, err)
	}
	if _, err := missing.Writer(); err == nil {
		t.Fatal("writer without exiftool should fail")
	}
	if names := ToolNames(missing.GetToolStatus()); strings.Join(names, ",") != "ddb,exiftool,imagick" {
		t.Fatalf("tool names = %v", names)
	}
}

func TestExtractVersion(t *testing.T) {
	if got := extractVersion("DroneDB\nversion 1.0.12\n"); got != "version 1.0.12" {
		t.Fatalf("extractVersion = %q", got)
	}
	if got := extractVersion(""); got != "unknown" {
		t.Fatalf("extractVersion(empty) = %q", got)
	}
}
