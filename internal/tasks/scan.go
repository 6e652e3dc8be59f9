package tasks

import (
	"context"
	"fmt"
	"sort"

	"traj2gps/internal/fsutil"
)

// DefaultSessionGap splits capture sessions separated by more than this
// many seconds.
const DefaultSessionGap = 60.0

// ScanResult captures the images found under an input path and their
// capture times.
type ScanResult struct {
	Images   []string    `json:"images"`
	Times    []ImageTime `json:"times"`
	Skipped  []string    `json:"skipped"`
	Sessions []Session   `json:"sessions"`
	Reader   string      `json:"reader"`
}

// Session is a run of captures with no gap above the session threshold.
type Session struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Count int     `json:"count"`
}

// Mismatch reports whether some discovered images could not be dated.
func (r ScanResult) Mismatch() bool {
	return len(r.Times) != len(r.Images)
}

// Scan lists images under input and reads their capture times. Times are
// returned sorted by capture time, ties broken by path.
func Scan(ctx context.Context, input string, reader TimeReader) (ScanResult, error) {
	files, err := fsutil.ListImages(input)
	if err != nil {
		return ScanResult{}, err
	}
	res := ScanResult{Images: files, Reader: reader.Name()}
	if len(files) == 0 {
		return res, nil
	}

	read, err := reader.ReadTimes(ctx, files)
	if err != nil {
		return ScanResult{}, fmt.Errorf("read capture times: %w", err)
	}
	res.Times = read.Times
	res.Skipped = read.Skipped
	sort.SliceStable(res.Times, func(i, j int) bool {
		if res.Times[i].Time == res.Times[j].Time {
			return res.Times[i].Path < res.Times[j].Path
		}
		return res.Times[i].Time < res.Times[j].Time
	})
	sort.Strings(res.Skipped)
	res.Sessions = groupSessions(res.Times, DefaultSessionGap)
	return res, nil
}

// groupSessions clusters time-sorted captures.
func groupSessions(times []ImageTime, gap float64) []Session {
	if len(times) == 0 {
		return nil
	}
	var sessions []Session
	start := 0
	for i := 1; i <= len(times); i++ {
		if i == len(times) || times[i].Time-times[i-1].Time > gap {
			sessions = append(sessions, Session{
				Start: times[start].Time,
				End:   times[i-1].Time,
				Count: i - start,
			})
			start = i
		}
	}
	return sessions
}
