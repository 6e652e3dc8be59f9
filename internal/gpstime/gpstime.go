// Package gpstime converts GPS seconds to UTC.
package gpstime

import (
	"math"
	"time"
)

// EpochUnix is 1980-01-06T00:00:00Z, the GPS epoch, in Unix seconds.
const EpochUnix = 315964800

// AdjustedOffset is subtracted from GPS seconds to form "adjusted GPS time",
// the convention used by LAS files and most trajectory post-processors.
const AdjustedOffset = 1e9

type leap struct {
	utc    int64 // Unix seconds at which the offset takes effect
	offset int   // GPS - UTC in seconds from that instant
}

// leaps lists every leap second inserted since the GPS epoch.
var leaps = []leap{
	{unix(1981, 7, 1), 1},
	{unix(1982, 7, 1), 2},
	{unix(1983, 7, 1), 3},
	{unix(1985, 7, 1), 4},
	{unix(1988, 1, 1), 5},
	{unix(1990, 1, 1), 6},
	{unix(1991, 1, 1), 7},
	{unix(1992, 7, 1), 8},
	{unix(1993, 7, 1), 9},
	{unix(1994, 7, 1), 10},
	{unix(1996, 1, 1), 11},
	{unix(1997, 7, 1), 12},
	{unix(1999, 1, 1), 13},
	{unix(2006, 1, 1), 14},
	{unix(2009, 1, 1), 15},
	{unix(2012, 7, 1), 16},
	{unix(2015, 7, 1), 17},
	{unix(2017, 1, 1), 18},
}

func unix(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}

// LeapSeconds returns GPS - UTC in seconds at the given GPS time.
func LeapSeconds(gps float64) int {
	n := 0
	for _, l := range leaps {
		if gps >= float64(l.utc-EpochUnix+int64(l.offset)) {
			n = l.offset
		}
	}
	return n
}

// ToUTC converts GPS seconds to Unix UTC seconds.
func ToUTC(gps float64) float64 {
	return float64(EpochUnix) + gps - float64(LeapSeconds(gps))
}

// FromUTC converts Unix UTC seconds to GPS seconds.
func FromUTC(utc float64) float64 {
	n := 0
	for _, l := range leaps {
		if utc >= float64(l.utc) {
			n = l.offset
		}
	}
	return utc - float64(EpochUnix) + float64(n)
}

// FromAdjusted converts adjusted GPS time to Unix UTC seconds.
func FromAdjusted(adjusted float64) float64 {
	return ToUTC(adjusted + AdjustedOffset)
}

// ToTime converts GPS seconds to a UTC time.Time.
func ToTime(gps float64) time.Time {
	return UnixTime(ToUTC(gps))
}

// UnixTime converts fractional Unix seconds to time.Time in UTC.
func UnixTime(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

// Seconds converts a time.Time to fractional Unix seconds.
func Seconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
