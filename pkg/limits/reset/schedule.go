package reset

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSchedule is returned for an out-of-range hour or offset.
var ErrInvalidSchedule = errors.New("invalid reset schedule")

// Offset bounds in minutes, matching the real-world range of UTC offsets.
const (
	minOffsetMinutes = -12 * 60
	maxOffsetMinutes = 14 * 60
)

// Schedule computes daily reset instants for a target hour at a fixed UTC
// offset. The offset never follows DST rules, so the same reference time
// always yields the same reset instant.
type Schedule struct {
	hour          int
	offsetMinutes int
	loc           *time.Location
}

// NewSchedule creates a schedule resetting at hour:00:00 in the zone
// utcOffsetMinutes east of UTC.
func NewSchedule(hour, utcOffsetMinutes int) (*Schedule, error) {
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalidSchedule, hour)
	}
	if utcOffsetMinutes < minOffsetMinutes || utcOffsetMinutes > maxOffsetMinutes {
		return nil, fmt.Errorf("%w: utc offset %d minutes out of range", ErrInvalidSchedule, utcOffsetMinutes)
	}

	return &Schedule{
		hour:          hour,
		offsetMinutes: utcOffsetMinutes,
		loc:           time.FixedZone(zoneName(utcOffsetMinutes), utcOffsetMinutes*60),
	}, nil
}

// ComputeNextReset returns the first reset instant strictly after ref, in UTC.
func (s *Schedule) ComputeNextReset(ref time.Time) time.Time {
	local := ref.In(s.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, 0, 0, 0, s.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.UTC()
}

// Location returns the fixed zone resets are computed in.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// Hour returns the target hour of day.
func (s *Schedule) Hour() int {
	return s.hour
}

// UTCOffsetMinutes returns the fixed offset.
func (s *Schedule) UTCOffsetMinutes() int {
	return s.offsetMinutes
}

// NeedsReset reports whether a window ending at resetAt is over at now.
func NeedsReset(resetAt, now time.Time) bool {
	return !now.Before(resetAt)
}

// zoneName formats an offset as "UTC+05:30".
func zoneName(offsetMinutes int) string {
	sign := '+'
	if offsetMinutes < 0 {
		sign = '-'
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
}
