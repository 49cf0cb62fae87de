package reminder

import (
	"fmt"
	"regexp"
	"time"
)

// Time-of-day arithmetic is done in minutes of day (hours*60+minutes) in the
// deployment timezone. Callers pass time.Time values already normalized to
// that zone; nothing here converts zones.

const minutesPerDay = 24 * 60

// MinuteOfDay returns t's minute of day (0..1439).
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// WellFormed reports whether [start, end] is a valid non-wrapping window.
// Windows here are not permitted to wrap midnight; end < start is ill-formed.
func WellFormed(start, end int) bool {
	return start >= 0 && end >= start && end < minutesPerDay
}

// InWindow reports whether m falls inside [start, end], inclusive on both
// bounds. An ill-formed window (end < start, or out-of-range bounds) is
// never true: fail closed and let the caller log the configuration problem.
func InWindow(m, start, end int) bool {
	if !WellFormed(start, end) {
		return false
	}
	return m >= start && m <= end
}

// InDoNotDisturb reports whether m falls inside the user's do-not-disturb
// range. An absent bound (negative) means no suppression. Unlike order
// windows, DND ranges may wrap midnight ("22:00"–"06:00" suppresses the
// night hours on both sides).
func InDoNotDisturb(m, start, end int) bool {
	if start < 0 || end < 0 || start >= minutesPerDay || end >= minutesPerDay {
		return false
	}
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

// ShiftMinute moves a minute of day by delta, wrapping modulo 24h.
func ShiftMinute(m, delta int) int {
	s := (m + delta) % minutesPerDay
	if s < 0 {
		s += minutesPerDay
	}
	return s
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseHHMM parses "HH:MM" into a minute of day.
func ParseHHMM(v string) (int, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hh > 23 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return hh*60 + mm, nil
}

// FormatHHMM renders a minute of day as "HH:MM".
func FormatHHMM(m int) string {
	m = ShiftMinute(m, 0)
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// DayString renders t's date as the store's day key.
func DayString(t time.Time) string {
	return t.Format("2006-01-02")
}

// MinuteOnDay materializes a minute of day as a concrete time on t's date,
// in t's location.
func MinuteOnDay(t time.Time, m int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), m/60, m%60, 0, 0, t.Location())
}
