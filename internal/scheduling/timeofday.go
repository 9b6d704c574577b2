package scheduling

import (
	"fmt"
	"strconv"
	"time"
)

const (
	minutesPerDay = 24 * 60
	dateLayout    = "2006-01-02"
)

// ParseTimeOfDay converts a zero padded 24-hour "HH:MM" string into minutes
// since midnight.
func ParseTimeOfDay(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, invalid("time", s, "expected HH:MM")
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, invalid("time", s, "out of range")
	}
	return h*60 + m, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func parseField(field, s string) (int, error) {
	v, err := ParseTimeOfDay(s)
	if err != nil {
		vErr := err.(*ValidationError)
		vErr.Field = field
		return 0, vErr
	}
	return v, nil
}

// FormatTimeOfDay renders minutes since midnight as "HH:MM", wrapping
// modulo 24 hours.
func FormatTimeOfDay(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// CalculateEndTime adds durationMinutes to start modulo 24 hours. The date of
// the booking is not advanced when the result wraps past midnight.
func CalculateEndTime(start string, durationMinutes int) (string, error) {
	s, err := parseField("startTime", start)
	if err != nil {
		return "", err
	}
	if durationMinutes < 0 {
		return "", invalid("durationMinutes", strconv.Itoa(durationMinutes), "must not be negative")
	}
	return FormatTimeOfDay(s + durationMinutes), nil
}

// Duration is an hours/minutes pair as shown in timesheets.
type Duration struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// TotalMinutes returns the duration in minutes.
func (d Duration) TotalMinutes() int {
	return d.Hours*60 + d.Minutes
}

func (d Duration) String() string {
	return fmt.Sprintf("%dh %dm", d.Hours, d.Minutes)
}

// CalculateDuration returns the time between start and end. An end earlier
// than start is read as crossing midnight.
func CalculateDuration(start, end string) (Duration, error) {
	s, err := parseField("startTime", start)
	if err != nil {
		return Duration{}, err
	}
	e, err := parseField("endTime", end)
	if err != nil {
		return Duration{}, err
	}
	diff := e - s
	if diff < 0 {
		diff += minutesPerDay
	}
	return Duration{Hours: diff / 60, Minutes: diff % 60}, nil
}

// ParseDate parses a naive "YYYY-MM-DD" date. The result is midnight UTC and
// only used for calendar arithmetic.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, invalid("date", s, "expected YYYY-MM-DD")
	}
	return t, nil
}

func parseDateField(field, s string) (time.Time, error) {
	t, err := ParseDate(s)
	if err != nil {
		vErr := err.(*ValidationError)
		vErr.Field = field
		return time.Time{}, vErr
	}
	return t, nil
}

// FormatDate renders t as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// AddMonthsClamped moves anchor by the given number of calendar months,
// clamping the day of month to the last day of the target month.
func AddMonthsClamped(anchor time.Time, months int) time.Time {
	y, m, d := anchor.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
