package scheduling

import (
	"time"

	"carecoop/internal/models"

	"github.com/google/uuid"
)

// Pattern is a recurrence step.
type Pattern string

const (
	Daily    Pattern = "daily"
	Weekly   Pattern = "weekly"
	Biweekly Pattern = "biweekly"
	Monthly  Pattern = "monthly"
)

// ParsePattern validates a recurrence pattern name.
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case Daily, Weekly, Biweekly, Monthly:
		return p, nil
	default:
		return "", invalid("recurrence.pattern", s, "expected daily, weekly, biweekly or monthly")
	}
}

// ExpandRecurrence stamps tpl onto every date from firstDate through lastDate
// (inclusive) reached by stepping pattern. Monthly steps are counted from
// firstDate and clamp to the end of shorter months, so a series anchored on
// the 31st lands on Feb 29, Mar 31, Apr 30 and so on.
//
// Each instance gets an id from newID (uuid v4 when nil) and carries no link
// back to the series. firstDate after lastDate yields an empty slice.
func ExpandRecurrence(tpl models.BookingTemplate, pattern Pattern, firstDate, lastDate string, newID func() string) ([]models.Booking, error) {
	if newID == nil {
		newID = uuid.NewString
	}
	return expand(tpl, pattern, firstDate, lastDate, newID, 0)
}

func expand(tpl models.BookingTemplate, pattern Pattern, firstDate, lastDate string, newID func() string, limit int) ([]models.Booking, error) {
	if _, err := ParsePattern(string(pattern)); err != nil {
		return nil, err
	}
	first, err := parseDateField("recurrence.firstDate", firstDate)
	if err != nil {
		return nil, err
	}
	last, err := parseDateField("recurrence.endDate", lastDate)
	if err != nil {
		return nil, err
	}

	out := make([]models.Booking, 0)
	for k := 0; ; k++ {
		current := step(first, pattern, k)
		if current.After(last) {
			break
		}
		if limit > 0 && len(out) >= limit {
			return nil, ErrTooManyInstances
		}
		out = append(out, tpl.Instantiate(newID(), FormatDate(current)))
	}
	return out, nil
}

// step returns the k-th occurrence counted from first.
func step(first time.Time, pattern Pattern, k int) time.Time {
	switch pattern {
	case Daily:
		return first.AddDate(0, 0, k)
	case Weekly:
		return first.AddDate(0, 0, 7*k)
	case Biweekly:
		return first.AddDate(0, 0, 14*k)
	default:
		return AddMonthsClamped(first, k)
	}
}
