package scheduling

import (
	"strconv"

	"carecoop/internal/models"
)

// Interval is a half-open [Start, End) range in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Overlaps reports whether two half-open intervals intersect. Touching
// intervals ([09:00,10:00) and [10:00,11:00)) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// String renders the interval as "HH:MM-HH:MM".
func (i Interval) String() string {
	return FormatTimeOfDay(i.Start) + "-" + FormatTimeOfDay(i.End)
}

// BookingInterval resolves the time range of a booking. EndTime wins over
// DurationMinutes; a booking must end after it starts and before midnight,
// so that its end is always representable as HH:MM.
func BookingInterval(b models.Booking) (Interval, error) {
	start, err := parseField("startTime", b.StartTime)
	if err != nil {
		return Interval{}, withBooking(err, b.ID)
	}

	var end int
	switch {
	case b.EndTime != "":
		end, err = parseField("endTime", b.EndTime)
		if err != nil {
			return Interval{}, withBooking(err, b.ID)
		}
		if end <= start {
			return Interval{}, withBooking(invalid("endTime", b.EndTime, "must be after startTime"), b.ID)
		}
	case b.DurationMinutes > 0:
		end = start + b.DurationMinutes
		if end >= minutesPerDay {
			return Interval{}, withBooking(invalid("durationMinutes", strconv.Itoa(b.DurationMinutes), "booking must end before midnight"), b.ID)
		}
	default:
		return Interval{}, withBooking(invalid("endTime", "", "endTime or durationMinutes is required"), b.ID)
	}

	return Interval{Start: start, End: end}, nil
}

func absenceInterval(a models.Absence) (Interval, error) {
	iv := Interval{Start: 0, End: minutesPerDay}
	if a.StartTime != "" {
		start, err := parseField("absence.startTime", a.StartTime)
		if err != nil {
			return Interval{}, err
		}
		iv.Start = start
	}
	if a.EndTime != "" {
		end, err := parseField("absence.endTime", a.EndTime)
		if err != nil {
			return Interval{}, err
		}
		iv.End = end
	}
	if iv.End <= iv.Start {
		return Interval{}, invalid("absence.endTime", a.EndTime, "must be after startTime")
	}
	return iv, nil
}

// ValidateAbsence checks the staff, date and optional time range of a.
func ValidateAbsence(a models.Absence) error {
	if a.StaffID == "" {
		return invalid("absence.staffId", "", "is required")
	}
	if _, err := parseDateField("absence.date", a.Date); err != nil {
		return err
	}
	_, err := absenceInterval(a)
	return err
}
