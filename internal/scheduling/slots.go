package scheduling

import (
	"strconv"

	"carecoop/internal/models"
)

// WorkWindow bounds the part of the day in which slots are offered.
type WorkWindow struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// DefaultWorkWindow is 07:00-20:00.
var DefaultWorkWindow = WorkWindow{Start: models.DefaultWorkStart, End: models.DefaultWorkEnd}

func (w WorkWindow) interval() (Interval, error) {
	start, err := parseField("workWindow.start", w.Start)
	if err != nil {
		return Interval{}, err
	}
	end, err := parseField("workWindow.end", w.End)
	if err != nil {
		return Interval{}, err
	}
	if end <= start {
		return Interval{}, invalid("workWindow.end", w.End, "must be after workWindow.start")
	}
	return Interval{Start: start, End: end}, nil
}

// Validate checks that the window is well formed.
func (w WorkWindow) Validate() error {
	_, err := w.interval()
	return err
}

// SlotQuery describes a free-slot search. A zero Window or StepMinutes falls
// back to the defaults (07:00-20:00, 30 minutes).
type SlotQuery struct {
	StaffID         string
	Date            string
	DurationMinutes int
	Window          WorkWindow
	StepMinutes     int
}

func (q SlotQuery) normalize() SlotQuery {
	if q.Window == (WorkWindow{}) {
		q.Window = DefaultWorkWindow
	}
	if q.StepMinutes == 0 {
		q.StepMinutes = models.DefaultStepMinutes
	}
	return q
}

// AvailableSlots lists the step-aligned start times in the work window at
// which StaffID is free for DurationMinutes on Date. Only active bookings
// occupy time. A fully booked day yields an empty slice, not an error.
// existing is never modified.
func AvailableSlots(existing []models.Booking, q SlotQuery) ([]string, error) {
	return availableSlots(existing, q.normalize(), nil)
}

func availableSlots(existing []models.Booking, q SlotQuery, extraBusy []Interval) ([]string, error) {
	window, err := validateQuery(q)
	if err != nil {
		return nil, err
	}

	busy, err := staffBusy(existing, q.StaffID, q.Date, "")
	if err != nil {
		return nil, err
	}
	busy = append(busy, extraBusy...)

	starts := freeStarts(busy, window, q.DurationMinutes, q.StepMinutes)
	slots := make([]string, 0, len(starts))
	for _, s := range starts {
		slots = append(slots, FormatTimeOfDay(s))
	}
	return slots, nil
}

func validateQuery(q SlotQuery) (Interval, error) {
	if _, err := parseDateField("date", q.Date); err != nil {
		return Interval{}, err
	}
	if q.DurationMinutes <= 0 {
		return Interval{}, invalid("durationMinutes", strconv.Itoa(q.DurationMinutes), "must be positive")
	}
	if q.StepMinutes <= 0 {
		return Interval{}, invalid("stepMinutes", strconv.Itoa(q.StepMinutes), "must be positive")
	}
	return q.Window.interval()
}

// staffBusy collects the intervals of active bookings held by staffID on
// date, skipping the booking with id skipID.
func staffBusy(existing []models.Booking, staffID, date, skipID string) ([]Interval, error) {
	var busy []Interval
	for _, b := range existing {
		if b.StaffID != staffID || b.Date != date || !b.IsActive() {
			continue
		}
		if skipID != "" && b.ID == skipID {
			continue
		}
		iv, err := BookingInterval(b)
		if err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, nil
}

func freeStarts(busy []Interval, window Interval, duration, step int) []int {
	var starts []int
	for s := window.Start; s+duration <= window.End; s += step {
		candidate := Interval{Start: s, End: s + duration}
		free := true
		for _, b := range busy {
			if Overlaps(candidate, b) {
				free = false
				break
			}
		}
		if free {
			starts = append(starts, s)
		}
	}
	return starts
}
