package scheduling

import (
	"fmt"
	"sort"

	"carecoop/internal/models"
)

// Roster supplies declared staff unavailability.
type Roster interface {
	Absences(staffID, date string) []models.Absence
}

// AbsenceList is an in-memory Roster.
type AbsenceList []models.Absence

// Absences returns the entries for staffID on date.
func (l AbsenceList) Absences(staffID, date string) []models.Absence {
	var out []models.Absence
	for _, a := range l {
		if a.StaffID == staffID && a.Date == date {
			out = append(out, a)
		}
	}
	return out
}

type hit struct {
	booking  models.Booking
	interval Interval
}

// CheckConflicts evaluates candidate against existing bookings:
//   - overlap: same staff, same date, overlapping active booking
//   - patient_double_booked: same patient at an overlapping time, any staff
//   - staff_unavailable: overlaps an absence from the attached roster
//
// The candidate's own id is ignored so an edited booking can be re-saved.
// Rules are reported in that order, each sorted by start time. Malformed
// times fail with a *ValidationError; collisions are returned as data.
func (e *Engine) CheckConflicts(existing []models.Booking, candidate models.Booking) ([]models.Conflict, error) {
	civ, err := validateCandidate(candidate)
	if err != nil {
		return nil, err
	}

	conflicts := make([]models.Conflict, 0)
	if !candidate.IsActive() {
		return conflicts, nil
	}

	var staffHits, patientHits []hit
	for _, b := range existing {
		if b.Date != candidate.Date || !b.IsActive() {
			continue
		}
		if candidate.ID != "" && b.ID == candidate.ID {
			continue
		}
		sameStaff := b.StaffID == candidate.StaffID
		samePatient := candidate.PatientID != "" && b.PatientID == candidate.PatientID
		if !sameStaff && !samePatient {
			continue
		}
		iv, err := BookingInterval(b)
		if err != nil {
			return nil, err
		}
		if !Overlaps(civ, iv) {
			continue
		}
		if sameStaff {
			staffHits = append(staffHits, hit{booking: b, interval: iv})
		}
		if samePatient {
			patientHits = append(patientHits, hit{booking: b, interval: iv})
		}
	}

	sortHits(staffHits)
	sortHits(patientHits)

	for _, h := range staffHits {
		conflicts = append(conflicts, models.Conflict{
			Type: models.ConflictOverlap,
			Message: fmt.Sprintf("staff %s already booked %s on %s (booking %s)",
				candidate.StaffID, h.interval, candidate.Date, h.booking.ID),
			BookingID: h.booking.ID,
		})
	}
	for _, h := range patientHits {
		conflicts = append(conflicts, models.Conflict{
			Type: models.ConflictPatientDoubleBooked,
			Message: fmt.Sprintf("patient %s already booked %s on %s with staff %s (booking %s)",
				candidate.PatientID, h.interval, candidate.Date, h.booking.StaffID, h.booking.ID),
			BookingID: h.booking.ID,
		})
	}

	unavailable, err := e.unavailability(candidate, civ)
	if err != nil {
		return nil, err
	}
	conflicts = append(conflicts, unavailable...)

	if len(conflicts) > 0 && e.opts.MaxSuggestions > 0 {
		suggestions, err := e.suggest(existing, candidate, civ)
		if err != nil {
			return nil, err
		}
		if len(suggestions) > 0 {
			for i := range conflicts {
				conflicts[i].Suggestions = append([]string(nil), suggestions...)
			}
		}
	}

	return conflicts, nil
}

// ValidateBooking checks that b names a staff member, a date and a well
// formed time range, returning the range.
func ValidateBooking(b models.Booking) (Interval, error) {
	return validateCandidate(b)
}

func validateCandidate(c models.Booking) (Interval, error) {
	if c.StaffID == "" {
		return Interval{}, withBooking(invalid("staffId", "", "is required"), c.ID)
	}
	if _, err := parseDateField("date", c.Date); err != nil {
		return Interval{}, withBooking(err, c.ID)
	}
	return BookingInterval(c)
}

func (e *Engine) unavailability(candidate models.Booking, civ Interval) ([]models.Conflict, error) {
	if e.roster == nil {
		return nil, nil
	}
	absences := e.roster.Absences(candidate.StaffID, candidate.Date)
	type absenceHit struct {
		absence  models.Absence
		interval Interval
	}
	var hits []absenceHit
	for _, a := range absences {
		iv, err := absenceInterval(a)
		if err != nil {
			return nil, err
		}
		if Overlaps(civ, iv) {
			hits = append(hits, absenceHit{absence: a, interval: iv})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].interval.Start < hits[j].interval.Start
	})

	out := make([]models.Conflict, 0, len(hits))
	for _, h := range hits {
		var msg string
		if h.absence.AllDay() {
			msg = fmt.Sprintf("staff %s unavailable all day on %s", candidate.StaffID, candidate.Date)
		} else {
			msg = fmt.Sprintf("staff %s unavailable %s on %s", candidate.StaffID, h.interval, candidate.Date)
		}
		if h.absence.Reason != "" {
			msg += ": " + h.absence.Reason
		}
		out = append(out, models.Conflict{
			Type:      models.ConflictStaffUnavailable,
			Message:   msg,
			AbsenceID: h.absence.ID,
		})
	}
	return out, nil
}

// suggest finds free starts of the same length for the candidate's staff
// member and patient, closest to the requested start first.
func (e *Engine) suggest(existing []models.Booking, candidate models.Booking, civ Interval) ([]string, error) {
	window, err := e.opts.Window.interval()
	if err != nil {
		return nil, err
	}

	busy, err := staffBusy(existing, candidate.StaffID, candidate.Date, candidate.ID)
	if err != nil {
		return nil, err
	}
	if candidate.PatientID != "" {
		for _, b := range existing {
			if b.PatientID != candidate.PatientID || b.StaffID == candidate.StaffID ||
				b.Date != candidate.Date || !b.IsActive() {
				continue
			}
			if candidate.ID != "" && b.ID == candidate.ID {
				continue
			}
			iv, err := BookingInterval(b)
			if err != nil {
				return nil, err
			}
			busy = append(busy, iv)
		}
	}
	blocked, err := e.absenceBusy(candidate.StaffID, candidate.Date)
	if err != nil {
		return nil, err
	}
	busy = append(busy, blocked...)

	starts := freeStarts(busy, window, civ.End-civ.Start, e.opts.StepMinutes)
	sort.SliceStable(starts, func(i, j int) bool {
		return distance(starts[i], civ.Start) < distance(starts[j], civ.Start)
	})
	if len(starts) > e.opts.MaxSuggestions {
		starts = starts[:e.opts.MaxSuggestions]
	}

	out := make([]string, 0, len(starts))
	for _, s := range starts {
		out = append(out, FormatTimeOfDay(s))
	}
	return out, nil
}

func sortHits(hits []hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].interval.Start != hits[j].interval.Start {
			return hits[i].interval.Start < hits[j].interval.Start
		}
		return hits[i].booking.ID < hits[j].booking.ID
	})
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
