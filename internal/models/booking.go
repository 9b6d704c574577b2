package models

import "time"

// Booking unifies appointments and shifts: a staff member (and optionally a
// patient) reserved for [StartTime, EndTime) on Date. Date and times are naive
// local strings, "2006-01-02" and "15:04".
type Booking struct {
	ID              string      `json:"id"`
	StaffID         string      `json:"staffId"`
	PatientID       string      `json:"patientId,omitempty"`
	Date            string      `json:"date"`
	StartTime       string      `json:"startTime"`
	EndTime         string      `json:"endTime,omitempty"`
	DurationMinutes int         `json:"durationMinutes,omitempty"`
	Type            BookingType `json:"type,omitempty"`
	Status          Status      `json:"status"`
	Notes           string      `json:"notes,omitempty"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// EffectiveStatus treats an unset status as scheduled.
func (b Booking) EffectiveStatus() Status {
	if b.Status == "" {
		return StatusScheduled
	}
	return b.Status
}

// IsActive reports whether the booking takes part in overlap checks.
func (b Booking) IsActive() bool {
	return b.EffectiveStatus().IsActive()
}

// BookingTemplate is a Booking without identity and date, used to stamp out
// recurring instances.
type BookingTemplate struct {
	StaffID         string      `json:"staffId"`
	PatientID       string      `json:"patientId,omitempty"`
	StartTime       string      `json:"startTime"`
	EndTime         string      `json:"endTime,omitempty"`
	DurationMinutes int         `json:"durationMinutes,omitempty"`
	Type            BookingType `json:"type,omitempty"`
	Status          Status      `json:"status,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}

// Instantiate builds a booking from the template for a concrete id and date.
func (t BookingTemplate) Instantiate(id, date string) Booking {
	return Booking{
		ID:              id,
		StaffID:         t.StaffID,
		PatientID:       t.PatientID,
		Date:            date,
		StartTime:       t.StartTime,
		EndTime:         t.EndTime,
		DurationMinutes: t.DurationMinutes,
		Type:            t.Type,
		Status:          t.Status,
		Notes:           t.Notes,
	}
}

// Recurrence is input-only: it is expanded into independent bookings at
// creation time and never stored.
type Recurrence struct {
	Pattern string `json:"pattern"`
	EndDate string `json:"endDate"`
}

// BookingFilter narrows List queries. Empty fields match everything; the date
// bounds are inclusive.
type BookingFilter struct {
	StaffID   string
	PatientID string
	DateFrom  string
	DateTo    string
	Statuses  []Status
}

// Match reports whether b satisfies the filter.
func (f BookingFilter) Match(b Booking) bool {
	if f.StaffID != "" && b.StaffID != f.StaffID {
		return false
	}
	if f.PatientID != "" && b.PatientID != f.PatientID {
		return false
	}
	// ISO dates compare correctly as strings.
	if f.DateFrom != "" && b.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && b.Date > f.DateTo {
		return false
	}
	if len(f.Statuses) > 0 {
		status := b.EffectiveStatus()
		for _, s := range f.Statuses {
			if s == status {
				return true
			}
		}
		return false
	}
	return true
}
