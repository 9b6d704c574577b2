package models

// ConflictType names the business rule a candidate booking collides with.
type ConflictType string

const (
	ConflictOverlap             ConflictType = "overlap"
	ConflictPatientDoubleBooked ConflictType = "patient_double_booked"
	ConflictStaffUnavailable    ConflictType = "staff_unavailable"
)

// Conflict is a business-rule collision returned as data. The caller decides
// whether to block, warn or override.
type Conflict struct {
	Type        ConflictType `json:"type"`
	Message     string       `json:"message"`
	BookingID   string       `json:"bookingId,omitempty"`
	AbsenceID   string       `json:"absenceId,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

// Absence is declared staff unavailability. Empty StartTime and EndTime
// block the whole day.
type Absence struct {
	ID        string `json:"id"`
	StaffID   string `json:"staffId"`
	Date      string `json:"date"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AllDay reports whether the absence covers the full day.
func (a Absence) AllDay() bool {
	return a.StartTime == "" && a.EndTime == ""
}
