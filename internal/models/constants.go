package models

// Status is the lifecycle tag of a booking.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in-progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no-show"
	StatusRescheduled Status = "rescheduled"
)

// IsActive reports whether the status is non-terminal. Only active bookings
// occupy time for slot and conflict calculations.
func (s Status) IsActive() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	default:
		return false
	}
}

// BookingType is a categorical tag; it has no effect on scheduling.
type BookingType string

const (
	TypeHomeVisit BookingType = "home-visit"
	TypeClinic    BookingType = "clinic"
	TypeTraining  BookingType = "training"
	TypeShift     BookingType = "shift"
	TypeMeeting   BookingType = "meeting"
)

const (
	// DefaultWorkStart and DefaultWorkEnd bound the day used for slot search.
	DefaultWorkStart = "07:00"
	DefaultWorkEnd   = "20:00"

	// DefaultStepMinutes spaces candidate slot starts.
	DefaultStepMinutes = 30

	// DefaultMaxSuggestions caps alternative slots attached to a conflict.
	DefaultMaxSuggestions = 3

	// DefaultMaxRecurrenceInstances bounds a single recurrence expansion.
	DefaultMaxRecurrenceInstances = 366

	// WorkerQueueSize is the in-memory buffer of the roster sync worker.
	WorkerQueueSize = 1000
)
