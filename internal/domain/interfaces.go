package domain

import (
	"context"
	"time"

	"carecoop/internal/models"
)

// ConflictCheck inspects a consistent snapshot of the bookings held on the
// dates being written. A non-nil error aborts the write and is returned to
// the caller unchanged.
type ConflictCheck func(snapshot []models.Booking) error

// BookingStore is the keyed booking collection. Put is an upsert guarded by
// Version: zero inserts a new record, anything else must match the stored
// version. Successful writes bump Version and the timestamps in place.
type BookingStore interface {
	Get(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	Put(ctx context.Context, booking *models.Booking) error
	Delete(ctx context.Context, id string) error
	// CheckAndPut runs check against every stored booking on the dates of
	// bookings and persists all of them only when check passes. The read,
	// the check and the write form one atomic step.
	CheckAndPut(ctx context.Context, bookings []*models.Booking, check ConflictCheck) error
}

// AbsenceStore keeps declared staff unavailability. Empty staffID or date
// arguments match everything.
type AbsenceStore interface {
	ListAbsences(ctx context.Context, staffID, date string) ([]models.Absence, error)
	PutAbsence(ctx context.Context, absence *models.Absence) error
	DeleteAbsence(ctx context.Context, id string) error
}

// Store is a complete persistence backend.
type Store interface {
	BookingStore
	AbsenceStore
	Ping(ctx context.Context) error
	Close() error
}

// SyncTaskStore is the durable queue behind the roster sync worker.
type SyncTaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	SyncTaskState(ctx context.Context, id int64) (status string, superseded bool, err error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// RosterWriter mirrors bookings into the shared roster spreadsheet.
type RosterWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID string, status models.Status) error
	DeleteBookingRow(ctx context.Context, bookingID string) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID string, booking *models.Booking, status models.Status) error
}

// RosterReplacer rewrites the whole shared roster in one pass.
type RosterReplacer interface {
	ReplaceAll(ctx context.Context, bookings []models.Booking) error
}
