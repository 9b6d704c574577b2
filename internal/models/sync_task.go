package models

import "time"

// Sync task lifecycle.
const (
	SyncStatusPending   = "pending"
	SyncStatusRetry     = "retry"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// SyncTask is a queued roster synchronization job.
type SyncTask struct {
	ID          int64      `json:"id"`
	TaskType    string     `json:"taskType"`
	BookingID   string     `json:"bookingId"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retryCount"`
	LastError   *string    `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
}
