package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carecoop/internal/domain"
	"carecoop/internal/models"
)

const syncTaskColumns = `id, task_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

// CreateSyncTask appends a roster sync task to the durable queue. An empty
// status is stored as pending.
func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	created := time.Now()

	res, err := db.ExecContext(ctx,
		`INSERT INTO sync_queue (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, task.Payload, task.Status,
		task.RetryCount, task.LastError, created, task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s task for booking %s: %w", task.TaskType, task.BookingID, err)
	}
	if task.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("sync task id: %w", err)
	}
	task.CreatedAt = created
	return nil
}

// GetPendingSyncTasks returns up to limit tasks that are due, oldest first.
// Tasks in retry become due once their next_retry_at has passed.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	return db.selectSyncTasks(ctx,
		`WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?) ORDER BY created_at ASC, id ASC LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, time.Now(), limit)
}

// GetFailedSyncTasks lists dead tasks, newest first.
func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	return db.selectSyncTasks(ctx, `WHERE status = ? ORDER BY created_at DESC, id DESC`, models.SyncStatusFailed)
}

// UpdateSyncTaskStatus records the outcome of a processing attempt. A retry
// bumps retry_count; completed and failed tasks get processed_at.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	set := `status = ?, last_error = ?, next_retry_at = ?`
	args := []interface{}{status, nullString(errMsg), nextRetryAt}

	switch status {
	case models.SyncStatusRetry:
		set += `, retry_count = retry_count + 1`
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		set += `, processed_at = ?`
		args = append(args, time.Now())
	}
	args = append(args, id)

	if _, err := db.ExecContext(ctx, `UPDATE sync_queue SET `+set+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("mark sync task %d %s: %w", id, status, err)
	}
	return nil
}

// SyncTaskState returns the stored status of task id and whether a later
// task for the same booking has already completed.
func (db *DB) SyncTaskState(ctx context.Context, id int64) (status string, superseded bool, err error) {
	err = db.QueryRowContext(ctx,
		`SELECT t.status, EXISTS (
			SELECT 1 FROM sync_queue n
			 WHERE n.booking_id = t.booking_id AND n.id > t.id AND n.status = ?
		 ) FROM sync_queue t WHERE t.id = ?`,
		models.SyncStatusCompleted, id,
	).Scan(&status, &superseded)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("sync task %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return "", false, fmt.Errorf("load sync task %d: %w", id, err)
	}
	return status, superseded, nil
}

// RequeueFailedSyncTasks moves failed tasks back to pending with a fresh
// retry budget. It returns the number of tasks requeued.
func (db *DB) RequeueFailedSyncTasks(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retry_count = 0, next_retry_at = NULL, processed_at = NULL WHERE status = ?`,
		models.SyncStatusPending, models.SyncStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("requeue failed sync tasks: %w", err)
	}
	return res.RowsAffected()
}

func (db *DB) selectSyncTasks(ctx context.Context, clause string, args ...interface{}) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.SyncTask, 0)
	for rows.Next() {
		var t models.SyncTask
		if err := rows.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt); err != nil {
			return nil, fmt.Errorf("scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
