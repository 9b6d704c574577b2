package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"carecoop/internal/domain"
	"carecoop/internal/models"

	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, staff_id, patient_id, date, start_time, end_time, duration_minutes,
	type, status, notes, version, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.StaffID, &b.PatientID, &b.Date, &b.StartTime, &b.EndTime, &b.DurationMinutes,
		&b.Type, &b.Status, &b.Notes, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	return b, err
}

func (db *DB) Get(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// List returns bookings matching filter ordered by date, start time and id.
func (db *DB) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.StaffID != "" {
		where = append(where, "staff_id = ?")
		args = append(args, filter.StaffID)
	}
	if filter.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	if filter.DateFrom != "" {
		where = append(where, "date >= ?")
		args = append(args, filter.DateFrom)
	}
	if filter.DateTo != "" {
		where = append(where, "date <= ?")
		args = append(args, filter.DateTo)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, start_time, id`

	bookings, err := queryBookings(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}

	// Status is matched in Go so an unset status counts as scheduled.
	out := bookings[:0]
	for _, b := range bookings {
		if filter.Match(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func queryBookings(ctx context.Context, q queryer, query string, args ...interface{}) ([]models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// Put inserts a booking with Version 0 or updates one whose Version matches
// the stored row.
func (db *DB) Put(ctx context.Context, booking *models.Booking) error {
	var saved models.Booking
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		saved, err = putBooking(ctx, tx, *booking, time.Now())
		return err
	})
	if err != nil {
		return err
	}
	*booking = saved
	return nil
}

// CheckAndPut loads every booking on the affected dates, runs check and
// writes all bookings in the same transaction.
func (db *DB) CheckAndPut(ctx context.Context, bookings []*models.Booking, check domain.ConflictCheck) error {
	if len(bookings) == 0 {
		return nil
	}
	saved := make([]models.Booking, len(bookings))

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		snapshot, err := bookingsOnDates(ctx, tx, bookings)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(snapshot); err != nil {
				return err
			}
		}

		now := time.Now()
		for i, b := range bookings {
			saved[i], err = putBooking(ctx, tx, *b, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range bookings {
		*bookings[i] = saved[i]
	}
	return nil
}

func bookingsOnDates(ctx context.Context, q queryer, bookings []*models.Booking) ([]models.Booking, error) {
	seen := make(map[string]bool)
	var args []interface{}
	for _, b := range bookings {
		if !seen[b.Date] {
			seen[b.Date] = true
			args = append(args, b.Date)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE date IN (` + placeholders + `) ORDER BY date, start_time, id`
	return queryBookings(ctx, q, query, args...)
}

func putBooking(ctx context.Context, q queryer, b models.Booking, now time.Time) (models.Booking, error) {
	if b.Version == 0 {
		query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		b.Version = 1
		b.CreatedAt = now
		b.UpdatedAt = now
		_, err := q.ExecContext(ctx, query,
			b.ID, b.StaffID, b.PatientID, b.Date, b.StartTime, b.EndTime, b.DurationMinutes,
			b.Type, b.Status, b.Notes, b.Version, b.CreatedAt, b.UpdatedAt,
		)
		if isConstraintViolation(err) {
			return models.Booking{}, fmt.Errorf("booking %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		if err != nil {
			return models.Booking{}, fmt.Errorf("failed to insert booking: %w", err)
		}
		return b, nil
	}

	query := `UPDATE bookings SET staff_id = ?, patient_id = ?, date = ?, start_time = ?, end_time = ?,
			duration_minutes = ?, type = ?, status = ?, notes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`
	result, err := q.ExecContext(ctx, query,
		b.StaffID, b.PatientID, b.Date, b.StartTime, b.EndTime,
		b.DurationMinutes, b.Type, b.Status, b.Notes, now,
		b.ID, b.Version,
	)
	if err != nil {
		return models.Booking{}, fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, b.ID).Scan(&exists)
		if err != nil {
			return models.Booking{}, fmt.Errorf("failed to check booking: %w", err)
		}
		if exists == 0 {
			return models.Booking{}, fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
		}
		return models.Booking{}, fmt.Errorf("booking %s: %w", b.ID, domain.ErrConcurrentModification)
	}

	var createdAt time.Time
	if err := q.QueryRowContext(ctx, `SELECT created_at FROM bookings WHERE id = ?`, b.ID).Scan(&createdAt); err != nil {
		return models.Booking{}, fmt.Errorf("failed to read booking: %w", err)
	}
	b.Version++
	b.CreatedAt = createdAt
	b.UpdatedAt = now
	return b, nil
}

func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
