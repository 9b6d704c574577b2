package database

import (
	"context"
	"fmt"
	"strings"

	"carecoop/internal/domain"
	"carecoop/internal/models"
)

func (db *DB) ListAbsences(ctx context.Context, staffID, date string) ([]models.Absence, error) {
	var (
		where []string
		args  []interface{}
	)
	if staffID != "" {
		where = append(where, "staff_id = ?")
		args = append(args, staffID)
	}
	if date != "" {
		where = append(where, "date = ?")
		args = append(args, date)
	}

	query := `SELECT id, staff_id, date, start_time, end_time, reason FROM staff_absences`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, staff_id, start_time, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list absences: %w", err)
	}
	defer rows.Close()

	absences := make([]models.Absence, 0)
	for rows.Next() {
		var a models.Absence
		if err := rows.Scan(&a.ID, &a.StaffID, &a.Date, &a.StartTime, &a.EndTime, &a.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan absence: %w", err)
		}
		absences = append(absences, a)
	}
	return absences, rows.Err()
}

func (db *DB) PutAbsence(ctx context.Context, a *models.Absence) error {
	query := `INSERT INTO staff_absences (id, staff_id, date, start_time, end_time, reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			staff_id = excluded.staff_id,
			date = excluded.date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			reason = excluded.reason`
	_, err := db.ExecContext(ctx, query, a.ID, a.StaffID, a.Date, a.StartTime, a.EndTime, a.Reason)
	if err != nil {
		return fmt.Errorf("failed to save absence: %w", err)
	}
	return nil
}

func (db *DB) DeleteAbsence(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM staff_absences WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete absence: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("absence %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
