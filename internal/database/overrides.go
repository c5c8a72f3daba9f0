package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calbook/internal/models"
	"github.com/google/uuid"
)

// GetOverride returns the override for a date, or ErrNotFound.
func (db *DB) GetOverride(ctx context.Context, date string) (*models.Override, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, date, is_closed, start_time, end_time, notes, created_at, updated_at
		FROM availability_overrides
		WHERE date = ?`, date)

	o, err := scanOverride(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// UpsertOverride creates or replaces the override for its date.
// A window must have both bounds or neither; one-sided input is rejected here
// so readers can assume both-or-neither.
func (db *DB) UpsertOverride(ctx context.Context, o *models.Override) (*models.Override, error) {
	if (o.StartTime == nil) != (o.EndTime == nil) {
		return nil, fmt.Errorf("override for %s: start_time and end_time must both be set or both be empty", o.Date)
	}
	if o.StartTime != nil {
		start, err := models.ParseClock(*o.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := models.ParseClock(*o.EndTime)
		if err != nil {
			return nil, err
		}
		if start >= end {
			return nil, fmt.Errorf("override for %s: start_time %s must be before end_time %s", o.Date, *o.StartTime, *o.EndTime)
		}
	}
	if _, err := time.Parse(models.DateLayout, o.Date); err != nil {
		return nil, fmt.Errorf("override date %q: %w", o.Date, err)
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO availability_overrides (id, date, is_closed, start_time, end_time, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			is_closed = excluded.is_closed,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		o.ID, o.Date, o.IsClosed, o.StartTime, o.EndTime, o.Notes, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert override: %w", err)
	}
	return db.GetOverride(ctx, o.Date)
}

// DeleteOverride removes the override for a date.
func (db *DB) DeleteOverride(ctx context.Context, date string) error {
	res, err := db.ExecContext(ctx,
		"DELETE FROM availability_overrides WHERE date = ?", date)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOverrides returns overrides within [from, to]; empty bounds are open.
func (db *DB) ListOverrides(ctx context.Context, from, to string) ([]models.Override, error) {
	query := `
		SELECT id, date, is_closed, start_time, end_time, notes, created_at, updated_at
		FROM availability_overrides WHERE 1=1`
	var args []any
	if from != "" {
		query += " AND date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND date <= ?"
		args = append(args, to)
	}
	query += " ORDER BY date"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var overrides []models.Override
	for rows.Next() {
		o, err := scanOverride(rows.Scan)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

func scanOverride(scan func(...any) error) (*models.Override, error) {
	var o models.Override
	var startTime, endTime, notes sql.NullString
	err := scan(&o.ID, &o.Date, &o.IsClosed, &startTime, &endTime, &notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if startTime.Valid {
		o.StartTime = &startTime.String
	}
	if endTime.Valid {
		o.EndTime = &endTime.String
	}
	if notes.Valid {
		o.Notes = notes.String
	}
	return &o, nil
}
