package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calbook/internal/models"
)

// GetTemplate returns all seven weekly template rows ordered by weekday.
func (db *DB) GetTemplate(ctx context.Context) ([]models.WeekdayHours, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT weekday, enabled, start_time, end_time, updated_at
		FROM availability_template
		ORDER BY weekday`)
	if err != nil {
		return nil, fmt.Errorf("query template: %w", err)
	}
	defer rows.Close()

	var days []models.WeekdayHours
	for rows.Next() {
		var d models.WeekdayHours
		if err := rows.Scan(&d.Weekday, &d.Enabled, &d.StartTime, &d.EndTime, &d.UpdatedAt); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// GetTemplateDay returns the template row for one weekday (Monday=0).
func (db *DB) GetTemplateDay(ctx context.Context, weekday int) (*models.WeekdayHours, error) {
	var d models.WeekdayHours
	err := db.QueryRowContext(ctx, `
		SELECT weekday, enabled, start_time, end_time, updated_at
		FROM availability_template
		WHERE weekday = ?`, weekday,
	).Scan(&d.Weekday, &d.Enabled, &d.StartTime, &d.EndTime, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateTemplateDay rewrites the window for one weekday in place.
// Template rows are seeded at init and never deleted.
func (db *DB) UpdateTemplateDay(ctx context.Context, d *models.WeekdayHours) error {
	if d.Weekday < 0 || d.Weekday > 6 {
		return fmt.Errorf("weekday %d out of range", d.Weekday)
	}
	if d.Enabled {
		start, err := models.ParseClock(d.StartTime)
		if err != nil {
			return err
		}
		end, err := models.ParseClock(d.EndTime)
		if err != nil {
			return err
		}
		if start >= end {
			return fmt.Errorf("start_time %s must be before end_time %s", d.StartTime, d.EndTime)
		}
	}

	res, err := db.ExecContext(ctx, `
		UPDATE availability_template
		SET enabled = ?, start_time = ?, end_time = ?, updated_at = ?
		WHERE weekday = ?`,
		d.Enabled, d.StartTime, d.EndTime, time.Now().UTC(), d.Weekday,
	)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
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
