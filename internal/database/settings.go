package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calbook/internal/models"
)

// GetSettings returns the singleton settings row. If the row is somehow
// missing, built-in defaults are returned instead of an error.
func (db *DB) GetSettings(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	var slotDuration, minNotice, maxAdvance, cancelNotice sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT slot_duration_minutes, default_start_time, default_end_time, timezone,
		       min_booking_notice_minutes, max_advance_booking_days,
		       allow_cancellation, cancellation_notice_minutes,
		       allow_booking_outside_availability, updated_at
		FROM calendar_settings WHERE id = 1`,
	).Scan(
		&slotDuration, &s.DefaultStartTime, &s.DefaultEndTime, &s.Timezone,
		&minNotice, &maxAdvance,
		&s.AllowCancellation, &cancelNotice,
		&s.AllowBookingOutsideAvailability, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	s.SlotDurationMinutes = nullableInt(slotDuration)
	s.MinBookingNoticeMinutes = nullableInt(minNotice)
	s.MaxAdvanceBookingDays = nullableInt(maxAdvance)
	s.CancellationNoticeMinutes = nullableInt(cancelNotice)
	return &s, nil
}

// UpsertSettings replaces the singleton row in place.
func (db *DB) UpsertSettings(ctx context.Context, s *models.Settings) (*models.Settings, error) {
	if s.DefaultStartTime == "" {
		s.DefaultStartTime = "08:00"
	}
	if s.DefaultEndTime == "" {
		s.DefaultEndTime = "17:00"
	}
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return nil, fmt.Errorf("unknown timezone %q", s.Timezone)
	}
	if s.SlotDurationMinutes != nil && *s.SlotDurationMinutes <= 0 {
		return nil, fmt.Errorf("slot_duration_minutes must be positive")
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO calendar_settings (
			id, slot_duration_minutes, default_start_time, default_end_time, timezone,
			min_booking_notice_minutes, max_advance_booking_days,
			allow_cancellation, cancellation_notice_minutes,
			allow_booking_outside_availability, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slot_duration_minutes = excluded.slot_duration_minutes,
			default_start_time = excluded.default_start_time,
			default_end_time = excluded.default_end_time,
			timezone = excluded.timezone,
			min_booking_notice_minutes = excluded.min_booking_notice_minutes,
			max_advance_booking_days = excluded.max_advance_booking_days,
			allow_cancellation = excluded.allow_cancellation,
			cancellation_notice_minutes = excluded.cancellation_notice_minutes,
			allow_booking_outside_availability = excluded.allow_booking_outside_availability,
			updated_at = excluded.updated_at`,
		s.SlotDurationMinutes, s.DefaultStartTime, s.DefaultEndTime, s.Timezone,
		s.MinBookingNoticeMinutes, s.MaxAdvanceBookingDays,
		s.AllowCancellation, s.CancellationNoticeMinutes,
		s.AllowBookingOutsideAvailability, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert settings: %w", err)
	}
	return db.GetSettings(ctx)
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
