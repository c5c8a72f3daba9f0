package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calbook/internal/models"
	"github.com/google/uuid"
)

// GetBooking returns a booking by id, or ErrNotFound.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, booking_date, start_time, end_time, status,
		       cancelled_at, notes, created_at, updated_at
		FROM bookings WHERE id = ?`, id)

	b, err := scanBooking(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetConfirmedBookings returns confirmed bookings for a date ordered by start.
func (db *DB) GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, booking_date, start_time, end_time, status,
		       cancelled_at, notes, created_at, updated_at
		FROM bookings
		WHERE booking_date = ? AND status = 'confirmed'
		ORDER BY start_time`, date)
	if err != nil {
		return nil, fmt.Errorf("query confirmed bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// CreateBookingExclusive inserts a confirmed booking, guaranteeing it does not
// overlap any confirmed booking on the same date. The overlap re-check and the
// insert run inside one transaction under the per-date lock, so two racing
// requests for intersecting windows cannot both commit. Returns
// ErrSlotConflict when the window is already taken.
func (db *DB) CreateBookingExclusive(ctx context.Context, b *models.Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	lock := db.lockDate(b.BookingDate)
	lock.Lock()
	defer lock.Unlock()

	return db.withBusyRetry(ctx, func() error {
		return db.insertIfFree(ctx, b)
	})
}

func (db *DB) insertIfFree(ctx context.Context, b *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// HH:MM strings are fixed width, so lexicographic comparison is
	// chronological. Half-open intervals: touching windows do not conflict.
	var conflicts int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE booking_date = ? AND status = 'confirmed'
		AND start_time < ? AND end_time > ?`,
		b.BookingDate, b.EndTime, b.StartTime,
	).Scan(&conflicts)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if conflicts > 0 {
		return ErrSlotConflict
	}

	now := time.Now().UTC()
	b.Status = models.StatusConfirmed
	b.CreatedAt = now
	b.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bookings (id, user_id, booking_date, start_time, end_time, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.BookingDate, b.StartTime, b.EndTime, b.Status, b.Notes, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CancelBooking flips a confirmed booking to cancelled. The status guard in
// the WHERE clause makes the update idempotent: a second cancel matches no
// rows and cannot touch cancelled_at. Returns the number of rows updated.
func (db *DB) CancelBooking(ctx context.Context, id string, at time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'confirmed'`,
		at, at, id,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel booking: %w", err)
	}
	return res.RowsAffected()
}

// ListUserBookings returns all bookings for a user, most recent date first.
func (db *DB) ListUserBookings(ctx context.Context, userID string) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, booking_date, start_time, end_time, status,
		       cancelled_at, notes, created_at, updated_at
		FROM bookings
		WHERE user_id = ?
		ORDER BY booking_date DESC, start_time`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// ListBookings returns bookings filtered by optional date range and status.
func (db *DB) ListBookings(ctx context.Context, from, to, status string) ([]models.Booking, error) {
	query := `
		SELECT id, user_id, booking_date, start_time, end_time, status,
		       cancelled_at, notes, created_at, updated_at
		FROM bookings WHERE 1=1`
	var args []any
	if from != "" {
		query += " AND booking_date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND booking_date <= ?"
		args = append(args, to)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY booking_date DESC, start_time"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// withBusyRetry retries fn a bounded number of times on SQLITE_BUSY, then
// surfaces ErrUnavailable. The caller's deadline always wins.
func (db *DB) withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if !isBusy(err) {
			return err
		}
		db.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("storage busy, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func collectBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows.Scan)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func scanBooking(scan func(...any) error) (*models.Booking, error) {
	var b models.Booking
	var cancelledAt sql.NullTime
	var notes sql.NullString
	err := scan(&b.ID, &b.UserID, &b.BookingDate, &b.StartTime, &b.EndTime, &b.Status,
		&cancelledAt, &notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		b.CancelledAt = &cancelledAt.Time
	}
	if notes.Valid {
		b.Notes = notes.String
	}
	return &b, nil
}
