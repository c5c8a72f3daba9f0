package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB wraps the SQLite connection together with the per-date booking locks.
type DB struct {
	*sql.DB
	dateLocks map[string]*sync.Mutex
	mu        sync.Mutex
	logger    *zerolog.Logger
}

var (
	ErrSlotConflict = errors.New("slot conflicts with an existing booking")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("storage unavailable")
)

// busyRetries bounds retries of transactions that hit SQLITE_BUSY before the
// error is surfaced as ErrUnavailable.
const busyRetries = 3

// NewDB opens the database, creating the file, tables and seed rows if needed.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode with busy timeout: readers never block the single writer.
	// Transactions take the write lock up front so an overlap re-check can
	// never be invalidated by a concurrent commit mid-transaction.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:        db,
		dateLocks: make(map[string]*sync.Mutex),
		logger:    logger,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := instance.seedDefaults(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to seed defaults: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		// Weekly availability template: exactly one row per weekday (Monday=0).
		`CREATE TABLE IF NOT EXISTS availability_template (
			weekday INTEGER PRIMARY KEY CHECK (weekday BETWEEN 0 AND 6),
			enabled BOOLEAN NOT NULL DEFAULT 0,
			start_time TEXT NOT NULL DEFAULT '08:00',
			end_time TEXT NOT NULL DEFAULT '17:00',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (enabled = 0 OR start_time < end_time)
		)`,

		// Per-date exceptions that supersede the template.
		`CREATE TABLE IF NOT EXISTS availability_overrides (
			id TEXT PRIMARY KEY,
			date TEXT UNIQUE NOT NULL,
			is_closed BOOLEAN NOT NULL DEFAULT 0,
			start_time TEXT,
			end_time TEXT,
			notes TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK ((start_time IS NULL) = (end_time IS NULL)),
			CHECK (start_time IS NULL OR start_time < end_time)
		)`,

		// Singleton policy row.
		`CREATE TABLE IF NOT EXISTS calendar_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			slot_duration_minutes INTEGER,
			default_start_time TEXT NOT NULL DEFAULT '08:00',
			default_end_time TEXT NOT NULL DEFAULT '17:00',
			timezone TEXT NOT NULL DEFAULT 'UTC',
			min_booking_notice_minutes INTEGER,
			max_advance_booking_days INTEGER,
			allow_cancellation BOOLEAN NOT NULL DEFAULT 1,
			cancellation_notice_minutes INTEGER,
			allow_booking_outside_availability BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Booking ledger. Status only ever moves confirmed -> cancelled.
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			booking_date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'confirmed',
			cancelled_at DATETIME,
			notes TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CHECK (start_time < end_time),
			CHECK (status IN ('confirmed', 'cancelled'))
		)`,

		// Overlap checks always filter on (booking_date, status).
		`CREATE INDEX IF NOT EXISTS idx_bookings_date_status ON bookings(booking_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,

		// Revoked session tokens, stored as SHA-256 hex digests.
		`CREATE TABLE IF NOT EXISTS token_revocations (
			token_hash TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_token_revocations_expires ON token_revocations(expires_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// seedDefaults inserts the seven template rows and the settings singleton.
// Weekdays Monday..Friday start enabled 08:00-17:00; upserts are idempotent.
func (db *DB) seedDefaults(ctx context.Context) error {
	for weekday := 0; weekday < 7; weekday++ {
		enabled := weekday < 5
		_, err := db.ExecContext(ctx, `
			INSERT INTO availability_template (weekday, enabled, start_time, end_time)
			VALUES (?, ?, '08:00', '17:00')
			ON CONFLICT(weekday) DO NOTHING`,
			weekday, enabled,
		)
		if err != nil {
			return fmt.Errorf("seed template weekday %d: %w", weekday, err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO calendar_settings (id) VALUES (1)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// lockDate returns the mutex serializing check-then-insert for one date.
// The map is never pruned; the key space is bounded by the advance window.
func (db *DB) lockDate(date string) *sync.Mutex {
	db.mu.Lock()
	defer db.mu.Unlock()
	lock, ok := db.dateLocks[date]
	if !ok {
		lock = &sync.Mutex{}
		db.dateLocks[date] = lock
	}
	return lock
}

// isBusy reports whether the error is a transient SQLITE_BUSY/LOCKED failure.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") || strings.Contains(msg, "busy")
}

func (db *DB) Close() error {
	return db.DB.Close()
}
