package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Booking statuses. A booking is created confirmed and can only move to cancelled.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// DateLayout is the wire/storage format for calendar dates.
const DateLayout = "2006-01-02"

// WeekdayHours is one row of the weekly availability template.
// Weekday uses Monday=0 .. Sunday=6.
type WeekdayHours struct {
	Weekday   int       `json:"weekday"`
	Enabled   bool      `json:"enabled"`
	StartTime string    `json:"start_time"` // "HH:MM"
	EndTime   string    `json:"end_time"`   // "HH:MM"
	UpdatedAt time.Time `json:"updated_at"`
}

// Override is a per-date exception that supersedes the weekly template.
// StartTime/EndTime are both set or both nil; when both nil and not closed,
// the template window applies for that date.
type Override struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"` // "2006-01-02"
	IsClosed  bool      `json:"is_closed"`
	StartTime *string   `json:"start_time,omitempty"` // "HH:MM"
	EndTime   *string   `json:"end_time,omitempty"`   // "HH:MM"
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings is the singleton policy row for the whole calendar.
type Settings struct {
	SlotDurationMinutes             *int      `json:"slot_duration_minutes,omitempty"`
	DefaultStartTime                string    `json:"default_start_time"`
	DefaultEndTime                  string    `json:"default_end_time"`
	Timezone                        string    `json:"timezone"`
	MinBookingNoticeMinutes         *int      `json:"min_booking_notice_minutes,omitempty"`
	MaxAdvanceBookingDays           *int      `json:"max_advance_booking_days,omitempty"`
	AllowCancellation               bool      `json:"allow_cancellation"`
	CancellationNoticeMinutes       *int      `json:"cancellation_notice_minutes,omitempty"`
	AllowBookingOutsideAvailability bool      `json:"allow_booking_outside_availability"`
	UpdatedAt                       time.Time `json:"updated_at"`
}

// DefaultSettings returns the fallback policy used before an admin has
// configured anything.
func DefaultSettings() *Settings {
	return &Settings{
		DefaultStartTime:                "08:00",
		DefaultEndTime:                  "17:00",
		Timezone:                        "UTC",
		AllowCancellation:               true,
		AllowBookingOutsideAvailability: false,
	}
}

// Location resolves the configured timezone. An empty or unknown zone falls
// back to UTC so time arithmetic never silently uses server-local time.
func (s *Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Booking is one row of the booking ledger.
type Booking struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	BookingDate string     `json:"booking_date"` // "2006-01-02"
	StartTime   string     `json:"start_time"`   // "HH:MM"
	EndTime     string     `json:"end_time"`     // "HH:MM"
	Status      string     `json:"status"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Interval returns the booking's window as minutes since midnight.
func (b *Booking) Interval() (Window, error) {
	start, err := ParseClock(b.StartTime)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseClock(b.EndTime)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: start, End: end}, nil
}

// StartsAt combines the booking date and start time in the given location.
func (b *Booking) StartsAt(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, b.BookingDate, loc)
	if err != nil {
		return time.Time{}, err
	}
	start, err := ParseClock(b.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(start) * time.Minute), nil
}

// Window is a half-open [Start, End) interval in minutes since midnight.
type Window struct {
	Start int `json:"-"`
	End   int `json:"-"`
}

// Overlaps reports whether two half-open intervals intersect.
func (w Window) Overlaps(other Window) bool {
	return w.Start < other.End && other.Start < w.End
}

// Contains reports whether other lies fully inside w.
func (w Window) Contains(other Window) bool {
	return other.Start >= w.Start && other.End <= w.End
}

func (w Window) String() string {
	return FormatClock(w.Start) + "-" + FormatClock(w.End)
}

// ParseClock parses "HH:MM" (seconds are tolerated and dropped, matching
// what Postgres-style TIME columns return) into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a "2006-01-02" date in the given location.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, loc)
}

// WeekdayIndex maps a date to the template index (Monday=0 .. Sunday=6).
func WeekdayIndex(date time.Time) int {
	return (int(date.Weekday()) + 6) % 7
}
