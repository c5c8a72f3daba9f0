// Package scheduler validates and commits booking requests against the
// availability calendar and the booking ledger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calbook/internal/database"
	"calbook/internal/metrics"
	"calbook/internal/models"

	"github.com/rs/zerolog"
)

// Validation failures. All are terminal for the request; the caller is
// expected to re-query availability and resubmit, never to retry blindly.
var (
	ErrInvalidInterval      = errors.New("end time must be after start time")
	ErrInsufficientNotice   = errors.New("booking is too close to its start time")
	ErrTooFarInAdvance      = errors.New("booking date is too far in the future")
	ErrOutsideAvailability  = errors.New("requested window is outside availability")
	ErrAlreadyCancelled     = errors.New("booking is already cancelled")
	ErrCancellationDisabled = errors.New("cancellation is not allowed")
	ErrCancellationTooLate  = errors.New("too late to cancel this booking")
)

// Event types published on the booking lifecycle.
const (
	EventBookingCreated   = "booking_created"
	EventBookingCancelled = "booking_cancelled"
)

// Ledger is the booking write/read surface backed by the shared store.
// CreateBookingExclusive must guarantee the no-overlap invariant under
// concurrent calls and return database.ErrSlotConflict when it cannot.
type Ledger interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	CreateBookingExclusive(ctx context.Context, b *models.Booking) error
	CancelBooking(ctx context.Context, id string, at time.Time) (int64, error)
}

// SettingsSource returns the current calendar policy.
type SettingsSource interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
}

// AvailabilitySource computes the day's windows for validation. DayWindows
// must not subtract existing bookings; overlap with a confirmed booking is
// the ledger's verdict, not an availability miss.
type AvailabilitySource interface {
	DayWindows(ctx context.Context, date time.Time, settings *models.Settings) ([]models.Window, error)
}

// EventPublisher notifies subscribers of booking lifecycle events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Scheduler orchestrates validation and commit of booking requests.
type Scheduler struct {
	ledger       Ledger
	settings     SettingsSource
	availability AvailabilitySource
	bus          EventPublisher
	logger       zerolog.Logger
	now          func() time.Time
}

// NewScheduler creates a booking scheduler.
func NewScheduler(ledger Ledger, settings SettingsSource, availability AvailabilitySource, bus EventPublisher, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		ledger:       ledger,
		settings:     settings,
		availability: availability,
		bus:          bus,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		now:          time.Now,
	}
}

// BookingRequest is a user's request for a window on a date. Times are wall
// clock in the calendar's configured timezone.
type BookingRequest struct {
	UserID    string
	Date      string // "2006-01-02"
	StartTime string // "HH:MM"
	EndTime   string // "HH:MM"
	Notes     string
}

// Actor identifies who triggers a cancellation. Admin actors may cancel any
// booking and bypass the cancellation notice window.
type Actor struct {
	UserID string
	Admin  bool
}

// RequestBooking validates the request and commits a confirmed booking.
// Checks run in a fixed order and the first failure decides the rejection:
// interval sanity, minimum notice, advance window, availability containment,
// then the exclusive overlap-checked insert.
func (s *Scheduler) RequestBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	booking, err := s.requestBooking(ctx, req)
	metrics.IncBookingRequest(outcomeLabel(err))
	return booking, err
}

func (s *Scheduler) requestBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loc := settings.Location()

	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	end, err := models.ParseClock(req.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	date, err := models.ParseDate(req.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}

	if end <= start {
		return nil, ErrInvalidInterval
	}

	now := s.now().In(loc)
	startsAt := date.Add(time.Duration(start) * time.Minute)

	if settings.MinBookingNoticeMinutes != nil {
		notice := time.Duration(*settings.MinBookingNoticeMinutes) * time.Minute
		if startsAt.Before(now.Add(notice)) {
			return nil, ErrInsufficientNotice
		}
	}

	if settings.MaxAdvanceBookingDays != nil {
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
		horizon := today.AddDate(0, 0, *settings.MaxAdvanceBookingDays)
		if date.After(horizon) {
			return nil, ErrTooFarInAdvance
		}
	}

	requested := models.Window{Start: start, End: end}
	if !settings.AllowBookingOutsideAvailability {
		windows, err := s.availability.DayWindows(ctx, date, settings)
		if err != nil {
			return nil, fmt.Errorf("compute windows: %w", err)
		}
		if !containedInOne(requested, windows) {
			return nil, ErrOutsideAvailability
		}
	}

	booking := &models.Booking{
		UserID:      req.UserID,
		BookingDate: req.Date,
		StartTime:   models.FormatClock(start),
		EndTime:     models.FormatClock(end),
		Notes:       req.Notes,
	}
	if err := s.ledger.CreateBookingExclusive(ctx, booking); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("user_id", booking.UserID).
		Str("date", booking.BookingDate).
		Str("window", requested.String()).
		Msg("booking confirmed")
	s.publish(EventBookingCreated, booking)

	return booking, nil
}

// CancelBooking moves a confirmed booking to cancelled. Only the booking's
// owner or an admin may cancel; a non-owner sees the same error as a missing
// booking. cancelled_at is set exactly once.
func (s *Scheduler) CancelBooking(ctx context.Context, bookingID string, actor Actor) (*models.Booking, error) {
	booking, err := s.ledger.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.Admin && booking.UserID != actor.UserID {
		// Do not reveal other users' bookings.
		return nil, database.ErrNotFound
	}
	if booking.Status == models.StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !settings.AllowCancellation {
		return nil, ErrCancellationDisabled
	}

	loc := settings.Location()
	now := s.now().In(loc)

	if !actor.Admin && settings.CancellationNoticeMinutes != nil {
		startsAt, err := booking.StartsAt(loc)
		if err != nil {
			return nil, err
		}
		notice := time.Duration(*settings.CancellationNoticeMinutes) * time.Minute
		if startsAt.Sub(now) < notice {
			return nil, ErrCancellationTooLate
		}
	}

	cancelledAt := now.UTC()
	n, err := s.ledger.CancelBooking(ctx, bookingID, cancelledAt)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Lost a race with another cancel; cancelled_at is untouched.
		return nil, ErrAlreadyCancelled
	}

	booking.Status = models.StatusCancelled
	booking.CancelledAt = &cancelledAt
	booking.UpdatedAt = cancelledAt

	s.logger.Info().
		Str("booking_id", booking.ID).
		Str("user_id", booking.UserID).
		Bool("by_admin", actor.Admin).
		Msg("booking cancelled")
	metrics.IncBookingCancelled()
	s.publish(EventBookingCancelled, booking)

	return booking, nil
}

func (s *Scheduler) publish(eventType string, booking *models.Booking) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, booking); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}

// outcomeLabel maps a request result onto the metric's outcome label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, database.ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrInvalidInterval):
		return "invalid_interval"
	case errors.Is(err, ErrInsufficientNotice):
		return "insufficient_notice"
	case errors.Is(err, ErrTooFarInAdvance):
		return "too_far_in_advance"
	case errors.Is(err, ErrOutsideAvailability):
		return "outside_availability"
	case errors.Is(err, database.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// containedInOne reports whether the window fits fully inside a single
// availability window. Spanning two adjacent slots does not count.
func containedInOne(requested models.Window, windows []models.Window) bool {
	for _, w := range windows {
		if w.Contains(requested) {
			return true
		}
	}
	return false
}
