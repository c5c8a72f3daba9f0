package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"calbook/internal/availability"
	"calbook/internal/database"
	"calbook/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockLedger) CreateBookingExclusive(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockLedger) CancelBooking(ctx context.Context, id string, at time.Time) (int64, error) {
	args := m.Called(ctx, id, at)
	return args.Get(0).(int64), args.Error(1)
}

type mockSettings struct {
	mock.Mock
}

func (m *mockSettings) GetSettings(ctx context.Context) (*models.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settings), args.Error(1)
}

type mockAvailability struct {
	mock.Mock
}

func (m *mockAvailability) DayWindows(ctx context.Context, date time.Time, settings *models.Settings) ([]models.Window, error) {
	args := m.Called(ctx, date, settings)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Window), args.Error(1)
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

func intPtr(v int) *int { return &v }

func newTestScheduler(settings *models.Settings) (*Scheduler, *mockLedger, *mockSettings, *mockAvailability, *mockBus) {
	ledger := new(mockLedger)
	src := new(mockSettings)
	avail := new(mockAvailability)
	bus := new(mockBus)
	logger := zerolog.New(io.Discard)
	svc := NewScheduler(ledger, src, avail, bus, &logger)
	src.On("GetSettings", mock.Anything).Return(settings, nil)
	return svc, ledger, src, avail, bus
}

func TestRequestBooking_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidInterval", func(t *testing.T) {
		settings := models.DefaultSettings()
		svc, _, _, _, _ := newTestScheduler(settings)

		for _, req := range []BookingRequest{
			{UserID: "u1", Date: "2025-06-02", StartTime: "11:00", EndTime: "10:00"},
			{UserID: "u1", Date: "2025-06-02", StartTime: "10:00", EndTime: "10:00"},
			{UserID: "u1", Date: "2025-06-02", StartTime: "bad", EndTime: "10:00"},
			{UserID: "u1", Date: "not-a-date", StartTime: "09:00", EndTime: "10:00"},
		} {
			_, err := svc.RequestBooking(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidInterval)
		}
	})

	t.Run("InsufficientNotice", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.MinBookingNoticeMinutes = intPtr(120)
		settings.AllowBookingOutsideAvailability = true
		svc, ledger, _, _, bus := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }

		// Same day 10:00 start, only 60 minutes of notice
		_, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-06-02", StartTime: "10:00", EndTime: "11:00",
		})
		assert.ErrorIs(t, err, ErrInsufficientNotice)

		// 11:30 start leaves 150 minutes, enough
		ledger.On("CreateBookingExclusive", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", EventBookingCreated, mock.Anything).Return(nil).Once()
		b, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-06-02", StartTime: "11:30", EndTime: "12:30",
		})
		require.NoError(t, err)
		assert.Equal(t, "11:30", b.StartTime)
		ledger.AssertExpectations(t)
	})

	t.Run("TooFarInAdvance", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.MaxAdvanceBookingDays = intPtr(30)
		settings.AllowBookingOutsideAvailability = true
		svc, ledger, _, _, bus := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }

		_, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-07-03", StartTime: "10:00", EndTime: "11:00",
		})
		assert.ErrorIs(t, err, ErrTooFarInAdvance)

		// Exactly on the horizon is allowed
		ledger.On("CreateBookingExclusive", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", EventBookingCreated, mock.Anything).Return(nil).Once()
		_, err = svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-07-02", StartTime: "10:00", EndTime: "11:00",
		})
		assert.NoError(t, err)
	})

	t.Run("OutsideAvailability", func(t *testing.T) {
		settings := models.DefaultSettings()
		svc, _, _, avail, _ := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

		// Hourly slots 09:00-10:00 and 10:00-11:00
		avail.On("DayWindows", ctx, mock.Anything, settings).Return([]models.Window{
			{Start: 540, End: 600}, {Start: 600, End: 660},
		}, nil)

		// Spanning two adjacent slots is not contained in either
		_, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-06-02", StartTime: "09:30", EndTime: "10:30",
		})
		assert.ErrorIs(t, err, ErrOutsideAvailability)

		_, err = svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-06-02", StartTime: "12:00", EndTime: "13:00",
		})
		assert.ErrorIs(t, err, ErrOutsideAvailability)
	})

	t.Run("OutsideAvailabilitySkippedWhenAllowed", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.AllowBookingOutsideAvailability = true
		svc, ledger, _, avail, bus := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

		ledger.On("CreateBookingExclusive", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", EventBookingCreated, mock.Anything).Return(nil).Once()

		_, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-06-02", StartTime: "22:00", EndTime: "23:00",
		})
		assert.NoError(t, err)
		avail.AssertNotCalled(t, "DayWindows", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("SlotConflictPassesThrough", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.AllowBookingOutsideAvailability = true
		svc, ledger, _, _, _ := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }

		ledger.On("CreateBookingExclusive", ctx, mock.Anything).Return(database.ErrSlotConflict).Once()
		_, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u1", Date: "2025-06-02", StartTime: "10:00", EndTime: "11:00",
		})
		assert.ErrorIs(t, err, database.ErrSlotConflict)
	})
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "created"},
		{database.ErrSlotConflict, "slot_conflict"},
		{fmt.Errorf("wrapped: %w", database.ErrSlotConflict), "slot_conflict"},
		{ErrInvalidInterval, "invalid_interval"},
		{ErrInsufficientNotice, "insufficient_notice"},
		{ErrTooFarInAdvance, "too_far_in_advance"},
		{ErrOutsideAvailability, "outside_availability"},
		{database.ErrUnavailable, "unavailable"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeLabel(tt.err))
	}
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	confirmed := func() *models.Booking {
		return &models.Booking{
			ID: "b1", UserID: "u1", BookingDate: "2025-06-02",
			StartTime: "10:00", EndTime: "11:00", Status: models.StatusConfirmed,
		}
	}

	t.Run("NotFound", func(t *testing.T) {
		svc, ledger, _, _, _ := newTestScheduler(models.DefaultSettings())
		ledger.On("GetBooking", ctx, "missing").Return(nil, database.ErrNotFound).Once()

		_, err := svc.CancelBooking(ctx, "missing", Actor{UserID: "u1"})
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("NonOwnerSeesNotFound", func(t *testing.T) {
		svc, ledger, _, _, _ := newTestScheduler(models.DefaultSettings())
		ledger.On("GetBooking", ctx, "b1").Return(confirmed(), nil).Once()

		_, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "someone-else"})
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("AlreadyCancelled", func(t *testing.T) {
		svc, ledger, _, _, _ := newTestScheduler(models.DefaultSettings())
		b := confirmed()
		b.Status = models.StatusCancelled
		ledger.On("GetBooking", ctx, "b1").Return(b, nil).Once()

		_, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "u1"})
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	})

	t.Run("CancellationDisabled", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.AllowCancellation = false
		svc, ledger, _, _, _ := newTestScheduler(settings)
		ledger.On("GetBooking", ctx, "b1").Return(confirmed(), nil).Once()

		_, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "u1"})
		assert.ErrorIs(t, err, ErrCancellationDisabled)
	})

	t.Run("TooLate", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.CancellationNoticeMinutes = intPtr(120)
		svc, ledger, _, _, _ := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }
		ledger.On("GetBooking", ctx, "b1").Return(confirmed(), nil).Once()

		_, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "u1"})
		assert.ErrorIs(t, err, ErrCancellationTooLate)
	})

	t.Run("AdminBypassesNotice", func(t *testing.T) {
		settings := models.DefaultSettings()
		settings.CancellationNoticeMinutes = intPtr(120)
		svc, ledger, _, _, bus := newTestScheduler(settings)
		svc.now = func() time.Time { return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) }
		ledger.On("GetBooking", ctx, "b1").Return(confirmed(), nil).Once()
		ledger.On("CancelBooking", ctx, "b1", mock.Anything).Return(int64(1), nil).Once()
		bus.On("PublishJSON", EventBookingCancelled, mock.Anything).Return(nil).Once()

		b, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "admin", Admin: true})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		assert.NotNil(t, b.CancelledAt)
	})

	t.Run("Success", func(t *testing.T) {
		svc, ledger, _, _, bus := newTestScheduler(models.DefaultSettings())
		svc.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
		ledger.On("GetBooking", ctx, "b1").Return(confirmed(), nil).Once()
		ledger.On("CancelBooking", ctx, "b1", mock.Anything).Return(int64(1), nil).Once()
		bus.On("PublishJSON", EventBookingCancelled, mock.Anything).Return(nil).Once()

		b, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, b.Status)
		ledger.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("RacedCancelReportsAlreadyCancelled", func(t *testing.T) {
		svc, ledger, _, _, _ := newTestScheduler(models.DefaultSettings())
		svc.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
		ledger.On("GetBooking", ctx, "b1").Return(confirmed(), nil).Once()
		ledger.On("CancelBooking", ctx, "b1", mock.Anything).Return(int64(0), nil).Once()

		_, err := svc.CancelBooking(ctx, "b1", Actor{UserID: "u1"})
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	})
}

// The end-to-end tests run the scheduler against the real SQLite store.

func newIntegrationScheduler(t *testing.T) (*Scheduler, *database.DB) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	comp := availability.NewComputer(db)
	return NewScheduler(db, db, comp, nil, &logger), db
}

// nextEnabledDate returns a weekday date at least a week out, so the default
// template (Mon-Fri enabled) has a window and no notice rule interferes.
func nextEnabledDate() string {
	d := time.Now().UTC().AddDate(0, 0, 7)
	for models.WeekdayIndex(d) > 4 {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format(models.DateLayout)
}

func TestScheduler_ConcurrentOverlappingRequests(t *testing.T) {
	svc, db := newIntegrationScheduler(t)
	ctx := context.Background()
	date := nextEnabledDate()

	// Validation checks containment against the day's windows, so only the
	// exclusive insert arbitrates between the two requests and the loser
	// deterministically sees the conflict.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	windows := [][2]string{{"10:00", "11:00"}, {"10:30", "11:30"}}
	for i := range windows {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(ctx, BookingRequest{
				UserID: "u1", Date: date,
				StartTime: windows[i][0], EndTime: windows[i][1],
			})
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, database.ErrSlotConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	confirmed, err := db.GetConfirmedBookings(ctx, date)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
}

func TestScheduler_OccupiedSlotReportsConflict(t *testing.T) {
	svc, _ := newIntegrationScheduler(t)
	ctx := context.Background()
	date := nextEnabledDate()

	_, err := svc.RequestBooking(ctx, BookingRequest{
		UserID: "u1", Date: date, StartTime: "10:00", EndTime: "11:00",
	})
	require.NoError(t, err)

	// A window overlapping the confirmed booking is still inside the day's
	// availability; the rejection must name the conflict, not availability.
	for _, w := range [][2]string{{"10:00", "11:00"}, {"10:30", "11:30"}, {"09:30", "10:30"}} {
		_, err := svc.RequestBooking(ctx, BookingRequest{
			UserID: "u2", Date: date, StartTime: w[0], EndTime: w[1],
		})
		assert.ErrorIs(t, err, database.ErrSlotConflict, "window %s-%s", w[0], w[1])
		assert.NotErrorIs(t, err, ErrOutsideAvailability)
	}

	// A free window on the same day still books fine.
	_, err = svc.RequestBooking(ctx, BookingRequest{
		UserID: "u2", Date: date, StartTime: "13:00", EndTime: "14:00",
	})
	assert.NoError(t, err)
}

func TestScheduler_CancelFreesInterval(t *testing.T) {
	svc, _ := newIntegrationScheduler(t)
	ctx := context.Background()
	date := nextEnabledDate()
	req := BookingRequest{UserID: "u1", Date: date, StartTime: "10:00", EndTime: "11:00"}

	first, err := svc.RequestBooking(ctx, req)
	require.NoError(t, err)

	// Same window is taken
	_, err = svc.RequestBooking(ctx, req)
	assert.ErrorIs(t, err, database.ErrSlotConflict)

	_, err = svc.CancelBooking(ctx, first.ID, Actor{UserID: "u1"})
	require.NoError(t, err)

	// Cancelling freed the exact interval
	second, err := svc.RequestBooking(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
