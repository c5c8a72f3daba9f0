// Package availability derives bookable time windows for a date from the
// weekly template, per-date overrides and the booking ledger.
package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calbook/internal/database"
	"calbook/internal/models"
)

// Store is the read surface the computer needs. It never writes.
type Store interface {
	GetOverride(ctx context.Context, date string) (*models.Override, error)
	GetTemplateDay(ctx context.Context, weekday int) (*models.WeekdayHours, error)
	GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error)
}

// Computer computes bookable windows for a date.
type Computer struct {
	store Store
}

// NewComputer creates a new availability computer.
func NewComputer(store Store) *Computer {
	return &Computer{store: store}
}

// Windows returns the ordered, non-overlapping bookable windows for a date.
// Overrides supersede the template; a closed override wins outright. When the
// settings define a slot duration the base window is cut into fixed slots and
// a trailing partial slot is dropped. Confirmed bookings are subtracted last,
// removing or splitting any window they intersect.
func (c *Computer) Windows(ctx context.Context, date time.Time, settings *models.Settings) ([]models.Window, error) {
	windows, err := c.DayWindows(ctx, date, settings)
	if err != nil || len(windows) == 0 {
		return nil, err
	}

	busy, err := c.bookedIntervals(ctx, date)
	if err != nil {
		return nil, err
	}
	return subtract(windows, busy), nil
}

// DayWindows returns the day's windows before bookings are subtracted: the
// override/template layering plus optional slot subdivision. Booking
// validation checks containment against these, so a request for an occupied
// slot falls through to the ledger's overlap check instead of reading as
// outside availability.
func (c *Computer) DayWindows(ctx context.Context, date time.Time, settings *models.Settings) ([]models.Window, error) {
	base, ok, err := c.baseWindow(ctx, date)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if settings.SlotDurationMinutes != nil && *settings.SlotDurationMinutes > 0 {
		return subdivide(base, *settings.SlotDurationMinutes), nil
	}
	return []models.Window{base}, nil
}

// baseWindow resolves the override/template layering for a date.
// Returns ok=false when the day is fully closed.
func (c *Computer) baseWindow(ctx context.Context, date time.Time) (models.Window, bool, error) {
	dateStr := date.Format(models.DateLayout)

	override, err := c.store.GetOverride(ctx, dateStr)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return models.Window{}, false, fmt.Errorf("get override: %w", err)
	}
	if override != nil {
		if override.IsClosed {
			return models.Window{}, false, nil
		}
		// A non-closed override with no window of its own defers to the
		// template for this date. Writers guarantee both-or-neither.
		if override.StartTime != nil {
			w, err := parseWindow(*override.StartTime, *override.EndTime)
			if err != nil {
				return models.Window{}, false, err
			}
			return w, true, nil
		}
	}

	day, err := c.store.GetTemplateDay(ctx, models.WeekdayIndex(date))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.Window{}, false, nil
		}
		return models.Window{}, false, fmt.Errorf("get template day: %w", err)
	}
	if !day.Enabled {
		return models.Window{}, false, nil
	}
	w, err := parseWindow(day.StartTime, day.EndTime)
	if err != nil {
		return models.Window{}, false, err
	}
	return w, true, nil
}

func (c *Computer) bookedIntervals(ctx context.Context, date time.Time) ([]models.Window, error) {
	bookings, err := c.store.GetConfirmedBookings(ctx, date.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("get confirmed bookings: %w", err)
	}
	intervals := make([]models.Window, 0, len(bookings))
	for i := range bookings {
		w, err := bookings[i].Interval()
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, w)
	}
	return intervals, nil
}

// subdivide cuts a window into consecutive fixed-length slots. A trailing
// remainder shorter than the slot duration is dropped.
func subdivide(base models.Window, slotMinutes int) []models.Window {
	var slots []models.Window
	for cursor := base.Start; cursor+slotMinutes <= base.End; cursor += slotMinutes {
		slots = append(slots, models.Window{Start: cursor, End: cursor + slotMinutes})
	}
	return slots
}

// subtract removes the busy intervals from the candidate windows, splitting a
// window when a busy interval lands in its middle. Windows stay ordered.
func subtract(windows, busy []models.Window) []models.Window {
	for _, b := range busy {
		var next []models.Window
		for _, w := range windows {
			if !w.Overlaps(b) {
				next = append(next, w)
				continue
			}
			if b.Start > w.Start {
				next = append(next, models.Window{Start: w.Start, End: b.Start})
			}
			if b.End < w.End {
				next = append(next, models.Window{Start: b.End, End: w.End})
			}
		}
		windows = next
	}
	return windows
}

func parseWindow(start, end string) (models.Window, error) {
	s, err := models.ParseClock(start)
	if err != nil {
		return models.Window{}, err
	}
	e, err := models.ParseClock(end)
	if err != nil {
		return models.Window{}, err
	}
	return models.Window{Start: s, End: e}, nil
}
