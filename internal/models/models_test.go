package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		m, err := ParseClock("08:00")
		require.NoError(t, err)
		assert.Equal(t, 480, m)

		m, err = ParseClock("23:59")
		require.NoError(t, err)
		assert.Equal(t, 1439, m)
	})

	t.Run("WithSeconds", func(t *testing.T) {
		// Postgres-style TIME values carry seconds
		m, err := ParseClock("08:30:00")
		require.NoError(t, err)
		assert.Equal(t, 510, m)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, s := range []string{"", "8", "25:00", "10:60", "ab:cd"} {
			_, err := ParseClock(s)
			assert.Error(t, err, s)
		}
	})
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "08:00", FormatClock(480))
	assert.Equal(t, "00:05", FormatClock(5))
	assert.Equal(t, "17:30", FormatClock(1050))
}

func TestWindow_Overlaps(t *testing.T) {
	base := Window{Start: 600, End: 660} // 10:00-11:00

	tests := []struct {
		name  string
		other Window
		want  bool
	}{
		{"identical", Window{600, 660}, true},
		{"partial overlap", Window{630, 690}, true},
		{"contained", Window{615, 645}, true},
		{"adjacent after", Window{660, 720}, false},
		{"adjacent before", Window{540, 600}, false},
		{"disjoint", Window{720, 780}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.Overlaps(tt.other))
			assert.Equal(t, tt.want, tt.other.Overlaps(base))
		})
	}
}

func TestWindow_Contains(t *testing.T) {
	base := Window{Start: 480, End: 1020} // 08:00-17:00

	assert.True(t, base.Contains(Window{480, 1020}))
	assert.True(t, base.Contains(Window{600, 660}))
	assert.False(t, base.Contains(Window{420, 540}))
	assert.False(t, base.Contains(Window{1000, 1080}))
}

func TestWeekdayIndex(t *testing.T) {
	// 2025-06-02 is a Monday
	monday := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, WeekdayIndex(monday))
	assert.Equal(t, 5, WeekdayIndex(monday.AddDate(0, 0, 5)))
	assert.Equal(t, 6, WeekdayIndex(monday.AddDate(0, 0, 6)))
}

func TestBooking_Interval(t *testing.T) {
	b := &Booking{StartTime: "10:00", EndTime: "11:30"}
	w, err := b.Interval()
	require.NoError(t, err)
	assert.Equal(t, Window{Start: 600, End: 690}, w)

	b.EndTime = "bad"
	_, err = b.Interval()
	assert.Error(t, err)
}

func TestBooking_StartsAt(t *testing.T) {
	b := &Booking{BookingDate: "2025-06-02", StartTime: "10:30"}
	at, err := b.StartsAt(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC), at)
}

func TestSettings_Location(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, time.UTC, s.Location())

	s.Timezone = "Europe/Berlin"
	assert.Equal(t, "Europe/Berlin", s.Location().String())

	s.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, s.Location())
}
