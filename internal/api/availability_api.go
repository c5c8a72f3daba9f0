package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"calbook/internal/metrics"
	"calbook/internal/models"
)

// MaxAvailabilityDaysRange is the maximum number of days in one availability request.
const MaxAvailabilityDaysRange = 90

// AvailabilityRequest is the request body for POST /api/availability.
type AvailabilityRequest struct {
	StartDate string `json:"start_date"` // Format: YYYY-MM-DD
	EndDate   string `json:"end_date"`   // Format: YYYY-MM-DD
}

// SlotResponse is one bookable window.
type SlotResponse struct {
	StartTime string `json:"start_time"` // "HH:MM"
	EndTime   string `json:"end_time"`   // "HH:MM"
}

// DateAvailability is the computed availability for a single date.
type DateAvailability struct {
	Date       string         `json:"date"`
	IsOverride bool           `json:"is_override"`
	Available  bool           `json:"available"`
	Slots      []SlotResponse `json:"slots"`
}

// AvailabilityResponse is the response for POST /api/availability.
type AvailabilityResponse struct {
	Days   []DateAvailability `json:"days"`
	Period struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
}

// handleAvailability returns bookable windows per date within a range.
// POST /api/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req AvailabilityRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	settings, err := s.deps.DB.GetSettings(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	loc := settings.Location()

	startDate, endDate, err := validateDateRange(req.StartDate, req.EndDate, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// One query covers the whole range; the computer still resolves each
	// day's layering itself.
	overrides, err := s.deps.DB.ListOverrides(r.Context(), req.StartDate, req.EndDate)
	if err != nil {
		s.respondError(w, err)
		return
	}
	overridden := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		overridden[o.Date] = true
	}

	days := make([]DateAvailability, 0)
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		day, err := s.dateAvailability(r, d, settings, overridden)
		if err != nil {
			s.respondError(w, err)
			return
		}
		days = append(days, day)
	}

	resp := AvailabilityResponse{Days: days}
	resp.Period.Start = req.StartDate
	resp.Period.End = req.EndDate
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) dateAvailability(r *http.Request, date time.Time, settings *models.Settings, overridden map[string]bool) (DateAvailability, error) {
	dateStr := date.Format(models.DateLayout)

	windows, err := s.deps.Computer.Windows(r.Context(), date, settings)
	if err != nil {
		return DateAvailability{}, err
	}

	slots := make([]SlotResponse, 0, len(windows))
	for _, win := range windows {
		slots = append(slots, SlotResponse{
			StartTime: models.FormatClock(win.Start),
			EndTime:   models.FormatClock(win.End),
		})
	}

	return DateAvailability{
		Date:       dateStr,
		IsOverride: overridden[dateStr],
		Available:  len(slots) > 0,
		Slots:      slots,
	}, nil
}

func validateDateRange(startStr, endStr string, loc *time.Location) (start, end time.Time, err error) {
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date and end_date are required")
	}

	start, err = models.ParseDate(startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date format; expected YYYY-MM-DD")
	}
	end, err = models.ParseDate(endStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date format; expected YYYY-MM-DD")
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be before or equal to end_date")
	}
	if int(end.Sub(start).Hours()/24) > MaxAvailabilityDaysRange {
		return time.Time{}, time.Time{}, fmt.Errorf("date range exceeds maximum of %d days", MaxAvailabilityDaysRange)
	}
	return start, end, nil
}
