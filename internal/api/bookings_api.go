package api

import (
	"encoding/json"
	"net/http"

	"calbook/internal/metrics"
	"calbook/internal/scheduler"
)

// CreateBookingRequest is the request body for POST /api/bookings.
type CreateBookingRequest struct {
	Date      string `json:"date"`       // Format: YYYY-MM-DD
	StartTime string `json:"start_time"` // Format: HH:MM
	EndTime   string `json:"end_time"`   // Format: HH:MM
	Notes     string `json:"notes,omitempty"`
}

// handleBookings creates a booking or lists the caller's bookings.
// POST /api/bookings, GET /api/bookings
func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBooking(w, r)
	case http.MethodGet:
		s.handleListMyBookings(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	var req CreateBookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Date == "" || req.StartTime == "" || req.EndTime == "" {
		writeError(w, http.StatusBadRequest, "date, start_time and end_time are required")
		return
	}

	booking, err := s.deps.Scheduler.RequestBooking(r.Context(), scheduler.BookingRequest{
		UserID:    uid,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Notes:     req.Notes,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleListMyBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_my_bookings")

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	bookings, err := s.deps.DB.ListUserBookings(r.Context(), uid)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handleBookingByID cancels or fetches a single booking.
// DELETE /api/bookings/{id}, GET /api/bookings/{id}
func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/bookings/"
	id := r.URL.Path[len(prefix):]
	if id == "" {
		writeError(w, http.StatusBadRequest, "booking id is required")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		s.handleCancelBooking(w, r, id)
	case http.MethodGet:
		s.handleGetBooking(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request, id string) {
	metrics.IncHTTP("cancel_booking")

	actor := scheduler.Actor{UserID: userID(r), Admin: s.isAdmin(r)}
	if actor.UserID == "" && !actor.Admin {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	booking, err := s.deps.Scheduler.CancelBooking(r.Context(), id, actor)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, id string) {
	metrics.IncHTTP("get_booking")

	booking, err := s.deps.DB.GetBooking(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	// Only the owner or an admin may see a booking.
	if booking.UserID != userID(r) && !s.isAdmin(r) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, booking)
}
