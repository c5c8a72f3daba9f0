package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"calbook/internal/metrics"
	"calbook/internal/models"
)

// handleSettings reads or replaces the calendar policy.
// GET /api/admin/settings, PUT /api/admin/settings
func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_settings")

	switch r.Method {
	case http.MethodGet:
		settings, err := s.deps.DB.GetSettings(r.Context())
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		var req models.Settings
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		saved, err := s.deps.DB.UpsertSettings(r.Context(), &req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Info().Str("timezone", saved.Timezone).Msg("calendar settings updated")
		writeJSON(w, http.StatusOK, saved)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTemplate reads or updates the weekly availability template.
// GET /api/admin/template, PUT /api/admin/template (one weekday per request)
func (s *HTTPServer) handleTemplate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_template")

	switch r.Method {
	case http.MethodGet:
		template, err := s.deps.DB.GetTemplate(r.Context())
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"template": template})

	case http.MethodPut:
		var req models.WeekdayHours
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.deps.DB.UpdateTemplateDay(r.Context(), &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Info().Int("weekday", req.Weekday).Bool("enabled", req.Enabled).Msg("template day updated")
		day, err := s.deps.DB.GetTemplateDay(r.Context(), req.Weekday)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, day)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleOverrides lists or upserts per-date overrides.
// GET /api/admin/overrides?from=YYYY-MM-DD&to=YYYY-MM-DD, PUT /api/admin/overrides
func (s *HTTPServer) handleOverrides(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_overrides")

	switch r.Method {
	case http.MethodGet:
		overrides, err := s.deps.DB.ListOverrides(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})

	case http.MethodPut:
		var req models.Override
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		saved, err := s.deps.DB.UpsertOverride(r.Context(), &req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Info().Str("date", saved.Date).Bool("is_closed", saved.IsClosed).Msg("override upserted")
		writeJSON(w, http.StatusOK, saved)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleOverrideByDate deletes one override.
// DELETE /api/admin/overrides/{date}
func (s *HTTPServer) handleOverrideByDate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_override_delete")

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/admin/overrides/"
	date := r.URL.Path[len(prefix):]
	if date == "" {
		writeError(w, http.StatusBadRequest, "override date is required")
		return
	}

	if err := s.deps.DB.DeleteOverride(r.Context(), date); err != nil {
		s.respondError(w, err)
		return
	}
	s.log.Info().Str("date", date).Msg("override deleted")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAdminBookings lists bookings across all users.
// GET /api/admin/bookings?from=&to=&status=
func (s *HTTPServer) handleAdminBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_bookings")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	status := q.Get("status")
	if status != "" && status != models.StatusConfirmed && status != models.StatusCancelled {
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	bookings, err := s.deps.DB.ListBookings(r.Context(), q.Get("from"), q.Get("to"), status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handleExport streams the booking ledger as an Excel workbook.
// GET /api/admin/export?from=&to=&status=
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_export")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	data, err := s.deps.Exporter.Bookings(r.Context(), q.Get("from"), q.Get("to"), q.Get("status"))
	if err != nil {
		s.respondError(w, err)
		return
	}

	filename := "bookings.xlsx"
	if from := q.Get("from"); from != "" {
		filename = fmt.Sprintf("bookings_%s.xlsx", from)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
