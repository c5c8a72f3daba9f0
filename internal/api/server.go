// Package api exposes the booking calendar over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"calbook/internal/availability"
	"calbook/internal/config"
	"calbook/internal/database"
	"calbook/internal/export"
	"calbook/internal/scheduler"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenChecker reports whether a bearer token has been revoked.
type TokenChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Deps are the services the HTTP surface delegates to.
type Deps struct {
	DB        *database.DB
	Scheduler *scheduler.Scheduler
	Computer  *availability.Computer
	Exporter  *export.Exporter
	Tokens    TokenChecker // optional; nil skips revocation checks
}

// HTTPServer serves the public booking API and the admin API.
type HTTPServer struct {
	server   *http.Server
	deps     Deps
	adminKey string
	log      zerolog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rps       int
	burst     int
}

// NewHTTPServer creates the API server listening on cfg.Server.Port.
func NewHTTPServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *HTTPServer {
	rps, burst := cfg.RateLimit()
	s := &HTTPServer{
		deps:     deps,
		adminKey: cfg.Server.AdminAPIKey,
		log:      logger.With().Str("component", "api").Logger(),
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/availability", s.withLimit(s.handleAvailability))
	mux.HandleFunc("/api/bookings", s.withLimit(s.handleBookings))
	mux.HandleFunc("/api/bookings/", s.withLimit(s.handleBookingByID))
	mux.HandleFunc("/api/admin/settings", s.requireAdmin(s.handleSettings))
	mux.HandleFunc("/api/admin/template", s.requireAdmin(s.handleTemplate))
	mux.HandleFunc("/api/admin/overrides", s.requireAdmin(s.handleOverrides))
	mux.HandleFunc("/api/admin/overrides/", s.requireAdmin(s.handleOverrideByDate))
	mux.HandleFunc("/api/admin/bookings", s.requireAdmin(s.handleAdminBookings))
	mux.HandleFunc("/api/admin/export", s.requireAdmin(s.handleExport))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// userID extracts the authenticated caller's id. Authentication itself
// happens upstream; the id arrives as a trusted header.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (s *HTTPServer) isAdmin(r *http.Request) bool {
	return s.adminKey != "" && r.Header.Get("X-Api-Key") == s.adminKey
}

// checkToken rejects requests carrying a revoked bearer token. Requests
// without a bearer token pass; identity is a header concern.
func (s *HTTPServer) checkToken(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Tokens == nil {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return true
	}
	revoked, err := s.deps.Tokens.IsRevoked(r.Context(), auth[len(prefix):])
	if err != nil {
		s.log.Error().Err(err).Msg("revocation check failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if revoked {
		writeError(w, http.StatusUnauthorized, "token has been revoked")
		return false
	}
	return true
}

func (s *HTTPServer) withLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(limitKey(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if !s.checkToken(w, r) {
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.withLimit(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

func limitKey(r *http.Request) string {
	if id := userID(r); id != "" {
		return "u:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "a:" + r.RemoteAddr
	}
	return "a:" + host
}

func (s *HTTPServer) limiterFor(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(s.rps), s.burst)
		s.limiters[key] = lim
	}
	return lim
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps domain errors onto HTTP statuses.
func (s *HTTPServer) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrSlotConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, database.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	case errors.Is(err, scheduler.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrInvalidInterval),
		errors.Is(err, scheduler.ErrInsufficientNotice),
		errors.Is(err, scheduler.ErrTooFarInAdvance),
		errors.Is(err, scheduler.ErrOutsideAvailability):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, scheduler.ErrCancellationDisabled),
		errors.Is(err, scheduler.ErrCancellationTooLate):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
