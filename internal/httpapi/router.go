// Package httpapi serves the reference REST API that offline clients
// synchronize against. Every registered collection is exposed under its
// API path with list, create, get, update and delete.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/erauner12/garagesync/internal/service/entityservice"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Entities        *entityservice.Service
	Users           auth.UserResolver
	RateLimitConfig RateLimitInfo // zero MaxRequests disables rate limiting
	SessionTTL      time.Duration
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a JSON error carrying the request correlation id
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg, CorrelationID: GetCorrelationID(r.Context())})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parsePage parses a 1-based page query param
func parsePage(q string) int {
	n, err := strconv.Atoi(q)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Routes creates the HTTP router with all entity endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/info", s.Info)

	users := s.Users
	if users == nil {
		users = auth.Subjects{}
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(users, jwt))
		if s.RateLimitConfig.MaxRequests > 0 {
			r.Use(RateLimitMiddleware(s.RateLimitConfig))
		}

		r.Post("/auth/session", s.BeginSession(jwt))
		r.Delete("/auth/session", s.EndSession)

		r.Route("/api/{collection}", func(r chi.Router) {
			r.Get("/", s.ListEntities)
			r.Post("/", s.CreateEntity)
			r.Get("/{id}", s.GetEntity)
			r.Put("/{id}", s.UpdateEntity)
			r.Delete("/{id}", s.DeleteEntity)
		})
	})

	log.Info().Strs("collections", s.Entities.Registry().Names()).Msg("HTTP routes registered")
	return r
}
