package httpapi

import (
	"net/http"
	"time"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/rs/zerolog/log"
)

const defaultSessionTTL = 24 * time.Hour

// Session is the body returned when a session cookie is issued
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BeginSession handles POST /auth/session
// Exchanges the caller's credentials (Bearer token, or X-Debug-Sub in dev
// mode) for a session cookie that offline clients replay on every request.
func (s *Server) BeginSession(cfg auth.JWTCfg) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := auth.Subject(r.Context())
		if sub == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		ttl := s.SessionTTL
		if ttl <= 0 {
			ttl = defaultSessionTTL
		}
		token, err := auth.IssueToken(cfg.HS256Secret, sub, ttl)
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to issue session token")
			writeError(w, r, http.StatusInternalServerError, "failed to issue session")
			return
		}

		session := Session{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}
		http.SetCookie(w, &http.Cookie{
			Name:     auth.SessionCookie,
			Value:    token,
			Path:     "/",
			Expires:  session.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		log.Ctx(r.Context()).Info().
			Str("sub", sub).
			Time("expiresAt", session.ExpiresAt).
			Msg("session issued")

		writeJSON(w, http.StatusCreated, session)
	}
}

// EndSession handles DELETE /auth/session by expiring the cookie
func (s *Server) EndSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:    auth.SessionCookie,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}
