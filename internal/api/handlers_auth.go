package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/crypto"
	"github.com/org/sitepanel/pkg/models"
)

// LoginHandler handles POST /api/auth/login
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := newEvent(r, models.ActionLogin)
	key := "login:" + event.ClientIP

	res := s.limiter.Check(key, s.cfg.LoginLimit)
	if !res.Allowed {
		loginAttemptsTotal.WithLabelValues("throttled").Inc()
		rateLimitedTotal.WithLabelValues("login").Inc()
		event.Outcome = "throttled"
		s.auditor.LogEvent(ctx, event)
		writeThrottled(w, res.RetryAfter)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		loginAttemptsTotal.WithLabelValues("malformed").Inc()
		event.Outcome = "malformed"
		s.auditor.LogEvent(ctx, event)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.cfg.PasswordHash == "" {
		log.Error().Msg("login attempted but no admin password hash is configured")
		loginAttemptsTotal.WithLabelValues("misconfigured").Inc()
		event.Outcome = "misconfigured"
		s.auditor.LogEvent(ctx, event)
		writeError(w, http.StatusInternalServerError, "server misconfigured")
		return
	}

	if req.Password == "" || !crypto.VerifyPassword(req.Password, s.cfg.PasswordHash) {
		loginAttemptsTotal.WithLabelValues("invalid").Inc()
		event.Outcome = "invalid"
		s.auditor.LogEvent(ctx, event)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errors":             []string{"invalid credentials"},
			"remaining_attempts": res.Remaining,
		})
		return
	}

	token, sess, err := s.sessions.CreateSession(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	s.limiter.Reset(key)
	activeSessions.Set(float64(s.sessions.Active(ctx)))
	loginAttemptsTotal.WithLabelValues("success").Inc()
	event.Outcome = "success"
	s.auditor.LogEvent(ctx, event)

	http.SetCookie(w, s.sessionCookie(token, int(sess.ExpiresAt.Sub(sess.CreatedAt).Seconds())))
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"expires_at":    sess.ExpiresAt.Format(time.RFC3339),
	})
}

// LogoutHandler handles POST /api/auth/logout
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.sessions.Revoke(ctx, sessionToken(r)); err != nil {
		log.Error().Err(err).Msg("failed to revoke session")
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	activeSessions.Set(float64(s.sessions.Active(ctx)))
	event := newEvent(r, models.ActionLogout)
	event.Outcome = "success"
	s.auditor.LogEvent(ctx, event)

	http.SetCookie(w, s.sessionCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

// SessionHandler handles GET /api/auth/session
func (s *Server) SessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": s.sessions.Validate(r.Context(), sessionToken(r)),
	})
}

// sessionCookie builds the session cookie. A negative maxAge deletes it.
func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}
