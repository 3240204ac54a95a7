package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/org/sitepanel/internal/auth"
	"github.com/org/sitepanel/internal/crypto"
	"github.com/org/sitepanel/pkg/models"
)

// SessionCookie is the cookie carrying the admin session token.
const SessionCookie = "admin_session"

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken extracts the session token from the cookie, or from an
// "Authorization: Bearer" header for non-browser clients.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// authMiddleware rejects requests without a live session.
func authMiddleware(sessions *auth.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing session")
				return
			}
			if !sessions.Validate(r.Context(), token) {
				writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseRecorder captures the status code for audit and metrics.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// auditMiddleware records every request + response code to the audit log.
func auditMiddleware(auditor AuditLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rr, r)

			sessionHash := ""
			if token := sessionToken(r); token != "" {
				sessionHash = crypto.HashToken(token)[:12]
			}

			entry := &models.AuditEntry{
				RequestID:      requestIDFromCtx(r.Context()),
				SessionHash:    sessionHash,
				Operation:      r.Method,
				Path:           r.URL.Path,
				Status:         http.StatusText(rr.statusCode),
				ResponseCode:   rr.statusCode,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				ClientIP:       clientIP(r),
			}
			auditor.LogRequest(r.Context(), entry)
		})
	}
}

// throttleMiddleware applies the general per-client API limit.
func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APILimit.MaxAttempts <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		res := s.limiter.Check("api:"+ip, s.cfg.APILimit)
		if !res.Allowed {
			log.Warn().Str("ip", ip).Dur("retry_after", res.RetryAfter).Msg("rate limit exceeded")
			rateLimitedTotal.WithLabelValues("api").Inc()
			writeThrottled(w, res.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}
