package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/org/sitepanel/pkg/models"
)

// Logger writes structured audit entries.
type Logger struct {
	log zerolog.Logger
}

// NewLogger creates an audit Logger writing through base.
func NewLogger(base zerolog.Logger) *Logger {
	return &Logger{log: base.With().Str("component", "audit").Logger()}
}

// LogRequest records an API request to the audit log.
// Passwords and session tokens must NEVER be passed here, only metadata.
func (l *Logger) LogRequest(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	l.log.Info().
		Str("request_id", entry.RequestID).
		Str("method", entry.Operation).
		Str("path", entry.Path).
		Int("code", entry.ResponseCode).
		Str("status", entry.Status).
		Int64("duration_ms", entry.ResponseTimeMs).
		Str("client_ip", entry.ClientIP).
		Str("session", entry.SessionHash).
		Time("at", entry.Timestamp).
		Msg("request")
}

// LogEvent records a login, logout or content change.
func (l *Logger) LogEvent(ctx context.Context, event *models.AuditEvent) {
	event.Timestamp = time.Now().UTC()
	ev := l.log.Info()
	if event.Outcome != "success" {
		ev = l.log.Warn()
	}
	ev = ev.
		Str("request_id", event.RequestID).
		Str("action", event.Action).
		Str("outcome", event.Outcome).
		Str("client_ip", event.ClientIP).
		Time("at", event.Timestamp)
	if event.Section != "" {
		ev = ev.Str("section", event.Section)
	}
	ev.Msg("audit event")
}
