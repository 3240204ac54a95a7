package models

import "time"

// AuditEntry records a single request event.
type AuditEntry struct {
	RequestID      string
	Timestamp      time.Time
	SessionHash    string
	Operation      string
	Path           string
	Status         string
	ResponseCode   int
	ResponseTimeMs int64
	ClientIP       string
}

// Audit event actions.
const (
	ActionLogin        = "login"
	ActionLogout       = "logout"
	ActionSectionWrite = "section_write"
)

// AuditEvent records an authentication or content event.
type AuditEvent struct {
	RequestID string
	Action    string
	Outcome   string
	ClientIP  string
	Section   string
	Timestamp time.Time
}
