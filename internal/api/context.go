package api

import (
	"context"
	"net/http"

	"github.com/org/sitepanel/pkg/models"
)

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// newEvent starts an audit event for r. Outcome is filled in by the caller.
func newEvent(r *http.Request, action string) *models.AuditEvent {
	return &models.AuditEvent{
		RequestID: requestIDFromCtx(r.Context()),
		Action:    action,
		ClientIP:  clientIP(r),
	}
}
