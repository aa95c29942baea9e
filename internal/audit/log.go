package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"vetrai.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit events as structured log entries on a dedicated
// "audit" logger.
type Logger struct {
	log *zap.Logger
}

// New returns an audit Logger writing through base. A nil base discards events.
func New(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{log: base.Named("audit")}
}

// Event writes an audit entry enriched with request and user context.
// Passwords and tokens must never be passed in fields.
func (l *Logger) Event(ctx context.Context, event string, fields ...zap.Field) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	base := []zap.Field{zap.String("type", "audit"), zap.String("event", event)}
	if rid := RequestIDFromContext(ctx); rid != "" {
		base = append(base, zap.String("request_id", rid))
	}
	if u, ok := auth.UserFromContext(ctx); ok {
		base = append(base, zap.Int64("user_id", u.ID), zap.Int64("org_id", u.OrgID))
	}
	l.log.Info(event, append(base, fields...)...)
	return nil
}
