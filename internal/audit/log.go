package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"flyttribe.org/internal/auth"
	"flyttribe.org/internal/obs"
)

// Security event names. Authorization-relevant actions always emit one of
// these so revocations and role changes can be traced after the fact.
const (
	EventLoginSuccess     = "auth.login.success"
	EventLoginFail        = "auth.login.fail"
	EventRoleChange       = "auth.role_change"
	EventRevoke           = "auth.sessions_revoked"
	EventBootstrapSuccess = "auth.bootstrap.success"
	EventBootstrapFail    = "auth.bootstrap.fail"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "audit_request_id"
	correlationIDKey ctxKey = "audit_correlation_id"
)

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithCorrelationID attaches the cross-service correlation identifier.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func correlationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and actor context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if cid := correlationIDFromContext(ctx); cid != "" {
		entry["correlation_id"] = cid
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		entry["actor_user_id"] = userID
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
