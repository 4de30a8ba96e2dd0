package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// entries emitted further down the call chain.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one append-only audit event. Entries are organization-scoped so
// the trail is searchable through the same engine as every other resource.
type Entry struct {
	ID             string            `json:"id"`
	OccurredAt     time.Time         `json:"occurred_at"`
	ActorID        string            `json:"actor_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Action         string            `json:"action"`
	ResourceType   string            `json:"resource_type,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Recorder appends immutable entries to durable storage.
type Recorder interface {
	Append(ctx context.Context, e *Entry) error
}

// Trail emits audit events to the shared log line stream and, when a
// recorder is configured, persists them.
type Trail struct {
	rec Recorder
}

// New constructs a Trail. A nil recorder keeps log-only behavior.
func New(rec Recorder) *Trail {
	return &Trail{rec: rec}
}

// Event records an action. Actor and organization are taken from the
// authorization scope in the context when present, never from the caller.
func (t *Trail) Event(ctx context.Context, action, resourceType, resourceID string, metadata map[string]string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit: event action is required")
	}

	// occurred_at comes from the id itself, so sorting by id and sorting
	// by time agree.
	id := ids.New()
	e := &Entry{
		ID:           id,
		OccurredAt:   ids.Timestamp(id),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    RequestIDFromContext(ctx),
	}
	if scope, ok := auth.ScopeFromContext(ctx); ok {
		e.ActorID = scope.PrincipalID
		e.OrganizationID = scope.OrganizationID
	}
	if len(metadata) > 0 {
		e.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			e.Metadata[k] = v
		}
	}

	t.emit(e)
	if t.rec != nil {
		return t.rec.Append(ctx, e)
	}
	return nil
}

func (t *Trail) emit(e *Entry) {
	fields := map[string]any{
		"ts":    e.OccurredAt.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": e.Action,
	}
	if e.RequestID != "" {
		fields["request_id"] = e.RequestID
	}
	if e.ActorID != "" {
		fields["actor_id"] = e.ActorID
	}
	if e.OrganizationID != "" {
		fields["organization_id"] = e.OrganizationID
	}
	if e.ResourceType != "" {
		fields["resource_type"] = e.ResourceType
	}
	if e.ResourceID != "" {
		fields["resource_id"] = e.ResourceID
	}
	if len(e.Metadata) > 0 {
		fields["metadata"] = e.Metadata
	}
	obs.Emit(fields)
}
