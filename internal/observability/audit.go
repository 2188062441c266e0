package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SecurityEvent is an out-of-band security event such as a tier change or a
// rejected gateway client. Tool call attempts go to the audit log instead.
type SecurityEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// SecurityLogger writes security events as JSON lines.
type SecurityLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

// NewSecurityLogger creates a logger writing to w. A nil writer means stderr.
func NewSecurityLogger(w io.Writer) *SecurityLogger {
	if w == nil {
		w = os.Stderr
	}
	return &SecurityLogger{
		logger: zerolog.New(w).With().Timestamp().Str("type", "security").Logger(),
	}
}

// OpenSecurityLogger appends security events to the file at path.
func OpenSecurityLogger(path string) (*SecurityLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	sl := NewSecurityLogger(file)
	sl.file = file
	return sl, nil
}

// Record emits a security event and mirrors it onto the active span.
func (s *SecurityLogger) Record(ctx context.Context, event SecurityEvent) {
	if s == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("security.status", event.Status),
			attribute.String("security.actor", event.Actor),
		))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.logger.Log().
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the underlying file, if any.
func (s *SecurityLogger) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// RecordTierChange logs a permission tier change for a session.
func (s *SecurityLogger) RecordTierChange(ctx context.Context, sessionID, from, to string) {
	s.Record(ctx, SecurityEvent{
		Actor:  sessionID,
		Action: "tier_change",
		Status: "success",
		Metadata: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// RecordAuthFailure logs a rejected gateway connection.
func (s *SecurityLogger) RecordAuthFailure(ctx context.Context, remote, reason string) {
	s.Record(ctx, SecurityEvent{
		Actor:  remote,
		Action: "gateway_auth",
		Status: "failure",
		Metadata: map[string]interface{}{
			"reason": reason,
		},
	})
}
