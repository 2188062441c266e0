package audit

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/harun/winagent/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultAppendTimeout bounds how long an append waits for the write lock.
const DefaultAppendTimeout = 2 * time.Second

// Log is the audit sink handed to the dispatcher.
type Log struct {
	store   Store
	sem     chan struct{}
	timeout time.Duration
	logger  zerolog.Logger
	mirror  *zerolog.Logger
	now     func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithAppendTimeout sets the bounded wait for the write lock.
func WithAppendTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLogger sets the logger used to report append failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithMirror writes every appended record as a JSON line to w.
func WithMirror(w io.Writer) Option {
	return func(l *Log) {
		if w == nil {
			return
		}
		m := zerolog.New(w)
		l.mirror = &m
	}
}

// NewLog creates an audit log over store.
func NewLog(store Store, opts ...Option) *Log {
	l := &Log{
		store:   store,
		sem:     make(chan struct{}, 1),
		timeout: DefaultAppendTimeout,
		logger:  log.With().Str("component", "audit").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes rec. It never fails from the caller's point of view: a lock
// wait past the bound or a store error is logged and counted.
func (l *Log) Append(ctx context.Context, rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
	case <-timer.C:
		observability.RecordAuditAppendFailure("lock_timeout")
		l.logger.Error().
			Str("session_id", rec.SessionID).
			Str("call_id", rec.CallID).
			Str("tool", rec.ToolName).
			Str("decision", string(rec.Decision)).
			Dur("timeout", l.timeout).
			Msg("Audit append timed out waiting for write lock")
		return
	}
	defer func() { <-l.sem }()

	// The record must land even if the caller's turn was just cancelled.
	if err := l.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		observability.RecordAuditAppendFailure("store_error")
		l.logger.Error().
			Err(err).
			Str("session_id", rec.SessionID).
			Str("call_id", rec.CallID).
			Str("tool", rec.ToolName).
			Msg("Failed to persist audit record")
	}

	if l.mirror != nil {
		entry := l.mirror.Log().
			Str("id", rec.ID).
			Time("timestamp", rec.Timestamp).
			Str("session_id", rec.SessionID).
			Str("call_id", rec.CallID).
			Str("tool_name", rec.ToolName).
			Str("decision", string(rec.Decision)).
			Int64("duration_ms", rec.DurationMs)
		if rec.ErrorKind != "" {
			entry.Str("error_kind", rec.ErrorKind)
		}
		if rec.Arguments != nil {
			entry.Interface("arguments", rec.Arguments)
		}
		entry.Str("result_summary", rec.Summary).Msg("")
	}

	observability.RecordAuditAppend(string(rec.Decision))
}

// Query returns matching records lazily in append order.
func (l *Log) Query(ctx context.Context, f Filter) iter.Seq2[Record, error] {
	return l.store.Query(ctx, f)
}

// Collect drains Query into a slice, stopping at the first error.
func (l *Log) Collect(ctx context.Context, f Filter) ([]Record, error) {
	var out []Record
	for rec, err := range l.Query(ctx, f) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the underlying store.
func (l *Log) Close() error {
	return l.store.Close()
}
