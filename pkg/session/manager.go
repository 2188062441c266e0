package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/harun/winagent/internal/observability"
	"github.com/harun/winagent/internal/tracing"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live sessions of one process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	journal  *Journal
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithJournal mirrors every transcript message to j.
func WithJournal(j *Journal) ManagerOption {
	return func(m *Manager) { m.journal = j }
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	observability.EnsureRegistered()

	m := &Manager{sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a session at tier.
func (m *Manager) Create(ctx context.Context, tier toolexecutor.PermissionTier) (*Session, error) {
	if tier < toolexecutor.TierObserver || tier > toolexecutor.TierSystem {
		return nil, fmt.Errorf("invalid tier %d", int(tier))
	}

	id := uuid.NewString()
	ctx = tracing.WithSessionID(ctx, id)
	_, span := tracing.StartSpan(ctx, "winagent/session", "session.create",
		attribute.String("session.id", id),
		attribute.String("session.tier", tier.String()),
	)
	defer span.End()

	s := newSession(id, tier)
	if m.journal != nil {
		journal := m.journal
		s.onAppend = func(msg Message) {
			if err := journal.Append(id, msg); err != nil {
				log.Warn().Err(err).Str("session_id", id).Msg("Failed to journal message")
			}
		}
	}

	m.mu.Lock()
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	log.Info().
		Str("session_id", id).
		Str("tier", tier.String()).
		Msg("Session created")

	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close cancels any running turn and forgets the session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.Cancel()
	observability.SetActiveSessions(count)
	log.Info().Str("session_id", id).Msg("Session closed")
	return nil
}

// List returns the live sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		_ = m.Close(s.ID)
	}
}
