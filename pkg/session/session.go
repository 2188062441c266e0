package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/winagent/pkg/toolexecutor"
)

// State is the position of a session in its turn lifecycle.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingModel        State = "awaiting_model"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateCompleted            State = "completed"
	StateAborted              State = "aborted"
)

var transitions = map[State][]State{
	StateIdle:                 {StateAwaitingModel},
	StateCompleted:            {StateAwaitingModel},
	StateAborted:              {StateAwaitingModel},
	StateAwaitingModel:        {StateExecuting, StateCompleted, StateAborted},
	StateExecuting:            {StateExecuting, StateAwaitingConfirmation, StateAwaitingModel, StateAborted},
	StateAwaitingConfirmation: {StateExecuting, StateAwaitingModel, StateAborted},
}

// Terminal reports whether a turn in this state has ended.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateCompleted || s == StateAborted
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry. Assistant messages may carry tool calls;
// tool messages carry the serialized result for CallID.
type Message struct {
	Role      Role                    `json:"role"`
	Content   string                  `json:"content"`
	ToolCalls []toolexecutor.ToolCall `json:"tool_calls,omitempty"`
	CallID    string                  `json:"call_id,omitempty"`
	ToolName  string                  `json:"tool_name,omitempty"`
	IsError   bool                    `json:"is_error,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// Session holds the tier, state, and transcript of one conversation. Only the
// orchestrator running the session mutates it.
type Session struct {
	ID        string
	CreatedAt time.Time

	tier         atomic.Int32
	lastActivity atomic.Int64

	mu         sync.Mutex
	state      State
	transcript []Message
	cancelTurn context.CancelFunc
	turnSeq    uint64
	onAppend   func(Message)
}

func newSession(id string, tier toolexecutor.PermissionTier) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		state:     StateIdle,
	}
	s.tier.Store(int32(tier))
	s.touch()
	return s
}

// Tier returns the session's current tier.
func (s *Session) Tier() toolexecutor.PermissionTier {
	return toolexecutor.PermissionTier(s.tier.Load())
}

// SetTier replaces the tier and returns the previous one.
func (s *Session) SetTier(tier toolexecutor.PermissionTier) toolexecutor.PermissionTier {
	return toolexecutor.PermissionTier(s.tier.Swap(int32(tier)))
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next, rejecting moves the lifecycle does
// not allow.
func (s *Session) Transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range transitions[s.state] {
		if allowed == next {
			s.state = next
			s.touch()
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, next)
}

// Append adds messages to the transcript.
func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	for i := range msgs {
		if msgs[i].Timestamp.IsZero() {
			msgs[i].Timestamp = time.Now()
		}
	}
	s.transcript = append(s.transcript, msgs...)
	hook := s.onAppend
	s.mu.Unlock()

	s.touch()
	if hook != nil {
		for _, m := range msgs {
			hook(m)
		}
	}
}

// Transcript returns a copy of the full transcript.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Len returns the number of transcript messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcript)
}

// Window returns at most the last n messages. The cut never starts on a tool
// message, so a tool result is never separated from the assistant message
// that requested it.
func (s *Session) Window(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if n > 0 && len(s.transcript) > n {
		start = len(s.transcript) - n
	}
	for start > 0 && start < len(s.transcript) && s.transcript[start].Role == RoleTool {
		start--
	}

	out := make([]Message, len(s.transcript)-start)
	copy(out, s.transcript[start:])
	return out
}

// BeginTurn registers a cancellable context for a new turn. It fails if a
// turn is already running.
func (s *Session) BeginTurn(parent context.Context) (context.Context, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelTurn != nil {
		return nil, 0, fmt.Errorf("session %s already has a turn in progress", s.ID)
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancelTurn = cancel
	s.turnSeq++
	return ctx, s.turnSeq, nil
}

// EndTurn releases the turn context.
func (s *Session) EndTurn() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.cancelTurn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.touch()
}

// Cancel aborts the running turn, if any, and reports whether there was one.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Busy reports whether a turn is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelTurn != nil
}

// LastActivity returns when the session was last touched.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}
