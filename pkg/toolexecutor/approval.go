package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/winagent/internal/observability"
	"github.com/rs/zerolog/log"
)

// DefaultConfirmationTimeout is how long a confirmation may stay pending
// before it resolves as denied.
const DefaultConfirmationTimeout = 60 * time.Second

// ConfirmationRequest describes a call waiting for the user's decision.
type ConfirmationRequest struct {
	CallID    string                 `json:"call_id"`
	SessionID string                 `json:"session_id"`
	ToolName  string                 `json:"tool_name"`
	RiskLevel RiskLevel              `json:"risk_level"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Summary   string                 `json:"summary"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// ConfirmationDecision is the user's answer.
type ConfirmationDecision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ConfirmationNotifier delivers a pending request to the front end. It is
// called once the request is registered, so a decision may arrive before the
// notifier returns.
type ConfirmationNotifier func(ctx context.Context, req ConfirmationRequest)

type pendingConfirmation struct {
	req      ConfirmationRequest
	response chan ConfirmationDecision
}

// ConfirmationBroker suspends a session until the user approves or denies a
// high-risk call. Each session has at most one outstanding request.
type ConfirmationBroker struct {
	alwaysConfirm  map[string]struct{}
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingConfirmation
}

// NewConfirmationBroker creates a broker. Tools named in alwaysConfirm need
// confirmation regardless of their risk level.
func NewConfirmationBroker(alwaysConfirm []string, timeout time.Duration) *ConfirmationBroker {
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	set := make(map[string]struct{}, len(alwaysConfirm))
	for _, name := range alwaysConfirm {
		set[name] = struct{}{}
	}
	return &ConfirmationBroker{
		alwaysConfirm:  set,
		defaultTimeout: timeout,
		pending:        make(map[string]*pendingConfirmation),
	}
}

// RequiresConfirmation is true when def is high risk or on the always-confirm
// list. Either condition alone is sufficient.
func (b *ConfirmationBroker) RequiresConfirmation(def *ToolDefinition) bool {
	if def == nil {
		return false
	}
	if def.RiskLevel >= RiskHigh {
		return true
	}
	_, ok := b.alwaysConfirm[def.Name]
	return ok
}

// Request registers req and blocks until a decision, the timeout, or ctx
// cancellation. A timeout yields a denial with ErrConfirmationTimeout;
// cancellation yields ErrCancelled.
func (b *ConfirmationBroker) Request(ctx context.Context, req ConfirmationRequest, notify ConfirmationNotifier) (ConfirmationDecision, error) {
	if req.SessionID == "" || req.CallID == "" {
		return ConfirmationDecision{}, fmt.Errorf("confirmation request needs a session and call ID")
	}

	if err := ctx.Err(); err != nil {
		return ConfirmationDecision{Approved: false, Reason: "cancelled"}, errors.Join(ErrCancelled, err)
	}

	timeout := b.GetDefaultTimeout()
	now := time.Now()
	req.CreatedAt = now
	req.ExpiresAt = now.Add(timeout)

	p := &pendingConfirmation{
		req:      req,
		response: make(chan ConfirmationDecision, 1),
	}

	b.mu.Lock()
	if _, busy := b.pending[req.SessionID]; busy {
		b.mu.Unlock()
		return ConfirmationDecision{}, ErrConfirmationPending
	}
	b.pending[req.SessionID] = p
	b.mu.Unlock()

	log.Info().
		Str("session_id", req.SessionID).
		Str("call_id", req.CallID).
		Str("tool", req.ToolName).
		Str("risk", req.RiskLevel.String()).
		Msg("Requesting confirmation")

	if notify != nil {
		notify(ctx, req)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-p.response:
		b.release(p)
		return decided(req, decision), nil

	case <-timer.C:
		// Respond may have won the race with the timer.
		if decision, ok := b.release(p); ok {
			return decided(req, decision), nil
		}
		observability.RecordConfirmation("timeout")
		log.Warn().
			Str("call_id", req.CallID).
			Str("tool", req.ToolName).
			Dur("timeout", timeout).
			Msg("Confirmation request timed out")
		return ConfirmationDecision{
			Approved: false,
			Reason:   fmt.Sprintf("no response within %v", timeout),
		}, ErrConfirmationTimeout

	case <-ctx.Done():
		b.release(p)
		observability.RecordConfirmation("cancelled")
		log.Warn().
			Str("call_id", req.CallID).
			Str("tool", req.ToolName).
			Msg("Confirmation request cancelled")
		return ConfirmationDecision{Approved: false, Reason: "cancelled"}, errors.Join(ErrCancelled, ctx.Err())
	}
}

// release unregisters p. A decision Respond delivered while the request was
// resolving is returned so it is not lost.
func (b *ConfirmationBroker) release(p *pendingConfirmation) (ConfirmationDecision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[p.req.SessionID] == p {
		delete(b.pending, p.req.SessionID)
	}
	select {
	case decision := <-p.response:
		return decision, true
	default:
		return ConfirmationDecision{}, false
	}
}

func decided(req ConfirmationRequest, decision ConfirmationDecision) ConfirmationDecision {
	if decision.Approved {
		observability.RecordConfirmation("approved")
		log.Info().
			Str("call_id", req.CallID).
			Str("tool", req.ToolName).
			Str("reason", decision.Reason).
			Msg("Confirmation granted")
	} else {
		observability.RecordConfirmation("denied")
		log.Warn().
			Str("call_id", req.CallID).
			Str("tool", req.ToolName).
			Str("reason", decision.Reason).
			Msg("Confirmation denied")
	}
	return decision
}

// Respond delivers a decision to the pending request of sessionID. It fails
// with ErrNoPendingConfirmation when nothing is pending or callID does not
// match; late responses are never applied to a later request. A nil error
// means the waiting request received the decision.
func (b *ConfirmationBroker) Respond(sessionID, callID string, decision ConfirmationDecision) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[sessionID]
	if !ok || p.req.CallID != callID {
		return fmt.Errorf("%w: session %s call %s", ErrNoPendingConfirmation, sessionID, callID)
	}

	// The slot is cleared on delivery so a duplicate answer is rejected.
	delete(b.pending, sessionID)
	p.response <- decision
	return nil
}

// Pending returns the outstanding request of sessionID, if any.
func (b *ConfirmationBroker) Pending(sessionID string) (ConfirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[sessionID]
	if !ok {
		return ConfirmationRequest{}, false
	}
	return p.req, true
}

// SetDefaultTimeout sets the timeout for subsequent requests
func (b *ConfirmationBroker) SetDefaultTimeout(timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultTimeout = timeout
}

// GetDefaultTimeout returns the default timeout
func (b *ConfirmationBroker) GetDefaultTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.defaultTimeout
}
