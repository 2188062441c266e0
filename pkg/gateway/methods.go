package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/winagent/internal/tracing"
	"github.com/harun/winagent/pkg/agent"
	"github.com/harun/winagent/pkg/audit"
	"github.com/harun/winagent/pkg/session"
	"github.com/harun/winagent/pkg/toolexecutor"
)

// maxAuditResults caps audit.query responses.
const maxAuditResults = 1000

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("session.create", s.handleSessionCreate)
	_ = s.router.RegisterMethod("session.send", s.handleSessionSend)
	_ = s.router.RegisterMethod("session.confirm", s.handleSessionConfirm)
	_ = s.router.RegisterMethod("session.pending", s.handleSessionPending)
	_ = s.router.RegisterMethod("session.cancel", s.handleSessionCancel)
	_ = s.router.RegisterMethod("session.set_tier", s.handleSessionSetTier)
	_ = s.router.RegisterMethod("session.get", s.handleSessionGet)
	_ = s.router.RegisterMethod("session.close", s.handleSessionClose)
	_ = s.router.RegisterMethod("audit.query", s.handleAuditQuery)
	_ = s.router.RegisterMethod("tools.list", s.handleToolsList)
	_ = s.router.RegisterMethod("gateway.clients", s.handleGatewayClients)
}

// clientFor returns the WebSocket client behind a request, or nil for HTTP.
func (s *Server) clientFor(ctx context.Context) *Client {
	id := clientIDFromContext(ctx)
	if id == "" {
		return nil
	}
	client, ok := s.clients.Get(id)
	if !ok {
		return nil
	}
	return client
}

func (s *Server) handleSessionCreate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tier := s.defaultTier
	if raw, ok, err := optionalString(params, "tier"); err != nil {
		return nil, err
	} else if ok {
		parsed, err := toolexecutor.ParseTier(raw)
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		tier = parsed
	}

	id, err := s.orchestrator.CreateSession(ctx, tier)
	if err != nil {
		return nil, err
	}
	if clientID := clientIDFromContext(ctx); clientID != "" {
		s.clients.Own(clientID, id)
	}

	return map[string]interface{}{
		"session_id": id,
		"tier":       tier.String(),
	}, nil
}

// handleSessionSend runs one turn. WebSocket callers receive every event as
// a session.event frame while the turn runs; HTTP callers get the events in
// the result.
func (s *Server) handleSessionSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	text, err := requiredString(params, "text")
	if err != nil {
		return nil, err
	}

	events, err := s.orchestrator.SendMessage(ctx, id, text)
	if err != nil {
		return nil, err
	}

	client := s.clientFor(ctx)
	logger := tracing.PropagateToLogger(ctx, s.logger)

	// The console that created the session follows turns other callers drive.
	var owner *Client
	if o, ok := s.clients.OwnerOf(id); ok && (client == nil || o.ID != client.ID) {
		owner = o
	}
	var streamed []string
	for _, c := range []*Client{client, owner} {
		if c != nil {
			streamed = append(streamed, c.ID)
		}
	}

	var outcome agent.TurnOutcome
	var collected []agent.Event
	for ev := range events {
		outcome.Observe(ev)
		if ev.Type == agent.EventConfirmationNeeded && ev.Confirmation != nil {
			s.forwardConfirmation(ctx, *ev.Confirmation, streamed...)
		}
		// Keep draining after a failed write so the turn is never blocked.
		if owner != nil {
			_ = s.broadcaster.Send(owner, eventFrame(ctx, ev))
		}
		if client == nil {
			collected = append(collected, ev)
			continue
		}
		_ = s.broadcaster.Send(client, eventFrame(ctx, ev))
	}

	logger.Info().
		Str("session_id", id).
		Bool("completed", outcome.Completed).
		Str("error_kind", string(outcome.ErrorKind)).
		Int("iterations", outcome.Iterations).
		Msg("Gateway turn finished")

	result := map[string]interface{}{
		"session_id": id,
		"outcome":    outcome,
	}
	if client == nil {
		result["events"] = collected
	}
	return result, nil
}

func (s *Server) handleSessionCancel(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if err := s.orchestrator.Cancel(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"session_id": id, "cancelled": true}, nil
}

func (s *Server) handleSessionSetTier(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(params, "tier")
	if err != nil {
		return nil, err
	}
	tier, err := toolexecutor.ParseTier(raw)
	if err != nil {
		return nil, invalidParams("%v", err)
	}

	if err := s.orchestrator.SetTier(ctx, id, tier); err != nil {
		return nil, err
	}
	return map[string]interface{}{"session_id": id, "tier": tier.String()}, nil
}

func (s *Server) handleSessionGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	state, tier, err := s.orchestrator.SessionState(id)
	if err != nil {
		return nil, err
	}
	transcript, err := s.orchestrator.Transcript(id)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"session_id": id,
		"state":      string(state),
		"tier":       tier.String(),
		"messages":   len(transcript),
	}
	if include, _ := params["include_transcript"].(bool); include {
		result["transcript"] = transcript
	}
	if pending, ok := s.orchestrator.PendingConfirmation(id); ok {
		result["pending_confirmation"] = pending
	}
	return result, nil
}

func (s *Server) handleSessionClose(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if err := s.orchestrator.CloseSession(id); err != nil {
		return nil, err
	}
	s.clients.Disown(id)
	s.router.ForgetSession(id)
	return map[string]interface{}{"session_id": id, "closed": true}, nil
}

func (s *Server) handleAuditQuery(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	filter, err := auditFilter(params)
	if err != nil {
		return nil, err
	}

	records := make([]audit.Record, 0)
	for rec, err := range s.orchestrator.AuditQuery(ctx, filter) {
		if err != nil {
			return nil, fmt.Errorf("audit query failed: %w", err)
		}
		records = append(records, rec)
	}

	return map[string]interface{}{
		"records": records,
		"count":   len(records),
	}, nil
}

func auditFilter(params map[string]interface{}) (audit.Filter, error) {
	var f audit.Filter
	var err error

	if f.SessionID, _, err = optionalString(params, "session_id"); err != nil {
		return f, err
	}
	if f.CallID, _, err = optionalString(params, "call_id"); err != nil {
		return f, err
	}
	if f.ToolName, _, err = optionalString(params, "tool_name"); err != nil {
		return f, err
	}
	if raw, ok, err := optionalString(params, "decision"); err != nil {
		return f, err
	} else if ok {
		d, err := audit.ParseDecision(raw)
		if err != nil {
			return f, invalidParams("%v", err)
		}
		f.Decision = d
	}
	if f.Since, err = optionalTime(params, "since"); err != nil {
		return f, err
	}
	if f.Until, err = optionalTime(params, "until"); err != nil {
		return f, err
	}

	f.Limit = maxAuditResults
	if raw, ok := params["limit"]; ok {
		n, ok := raw.(float64)
		if !ok || n < 1 || n != float64(int(n)) {
			return f, invalidParams("limit must be a positive integer")
		}
		if int(n) < maxAuditResults {
			f.Limit = int(n)
		}
	}
	return f, nil
}

func (s *Server) handleToolsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tools := s.orchestrator.Tools()

	if raw, ok, err := optionalString(params, "tier"); err != nil {
		return nil, err
	} else if ok {
		tier, err := toolexecutor.ParseTier(raw)
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		allowed := make([]*toolexecutor.ToolDefinition, 0, len(tools))
		for _, def := range tools {
			if def.MinimumTier <= tier {
				allowed = append(allowed, def)
			}
		}
		tools = allowed
	}

	return map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	}, nil
}

func (s *Server) handleGatewayClients(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"clients":  s.clients.GetConnectedClients(),
		"provider": s.orchestrator.Provider(),
		"methods":  s.router.GetMethods(),
	}, nil
}

// eventFrame wraps an orchestrator event for the wire.
func eventFrame(ctx context.Context, ev agent.Event) EventMessage {
	return EventMessage{
		Event:     "session.event",
		Stream:    streamFor(ev.Type),
		Phase:     string(ev.Type),
		Data:      ev,
		TraceID:   tracing.GetTraceID(ctx),
		RequestID: requestIDFromContext(ctx),
		SessionID: ev.SessionID,
	}
}

func streamFor(t agent.EventType) StreamType {
	switch t {
	case agent.EventAssistantText:
		return StreamTypeAssistant
	case agent.EventToolStarted, agent.EventToolResult, agent.EventConfirmationNeeded:
		return StreamTypeTool
	default:
		return StreamTypeLifecycle
	}
}

// toRPCError maps handler errors onto RPC error codes.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, session.ErrSessionNotFound):
		return &RPCError{Code: SessionNotFound, Message: err.Error()}
	case errors.Is(err, toolexecutor.ErrNoPendingConfirmation):
		return &RPCError{Code: NoPendingConfirmation, Message: err.Error()}
	default:
		return &RPCError{Code: InternalError, Message: err.Error()}
	}
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: InvalidParams, Message: fmt.Sprintf(format, args...)}
}

func requiredString(params map[string]interface{}, name string) (string, error) {
	value, ok, err := optionalString(params, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", invalidParams("%s is required", name)
	}
	return value, nil
}

func optionalString(params map[string]interface{}, name string) (string, bool, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", false, invalidParams("%s must be a string", name)
	}
	value = strings.TrimSpace(value)
	return value, value != "", nil
}

func optionalTime(params map[string]interface{}, name string) (time.Time, error) {
	raw, ok, err := optionalString(params, name)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalidParams("%s must be an RFC 3339 timestamp", name)
	}
	return ts, nil
}
