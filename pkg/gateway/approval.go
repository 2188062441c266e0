package gateway

import (
	"context"
	"slices"

	"github.com/harun/winagent/internal/tracing"
	"github.com/harun/winagent/pkg/toolexecutor"
)

// forwardConfirmation tells the other authenticated clients that a session
// is waiting on a confirmation, so any operator console can answer it.
// Clients in skip already see it in their event stream.
func (s *Server) forwardConfirmation(ctx context.Context, req toolexecutor.ConfirmationRequest, skip ...string) {
	msg := EventMessage{
		Event:     "confirmation.requested",
		Stream:    StreamTypeTool,
		Phase:     "confirmation_needed",
		Data:      req,
		TraceID:   tracing.GetTraceID(ctx),
		SessionID: req.SessionID,
	}

	for _, client := range s.clients.GetAuthenticatedClients() {
		if slices.Contains(skip, client.ID) {
			continue
		}
		_ = s.broadcaster.Send(client, msg)
	}
}

// handleSessionConfirm answers a pending confirmation.
func (s *Server) handleSessionConfirm(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	callID, err := requiredString(params, "call_id")
	if err != nil {
		return nil, err
	}
	approved, ok := params["approved"].(bool)
	if !ok {
		return nil, invalidParams("approved is required and must be a boolean")
	}
	reason, _, err := optionalString(params, "reason")
	if err != nil {
		return nil, err
	}

	actor := clientIDFromContext(ctx)
	if actor == "" {
		actor = "http"
	}

	if err := s.orchestrator.RespondToConfirmation(id, callID, approved, reason); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", id).
		Str("call_id", callID).
		Bool("approved", approved).
		Str("actor", actor).
		Msg("Confirmation answered over gateway")

	return map[string]interface{}{
		"session_id": id,
		"call_id":    callID,
		"approved":   approved,
	}, nil
}

// handleSessionPending returns the confirmation a session waits on, if any.
func (s *Server) handleSessionPending(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if _, _, err := s.orchestrator.SessionState(id); err != nil {
		return nil, err
	}

	pending, ok := s.orchestrator.PendingConfirmation(id)
	if !ok {
		return map[string]interface{}{"session_id": id, "pending": false}, nil
	}
	return map[string]interface{}{
		"session_id":   id,
		"pending":      true,
		"confirmation": pending,
	}, nil
}
