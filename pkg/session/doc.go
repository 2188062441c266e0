// Package session holds live conversation sessions: tier, lifecycle state and
// transcript.
//
// Invariants:
// - A session's tier and transcript are mutated only by the orchestrator that
//   runs it.
// - State moves only along the turn lifecycle (idle, awaiting_model,
//   executing, awaiting_confirmation, completed, aborted).
// - At most one turn runs per session.
//
// Usage:
//
//	mgr := session.NewManager()
//	s, _ := mgr.Create(ctx, toolexecutor.TierOperator)
//	s.Append(session.Message{Role: session.RoleUser, Content: "open notepad"})
package session
