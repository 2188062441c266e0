// Package agent runs the conversation loop between a model backend and the
// tool dispatcher.
//
// Invariants:
// - Turns are serialized per session lane through commandqueue.
// - Tool calls route through toolexecutor only, one at a time in the order the model returned them.
// - A turn makes at most MaxIterations model calls; hitting the cap aborts it.
// - Dispatch failures are written to the transcript and the loop continues.
//
// Usage:
//
//	orch, _ := agent.NewOrchestrator(agent.Config{...})
//	id, _ := orch.CreateSession(ctx, toolexecutor.TierOperator)
//	events, _ := orch.SendMessage(ctx, id, "open notepad")
//	for ev := range events {
//		_ = ev
//	}
package agent
