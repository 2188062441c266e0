// Package audit records every tool call attempt made by the dispatcher.
//
// Invariants:
// - Append never returns an error to the caller; failures are logged.
// - Appends are serialized and wait for the write lock for a bounded time.
// - Query results are lazy and come back in append order.
//
// Usage:
//
//	log := audit.NewLog(audit.NewMemoryStore(), audit.WithAppendTimeout(2*time.Second))
//	log.Append(ctx, audit.Record{SessionID: "s1", CallID: "c1", ToolName: "file_read", Decision: audit.DecisionPermitted})
//	for rec, err := range log.Query(ctx, audit.Filter{SessionID: "s1"}) {
//		...
//	}
package audit
