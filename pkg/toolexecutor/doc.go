// Package toolexecutor holds the tool catalog, the permission model, the
// confirmation broker and the dispatch engine that ties them together.
//
// Invariants:
//   - Tool names are unique and the catalog is frozen after Build.
//   - Every call passes lookup, schema validation, the protected check, the
//     tier check and, when required, confirmation, in that order, before the
//     operation runs.
//   - Each dispatch produces exactly one audit record, whatever the outcome.
//
// Usage:
//
//	b := toolexecutor.NewCatalogBuilder()
//	_ = b.Register(toolexecutor.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Category:    toolexecutor.CategorySystem,
//		MinimumTier: toolexecutor.TierObserver,
//		Parameters:  []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
//			return args["text"], nil
//		}),
//	})
//	catalog, _ := b.Build()
//	exec := toolexecutor.New(catalog)
//	res := exec.Execute(ctx, toolexecutor.CallContext{SessionID: "s1", Tier: toolexecutor.TierOperator},
//		toolexecutor.ToolCall{ID: "c1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}})
package toolexecutor
