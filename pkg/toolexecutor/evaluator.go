package toolexecutor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// PermissionEvaluator applies the protected policy and the tier check, in
// that order, to a validated call.
type PermissionEvaluator struct {
	protected *ProtectedPolicy
}

// NewPermissionEvaluator creates an evaluator. A nil policy protects nothing.
func NewPermissionEvaluator(protected *ProtectedPolicy) *PermissionEvaluator {
	if protected == nil {
		protected = NewProtectedPolicy(nil, nil, nil)
	}
	return &PermissionEvaluator{protected: protected}
}

// EvaluationResult represents the result of a permission evaluation
type EvaluationResult struct {
	Allowed       bool   // Whether the call may proceed to confirmation
	Reason        string // Human-readable reason for a denial
	ViolationType string // ReasonProtected, ReasonInsufficientTier or ""
}

// Evaluate checks a call against the protected policy and then the tier.
// Protected denials do not depend on the tier.
func (pe *PermissionEvaluator) Evaluate(ctx context.Context, tier PermissionTier, def *ToolDefinition, args map[string]interface{}) EvaluationResult {
	if detail, hit := pe.protected.Check(ctx, def, args); hit {
		pe.logViolation(def.Name, tier, ReasonProtected)
		return EvaluationResult{
			Allowed:       false,
			Reason:        detail,
			ViolationType: ReasonProtected,
		}
	}

	if !IsAuthorized(tier, def) {
		pe.logViolation(def.Name, tier, ReasonInsufficientTier)
		return EvaluationResult{
			Allowed:       false,
			Reason:        fmt.Sprintf("tool %s requires tier %s, session has %s", def.Name, def.MinimumTier, tier),
			ViolationType: ReasonInsufficientTier,
		}
	}

	return EvaluationResult{Allowed: true}
}

// Protected returns the underlying protected policy.
func (pe *PermissionEvaluator) Protected() *ProtectedPolicy {
	return pe.protected
}

func (pe *PermissionEvaluator) logViolation(toolName string, tier PermissionTier, violationType string) {
	log.Warn().
		Str("tool", toolName).
		Str("tier", tier.String()).
		Str("violation_type", violationType).
		Msg("Tool call denied by permission model")
}
