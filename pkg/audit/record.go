package audit

import (
	"fmt"
	"time"
)

// Decision is the path a call attempt took through the dispatcher.
type Decision string

const (
	DecisionPermitted          Decision = "permitted"
	DecisionDeniedPermission   Decision = "denied_permission"
	DecisionDeniedConfirmation Decision = "denied_confirmation"
	DecisionError              Decision = "error"
	DecisionCancelled          Decision = "cancelled"
)

// AllDecisions returns every decision path in a stable order.
func AllDecisions() []Decision {
	return []Decision{
		DecisionPermitted,
		DecisionDeniedPermission,
		DecisionDeniedConfirmation,
		DecisionError,
		DecisionCancelled,
	}
}

// ParseDecision parses a decision path name.
func ParseDecision(s string) (Decision, error) {
	for _, d := range AllDecisions() {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown decision %q", s)
}

// Record is one audited call attempt.
type Record struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	SessionID  string                 `json:"session_id"`
	CallID     string                 `json:"call_id"`
	ToolName   string                 `json:"tool_name"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Decision   Decision               `json:"decision"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	Summary    string                 `json:"result_summary"`
	DurationMs int64                  `json:"duration_ms"`
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	SessionID string
	CallID    string
	ToolName  string
	Decision  Decision
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Matches reports whether rec passes every non-zero field of f.
func (f Filter) Matches(rec Record) bool {
	if f.SessionID != "" && rec.SessionID != f.SessionID {
		return false
	}
	if f.CallID != "" && rec.CallID != f.CallID {
		return false
	}
	if f.ToolName != "" && rec.ToolName != f.ToolName {
		return false
	}
	if f.Decision != "" && rec.Decision != f.Decision {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
