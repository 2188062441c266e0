package toolexecutor

import (
	"fmt"
	"strings"
)

// PermissionTier is the trust level held by a session. Tiers are totally
// ordered: Observer < Operator < Administrator < System.
type PermissionTier int

const (
	TierObserver PermissionTier = iota
	TierOperator
	TierAdministrator
	TierSystem
)

var tierNames = []string{"observer", "operator", "administrator", "system"}

// AllTiers returns every tier in ascending order.
func AllTiers() []PermissionTier {
	return []PermissionTier{TierObserver, TierOperator, TierAdministrator, TierSystem}
}

func (t PermissionTier) String() string {
	if t < TierObserver || t > TierSystem {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(s string) (PermissionTier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return PermissionTier(i), nil
		}
	}
	return TierObserver, fmt.Errorf("unknown permission tier %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t PermissionTier) MarshalText() ([]byte, error) {
	if t < TierObserver || t > TierSystem {
		return nil, fmt.Errorf("invalid permission tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *PermissionTier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RiskLevel orders tools by how destructive they can be.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

var riskNames = []string{"low", "medium", "high", "critical"}

func (r RiskLevel) String() string {
	if r < RiskLow || r > RiskCritical {
		return fmt.Sprintf("risk(%d)", int(r))
	}
	return riskNames[r]
}

// ParseRiskLevel parses a risk level name, case-insensitively.
func ParseRiskLevel(s string) (RiskLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range riskNames {
		if n == name {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	if r < RiskLow || r > RiskCritical {
		return nil, fmt.Errorf("invalid risk level %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	parsed, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsAuthorized reports whether a session at tier may invoke def. It is a pure
// function of its inputs and must be evaluated per call from the session's
// current tier.
func IsAuthorized(tier PermissionTier, def *ToolDefinition) bool {
	if def == nil {
		return false
	}
	return tier >= def.MinimumTier
}
