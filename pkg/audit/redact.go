package audit

import (
	"fmt"

	"github.com/harun/winagent/internal/logger"
)

const (
	redactedValue  = "[REDACTED]"
	maxStringValue = 1024
)

// RedactArguments copies args for storage. Keys listed in sensitive are
// replaced outright, long strings are clipped, and the rest goes through the
// redactor when one is given.
func RedactArguments(args map[string]interface{}, sensitive []string, r *logger.Redactor) map[string]interface{} {
	if args == nil {
		return nil
	}

	hidden := make(map[string]struct{}, len(sensitive))
	for _, name := range sensitive {
		hidden[name] = struct{}{}
	}

	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if _, ok := hidden[k]; ok {
			out[k] = redactedValue
			continue
		}
		if r != nil {
			v = r.RedactValue(v)
		}
		if s, ok := v.(string); ok && len(s) > maxStringValue {
			v = fmt.Sprintf("%s... [%d bytes]", s[:maxStringValue], len(s))
		}
		out[k] = v
	}
	return out
}
