package hostops

import (
	"fmt"

	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/spf13/cast"
)

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func boolArg(args map[string]interface{}, name string) bool {
	b, _ := args[name].(bool)
	return b
}

// intArg reads an integer that may arrive as a Go int or a decoded JSON
// number.
func intArg(args map[string]interface{}, name string) (int, bool) {
	return toolexecutor.IntArgument(args[name])
}

func requireInt(args map[string]interface{}, name string) (int, error) {
	n, ok := intArg(args, name)
	if !ok {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func floatArg(args map[string]interface{}, name string, def float64) float64 {
	switch args[name].(type) {
	case nil, bool, string:
		return def
	}
	f, err := cast.ToFloat64E(args[name])
	if err != nil {
		return def
	}
	return f
}

func stringsArg(args map[string]interface{}, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
