package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestPropagateToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithSessionID(ctx, "sess-abc")
	ctx = WithCallID(ctx, "call-1")

	lg := PropagateToLogger(ctx, logger)
	lg.Info().Msg("dispatch")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-123"`, `"session_id":"sess-abc"`, `"call_id":"call-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected log output to contain %s, got %s", want, out)
		}
	}
	if strings.Contains(out, "turn_id") {
		t.Errorf("did not expect turn_id in %s", out)
	}
}
