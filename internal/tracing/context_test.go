package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestWithSessionAndCallID(t *testing.T) {
	ctx := WithSessionID(context.Background(), "sess-1")
	ctx = WithCallID(ctx, "call-7")

	if got := GetSessionID(ctx); got != "sess-1" {
		t.Errorf("expected session ID sess-1, got %s", got)
	}
	if got := GetCallID(ctx); got != "call-7" {
		t.Errorf("expected call ID call-7, got %s", got)
	}
}

func TestGetters_EmptyContext(t *testing.T) {
	tc := FromContext(context.Background())

	if tc.TraceID != "" || tc.TurnID != "" || tc.SessionID != "" || tc.CallID != "" {
		t.Errorf("expected empty trace context, got %+v", tc)
	}
}

func TestNewContext_RoundTrip(t *testing.T) {
	in := &TraceContext{TraceID: "t", TurnID: "r", SessionID: "s", CallID: "c"}
	out := FromContext(NewContext(context.Background(), in))

	if *out != *in {
		t.Errorf("expected %+v, got %+v", in, out)
	}
}

func TestNewTurnContext_KeepsTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = NewTurnContext(ctx, "sess-9")

	if got := GetTraceID(ctx); got != "trace-abc" {
		t.Errorf("expected trace-abc, got %s", got)
	}
	if GetTurnID(ctx) == "" {
		t.Error("expected turn ID to be set")
	}
	if got := GetSessionID(ctx); got != "sess-9" {
		t.Errorf("expected sess-9, got %s", got)
	}
}

func TestNewTurnContext_GeneratesTraceID(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "sess-1")
	if GetTraceID(ctx) == "" {
		t.Error("expected trace ID to be generated")
	}
}
