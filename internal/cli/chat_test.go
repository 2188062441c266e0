package cli

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/winagent/pkg/agent"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type confirmation struct {
	callID   string
	approved bool
}

// fakeBackend replays a fixed event script for every message.
type fakeBackend struct {
	mu            sync.Mutex
	script        func(text string) <-chan agent.Event
	sent          []string
	tiers         []toolexecutor.PermissionTier
	confirmations []confirmation
	cancelled     int
	closed        []string
	respondErr    error
}

func (f *fakeBackend) CreateSession(ctx context.Context, tier toolexecutor.PermissionTier) (string, error) {
	return "sess-1", nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, sessionID, text string) (<-chan agent.Event, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	script := f.script
	f.mu.Unlock()
	if script == nil {
		return nil, errors.New("no script")
	}
	return script(text), nil
}

func (f *fakeBackend) RespondToConfirmation(sessionID, callID string, approved bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, confirmation{callID: callID, approved: approved})
	return f.respondErr
}

func (f *fakeBackend) SetTier(ctx context.Context, sessionID string, tier toolexecutor.PermissionTier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiers = append(f.tiers, tier)
	return nil
}

func (f *fakeBackend) Cancel(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func (f *fakeBackend) CloseSession(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
	return nil
}

func replay(events ...agent.Event) <-chan agent.Event {
	ch := make(chan agent.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func inputLines(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

func TestConsole_PlainTurn(t *testing.T) {
	backend := &fakeBackend{script: func(text string) <-chan agent.Event {
		return replay(
			agent.Event{Type: agent.EventAssistantText, Text: "Hi there"},
			agent.Event{Type: agent.EventTurnCompleted, Text: "Hi there", Iterations: 1},
		)
	}}
	out := &lockedBuffer{}

	c := newConsole(backend, inputLines("hello", "  "), out)
	require.NoError(t, c.run(context.Background(), toolexecutor.TierOperator))

	assert.Equal(t, []string{"hello"}, backend.sent)
	assert.Equal(t, []string{"sess-1"}, backend.closed)
	assert.Contains(t, out.String(), "Session sess-1 (tier operator)")
	assert.Contains(t, out.String(), "Hi there")
}

func TestConsole_ToolEventsAndAbort(t *testing.T) {
	call := toolexecutor.ToolCall{ID: "c1", Name: "file_list"}
	backend := &fakeBackend{script: func(text string) <-chan agent.Event {
		return replay(
			agent.Event{Type: agent.EventToolStarted, Call: &call},
			agent.Event{Type: agent.EventToolResult, Call: &call, Result: &toolexecutor.ToolResult{
				Tool: "file_list", ErrorKind: toolexecutor.ErrorKindPermissionDenied, Reason: "requires tier administrator",
			}},
			agent.Event{Type: agent.EventTurnAborted, ErrorKind: toolexecutor.ErrorKindIterationCapExceeded, Text: "gave up"},
		)
	}}
	out := &lockedBuffer{}

	c := newConsole(backend, inputLines("list"), out)
	require.NoError(t, c.run(context.Background(), toolexecutor.TierObserver))

	assert.Contains(t, out.String(), "-> file_list")
	assert.Contains(t, out.String(), "file_list permission_denied: requires tier administrator")
	assert.Contains(t, out.String(), "[iteration_cap_exceeded] gave up")
}

func TestConsole_ConfirmationSharesInput(t *testing.T) {
	req := &toolexecutor.ConfirmationRequest{CallID: "c9", SessionID: "sess-1", ToolName: "file_delete"}
	backend := &fakeBackend{script: func(text string) <-chan agent.Event {
		return replay(
			agent.Event{Type: agent.EventConfirmationNeeded, Confirmation: req},
			agent.Event{Type: agent.EventTurnCompleted, Text: "deleted"},
		)
	}}
	out := &lockedBuffer{}

	c := newConsole(backend, inputLines("delete it", "y"), out)
	require.NoError(t, c.run(context.Background(), toolexecutor.TierOperator))

	assert.Equal(t, []string{"delete it"}, backend.sent)
	assert.Equal(t, []confirmation{{callID: "c9", approved: true}}, backend.confirmations)
	assert.Contains(t, out.String(), "file_delete")
}

func TestConsole_ConfirmationNotDelivered(t *testing.T) {
	req := &toolexecutor.ConfirmationRequest{CallID: "c9", SessionID: "sess-1", ToolName: "file_delete"}
	backend := &fakeBackend{
		respondErr: toolexecutor.ErrNoPendingConfirmation,
		script: func(text string) <-chan agent.Event {
			return replay(agent.Event{Type: agent.EventConfirmationNeeded, Confirmation: req})
		},
	}
	out := &lockedBuffer{}

	c := newConsole(backend, inputLines("delete it", "n"), out)
	require.NoError(t, c.run(context.Background(), toolexecutor.TierOperator))

	assert.Equal(t, []confirmation{{callID: "c9", approved: false}}, backend.confirmations)
	assert.Contains(t, out.String(), "confirmation not delivered")
}

func TestConsole_Commands(t *testing.T) {
	backend := &fakeBackend{}
	out := &lockedBuffer{}

	c := newConsole(backend, inputLines("/help", "/tier", "/tier root", "/tier administrator", "/bogus", "/quit", "never read"), out)
	require.NoError(t, c.run(context.Background(), toolexecutor.TierOperator))

	assert.Empty(t, backend.sent)
	assert.Equal(t, []toolexecutor.PermissionTier{toolexecutor.TierAdministrator}, backend.tiers)
	assert.Contains(t, out.String(), "usage: /tier")
	assert.Contains(t, out.String(), `unknown permission tier "root"`)
	assert.Contains(t, out.String(), "Tier set to administrator")
	assert.Contains(t, out.String(), "unknown command /bogus")
	assert.Equal(t, []string{"sess-1"}, backend.closed)
}

func TestConsole_SendError(t *testing.T) {
	backend := &fakeBackend{}
	out := &lockedBuffer{}

	c := newConsole(backend, inputLines("hello"), out)
	require.NoError(t, c.run(context.Background(), toolexecutor.TierOperator))

	assert.Contains(t, out.String(), "error: no script")
}

func TestConsole_Interrupt(t *testing.T) {
	events := make(chan agent.Event)
	backend := &fakeBackend{script: func(text string) <-chan agent.Event { return events }}
	out := &lockedBuffer{}
	lines := make(chan string, 1)

	c := newConsole(backend, lines, out)
	assert.False(t, c.interrupt(), "idle console has nothing to cancel")

	done := make(chan error, 1)
	go func() { done <- c.run(context.Background(), toolexecutor.TierOperator) }()
	lines <- "long task"

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.cancelTurn != nil
	}, time.Second, 5*time.Millisecond)

	assert.True(t, c.interrupt())
	backend.mu.Lock()
	assert.Equal(t, 1, backend.cancelled)
	backend.mu.Unlock()

	events <- agent.Event{Type: agent.EventTurnAborted, ErrorKind: toolexecutor.ErrorKindCancelled, Text: "cancelled"}
	close(events)
	close(lines)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not exit")
	}
	assert.Contains(t, out.String(), "cancelling...")
	assert.Contains(t, out.String(), "[cancelled] cancelled")
}

func TestConsole_ContextCancelEnds(t *testing.T) {
	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newConsole(backend, make(chan string), &lockedBuffer{})
	require.NoError(t, c.run(ctx, toolexecutor.TierOperator))
	assert.Equal(t, []string{"sess-1"}, backend.closed)
}

func TestReadLines(t *testing.T) {
	var got []string
	for line := range readLines(bytes.NewBufferString("one\ntwo\n")) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}
