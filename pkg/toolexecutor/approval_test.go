package toolexecutor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationBroker_RequiresConfirmation(t *testing.T) {
	b := NewConfirmationBroker([]string{"file_write"}, 0)

	assert.Equal(t, DefaultConfirmationTimeout, b.GetDefaultTimeout())
	assert.True(t, b.RequiresConfirmation(&ToolDefinition{Name: "process_kill", RiskLevel: RiskHigh}))
	assert.True(t, b.RequiresConfirmation(&ToolDefinition{Name: "format", RiskLevel: RiskCritical}))
	assert.True(t, b.RequiresConfirmation(&ToolDefinition{Name: "file_write", RiskLevel: RiskLow}))
	assert.False(t, b.RequiresConfirmation(&ToolDefinition{Name: "file_read", RiskLevel: RiskMedium}))
	assert.False(t, b.RequiresConfirmation(nil))
}

func TestConfirmationBroker_RespondFromAnotherGoroutine(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Second)
	req := ConfirmationRequest{CallID: "c1", SessionID: "s1", ToolName: "file_delete", RiskLevel: RiskHigh}

	notified := make(chan ConfirmationRequest, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got := <-notified
		assert.False(t, got.ExpiresAt.IsZero())
		assert.NoError(t, b.Respond("s1", "c1", ConfirmationDecision{Approved: true, Reason: "ok"}))
	}()

	decision, err := b.Request(context.Background(), req, func(ctx context.Context, r ConfirmationRequest) {
		notified <- r
	})
	wg.Wait()

	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.Equal(t, "ok", decision.Reason)
	_, pending := b.Pending("s1")
	assert.False(t, pending)
}

func TestConfirmationBroker_Timeout(t *testing.T) {
	b := NewConfirmationBroker(nil, 20*time.Millisecond)

	start := time.Now()
	decision, err := b.Request(context.Background(), ConfirmationRequest{CallID: "c1", SessionID: "s1"}, nil)

	assert.True(t, errors.Is(err, ErrConfirmationTimeout))
	assert.False(t, decision.Approved)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// a late answer is not applied to anything
	err = b.Respond("s1", "c1", ConfirmationDecision{Approved: true})
	assert.True(t, errors.Is(err, ErrNoPendingConfirmation))
}

func TestConfirmationBroker_Cancelled(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	decision, err := b.Request(ctx, ConfirmationRequest{CallID: "c1", SessionID: "s1"}, func(context.Context, ConfirmationRequest) {
		cancel()
	})

	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, decision.Approved)
}

func TestConfirmationBroker_OnePendingPerSession(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Second)
	registered := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := b.Request(context.Background(), ConfirmationRequest{CallID: "c1", SessionID: "s1"}, func(context.Context, ConfirmationRequest) {
			close(registered)
		})
		done <- err
	}()
	<-registered

	_, err := b.Request(context.Background(), ConfirmationRequest{CallID: "c2", SessionID: "s1"}, nil)
	assert.True(t, errors.Is(err, ErrConfirmationPending))

	// other sessions are independent
	go func() {
		_, _ = b.Request(context.Background(), ConfirmationRequest{CallID: "c9", SessionID: "s2"}, func(ctx context.Context, r ConfirmationRequest) {
			_ = b.Respond("s2", "c9", ConfirmationDecision{Approved: true})
		})
	}()

	pending, ok := b.Pending("s1")
	require.True(t, ok)
	assert.Equal(t, "c1", pending.CallID)

	require.NoError(t, b.Respond("s1", "c1", ConfirmationDecision{Approved: false}))
	require.NoError(t, <-done)
}

func TestConfirmationBroker_RespondMismatch(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Second)
	registered := make(chan struct{})
	done := make(chan ConfirmationDecision, 1)

	go func() {
		d, _ := b.Request(context.Background(), ConfirmationRequest{CallID: "c1", SessionID: "s1"}, func(context.Context, ConfirmationRequest) {
			close(registered)
		})
		done <- d
	}()
	<-registered

	err := b.Respond("s1", "other", ConfirmationDecision{Approved: true})
	assert.True(t, errors.Is(err, ErrNoPendingConfirmation))

	err = b.Respond("s2", "c1", ConfirmationDecision{Approved: true})
	assert.True(t, errors.Is(err, ErrNoPendingConfirmation))

	require.NoError(t, b.Respond("s1", "c1", ConfirmationDecision{Approved: true}))
	err = b.Respond("s1", "c1", ConfirmationDecision{Approved: false})
	assert.True(t, errors.Is(err, ErrNoPendingConfirmation))

	assert.True(t, (<-done).Approved, "the first answer wins")
}

func TestConfirmationBroker_AlreadyCancelledDoesNotNotify(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notified := false
	decision, err := b.Request(ctx, ConfirmationRequest{CallID: "c1", SessionID: "s1"}, func(context.Context, ConfirmationRequest) {
		notified = true
	})

	assert.True(t, errors.Is(err, ErrCancelled))
	assert.False(t, decision.Approved)
	assert.False(t, notified)
	_, pending := b.Pending("s1")
	assert.False(t, pending)
}

func TestConfirmationBroker_DeliveredAnswerSurvivesRelease(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Minute)
	p := &pendingConfirmation{
		req:      ConfirmationRequest{CallID: "c1", SessionID: "s1"},
		response: make(chan ConfirmationDecision, 1),
	}
	b.pending["s1"] = p

	require.NoError(t, b.Respond("s1", "c1", ConfirmationDecision{Approved: true, Reason: "late"}))

	// the request side resolving on its timer still sees the answer
	decision, ok := b.release(p)
	require.True(t, ok)
	assert.True(t, decision.Approved)
	assert.Equal(t, "late", decision.Reason)

	_, ok = b.release(p)
	assert.False(t, ok)
}

func TestConfirmationBroker_RequestNeedsIDs(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Second)
	_, err := b.Request(context.Background(), ConfirmationRequest{SessionID: "s1"}, nil)
	assert.Error(t, err)
}

func TestConfirmationBroker_SetDefaultTimeout(t *testing.T) {
	b := NewConfirmationBroker(nil, time.Second)
	b.SetDefaultTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, b.GetDefaultTimeout())
}
