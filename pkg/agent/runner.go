package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/harun/winagent/internal/observability"
	"github.com/harun/winagent/internal/tracing"
	"github.com/harun/winagent/pkg/audit"
	"github.com/harun/winagent/pkg/commandqueue"
	"github.com/harun/winagent/pkg/session"
	"github.com/harun/winagent/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultMaxIterations bounds the model/tool round-trips of one turn.
	DefaultMaxIterations = 8
	// DefaultHistoryWindow is how many transcript messages the model sees.
	DefaultHistoryWindow = 40
	// DefaultMaxRetries is the number of attempts per model call.
	DefaultMaxRetries = 3

	defaultRetryBaseDelay = time.Second
	eventBuffer           = 64
	tracerName            = "winagent/agent"
)

// DefaultSystemPrompt is sent when no system prompt is configured.
const DefaultSystemPrompt = `You are WinAgent, an assistant that operates a Windows computer through the tools you are given.
Use a tool whenever the request needs the computer to do something, and answer in plain text when it does not.
Work one step at a time and look at each tool result before choosing the next call.
Some tools wait for the user to confirm them. When a call is denied or fails, explain what happened instead of repeating the same call.
Never try to change protected system files or processes.`

// ErrOrchestratorClosed is returned by calls made after Close.
var ErrOrchestratorClosed = errors.New("orchestrator closed")

// Config holds orchestrator configuration
type Config struct {
	Sessions *session.Manager
	Executor *toolexecutor.ToolExecutor
	Provider LLMProvider

	// Queue serializes turns per session. A private queue is created when nil.
	Queue *commandqueue.CommandQueue
	// Audit backs AuditQuery. It should be the sink the executor writes to.
	Audit *audit.Log
	// Security records tier changes.
	Security *observability.SecurityLogger
	Logger   *zerolog.Logger

	Model          string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	MaxIterations  int
	HistoryWindow  int
	SystemPrompt   string
	RetryBaseDelay time.Duration
}

// Orchestrator runs conversation turns. Each session's turns run one at a
// time in submission order; different sessions run concurrently.
type Orchestrator struct {
	sessions  *session.Manager
	executor  *toolexecutor.ToolExecutor
	provider  LLMProvider
	queue     *commandqueue.CommandQueue
	ownsQueue bool
	audit     *audit.Log
	security  *observability.SecurityLogger
	logger    zerolog.Logger
	tools     []toolexecutor.ToolSchema

	model         string
	temperature   float64
	maxTokens     int
	maxRetries    int
	maxIterations int
	historyWindow int
	systemPrompt  string
	retryBase     time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewOrchestrator creates an orchestrator from cfg.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("model provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries cannot be negative")
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations cannot be negative")
	}

	o := &Orchestrator{
		sessions:      cfg.Sessions,
		executor:      cfg.Executor,
		provider:      cfg.Provider,
		queue:         cfg.Queue,
		audit:         cfg.Audit,
		security:      cfg.Security,
		tools:         cfg.Executor.Catalog().Schemas(),
		model:         cfg.Model,
		temperature:   cfg.Temperature,
		maxTokens:     cfg.MaxTokens,
		maxRetries:    cfg.MaxRetries,
		maxIterations: cfg.MaxIterations,
		historyWindow: cfg.HistoryWindow,
		systemPrompt:  cfg.SystemPrompt,
		retryBase:     cfg.RetryBaseDelay,
		done:          make(chan struct{}),
	}

	if cfg.Logger != nil {
		o.logger = *cfg.Logger
	} else {
		o.logger = log.With().Str("component", "agent").Logger()
	}
	if o.queue == nil {
		o.queue = commandqueue.New()
		o.ownsQueue = true
	}
	if o.maxRetries == 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.maxIterations == 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.historyWindow == 0 {
		o.historyWindow = DefaultHistoryWindow
	}
	if o.systemPrompt == "" {
		o.systemPrompt = DefaultSystemPrompt
	}
	if o.retryBase <= 0 {
		o.retryBase = defaultRetryBaseDelay
	}

	o.logger.Info().
		Str("provider", o.provider.Provider()).
		Str("model", o.model).
		Int("tools", len(o.tools)).
		Int("max_iterations", o.maxIterations).
		Msg("Orchestrator initialized")

	return o, nil
}

func (o *Orchestrator) closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// CreateSession starts a session at tier and returns its ID.
func (o *Orchestrator) CreateSession(ctx context.Context, tier toolexecutor.PermissionTier) (string, error) {
	if o.closed() {
		return "", ErrOrchestratorClosed
	}
	s, err := o.sessions.Create(ctx, tier)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// SendMessage queues a turn for text and returns its event stream. The
// channel is closed after the terminal event (turn_completed or
// turn_aborted). Callers must drain it. The turn is not bound to ctx; use
// Cancel to stop it.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string) (<-chan Event, error) {
	if o.closed() {
		return nil, ErrOrchestratorClosed
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	turnCtx := tracing.NewTurnContext(context.WithoutCancel(ctx), sessionID)
	t := &turn{
		o:    o,
		sess: sess,
		ch:   make(chan Event, eventBuffer),
		lg:   tracing.PropagateToLogger(turnCtx, o.logger),
	}
	started := make(chan struct{})

	res := o.queue.Submit(turnCtx, sessionID, func(taskCtx context.Context) (interface{}, error) {
		close(started)
		t.run(taskCtx, text)
		return nil, nil
	}, nil)

	go func() {
		r := <-res
		select {
		case <-started:
			return
		default:
		}
		t.lg.Warn().Err(r.Err).Msg("Turn dropped before it started")
		t.emit(Event{
			Type:      EventTurnAborted,
			ErrorKind: toolexecutor.ErrorKindCancelled,
			Text:      "The request was cancelled before it started.",
		})
		observability.RecordTurn(string(toolexecutor.ErrorKindCancelled), 0)
		close(t.ch)
	}()

	return t.ch, nil
}

// RespondToConfirmation answers the pending confirmation of a session.
func (o *Orchestrator) RespondToConfirmation(sessionID, callID string, approved bool, reason string) error {
	if _, err := o.sessions.Get(sessionID); err != nil {
		return err
	}
	return o.executor.Broker().Respond(sessionID, callID, toolexecutor.ConfirmationDecision{
		Approved: approved,
		Reason:   reason,
	})
}

// PendingConfirmation returns the confirmation a session is waiting on.
func (o *Orchestrator) PendingConfirmation(sessionID string) (toolexecutor.ConfirmationRequest, bool) {
	return o.executor.Broker().Pending(sessionID)
}

// Cancel aborts the running turn of a session and drops its queued turns.
func (o *Orchestrator) Cancel(sessionID string) error {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	dropped := o.queue.ClearLane(sessionID)
	running := sess.Cancel()

	o.logger.Info().
		Str("session_id", sessionID).
		Bool("running", running).
		Int("dropped", dropped).
		Msg("Cancelling session turns")
	return nil
}

// SetTier changes a session's tier. The change applies to the next dispatch,
// including later calls of a running turn.
func (o *Orchestrator) SetTier(ctx context.Context, sessionID string, tier toolexecutor.PermissionTier) error {
	if tier < toolexecutor.TierObserver || tier > toolexecutor.TierSystem {
		return fmt.Errorf("invalid tier %d", int(tier))
	}
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	prev := sess.SetTier(tier)
	o.security.RecordTierChange(ctx, sessionID, prev.String(), tier.String())
	o.logger.Info().
		Str("session_id", sessionID).
		Str("from", prev.String()).
		Str("to", tier.String()).
		Msg("Session tier changed")
	return nil
}

// CloseSession cancels a session's work and forgets it.
func (o *Orchestrator) CloseSession(sessionID string) error {
	if err := o.sessions.Close(sessionID); err != nil {
		return err
	}
	o.queue.RemoveLane(sessionID)
	return nil
}

// Transcript returns a copy of a session's transcript.
func (o *Orchestrator) Transcript(sessionID string) ([]session.Message, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Transcript(), nil
}

// SessionState returns the lifecycle state and tier of a session.
func (o *Orchestrator) SessionState(sessionID string) (session.State, toolexecutor.PermissionTier, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return "", 0, err
	}
	return sess.State(), sess.Tier(), nil
}

// AuditQuery returns the audit records matching f in append order.
func (o *Orchestrator) AuditQuery(ctx context.Context, f audit.Filter) iter.Seq2[audit.Record, error] {
	if o.audit == nil {
		return func(yield func(audit.Record, error) bool) {
			yield(audit.Record{}, fmt.Errorf("audit log is not configured"))
		}
	}
	return o.audit.Query(ctx, f)
}

// Tools returns the catalog in registration order.
func (o *Orchestrator) Tools() []*toolexecutor.ToolDefinition {
	return o.executor.Catalog().List()
}

// Provider returns the name of the model backend.
func (o *Orchestrator) Provider() string {
	return o.provider.Provider()
}

// Close cancels all sessions and stops the queue if the orchestrator owns it.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		o.sessions.CloseAll()
		if o.ownsQueue {
			err = o.queue.Close()
		}
		o.logger.Info().Msg("Orchestrator closed")
	})
	return err
}

// callModelWithRetry calls the model with exponential backoff retry
func (o *Orchestrator) callModelWithRetry(ctx context.Context, lg zerolog.Logger, request LLMRequest) (*LLMResponse, error) {
	var lastErr error

	for attempt := 0; attempt < o.maxRetries; attempt++ {
		response, err := o.callModel(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == o.maxRetries-1 {
			break
		}

		delay := o.retryBase * time.Duration(1<<attempt)
		lg.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", o.maxRetries, lastErr)
}

// callModel makes a single model call
func (o *Orchestrator) callModel(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.model_call",
		attribute.String("provider", o.provider.Provider()),
		attribute.String("model", request.Model),
		attribute.Int("messages", len(request.Messages)),
	)
	defer span.End()

	start := time.Now()
	response, err := o.provider.Call(ctx, request)
	if err == nil && response == nil {
		err = fmt.Errorf("%s returned an empty response", o.provider.Provider())
	}
	observability.RecordModelCall(o.provider.Provider(), time.Since(start), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("tool_calls", len(response.ToolCalls)))
	return response, nil
}

// turn is one SendMessage being processed. Its methods run on the queue
// worker of the session, so the sequence counter needs no lock.
type turn struct {
	o          *Orchestrator
	sess       *session.Session
	ch         chan Event
	lg         zerolog.Logger
	seq        int
	iterations int
	callIDs    map[string]bool
}

func (t *turn) emit(ev Event) {
	t.seq++
	ev.Seq = t.seq
	ev.SessionID = t.sess.ID
	select {
	case t.ch <- ev:
	case <-t.o.done:
	}
}

func (t *turn) moveTo(next session.State) {
	if err := t.sess.Transition(next); err != nil {
		t.lg.Debug().Err(err).Msg("Skipping session transition")
	}
}

func (t *turn) run(ctx context.Context, text string) {
	defer close(t.ch)
	defer func() {
		if r := recover(); r != nil {
			t.lg.Error().Interface("panic", r).Msg("Turn panicked")
			t.abort(toolexecutor.ErrorKindExecution, fmt.Sprintf("The turn failed with an internal error: %v", r))
		}
	}()

	turnCtx, turnSeq, err := t.sess.BeginTurn(ctx)
	if err != nil {
		t.lg.Error().Err(err).Msg("Failed to start turn")
		t.emit(Event{Type: EventTurnAborted, ErrorKind: toolexecutor.ErrorKindCancelled, Text: err.Error()})
		return
	}
	defer t.sess.EndTurn()

	turnCtx, span := tracing.StartSpan(turnCtx, tracerName, "agent.turn",
		attribute.String("session.id", t.sess.ID),
		attribute.Int64("turn.seq", int64(turnSeq)),
	)
	defer span.End()

	t.lg.Info().Uint64("turn", turnSeq).Msg("Turn started")

	t.moveTo(session.StateAwaitingModel)
	t.sess.Append(session.Message{Role: session.RoleUser, Content: text})

	kind := t.loop(turnCtx)

	span.SetAttributes(attribute.Int("turn.iterations", t.iterations))
	if kind != "" {
		span.SetStatus(codes.Error, string(kind))
	}
	t.lg.Info().
		Uint64("turn", turnSeq).
		Int("iterations", t.iterations).
		Str("outcome", outcomeLabel(kind)).
		Msg("Turn finished")
}

// loop alternates model calls and dispatches until the model answers without
// tool calls or the turn ends early. It returns the error kind of an early
// end.
func (t *turn) loop(ctx context.Context) toolexecutor.ErrorKind {
	o := t.o

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		t.iterations = iteration

		if ctx.Err() != nil {
			return t.cancelled()
		}

		response, err := o.callModelWithRetry(ctx, t.lg, LLMRequest{
			Model:        o.model,
			Messages:     t.sess.Window(o.historyWindow),
			Tools:        o.tools,
			Temperature:  o.temperature,
			MaxTokens:    o.maxTokens,
			SystemPrompt: o.systemPrompt,
		})
		if err != nil {
			if ctx.Err() != nil {
				return t.cancelled()
			}
			t.lg.Error().Err(err).Msg("Model backend unavailable")
			return t.abort(toolexecutor.ErrorKindModelBackendUnavailable,
				fmt.Sprintf("The model backend is unavailable: %v", err))
		}

		calls := t.normalizeCalls(response.ToolCalls)
		if len(calls) == 0 {
			text := cleanResponse(response.Content)
			t.sess.Append(session.Message{Role: session.RoleAssistant, Content: text})
			t.moveTo(session.StateCompleted)
			t.emit(Event{Type: EventAssistantText, Text: text})
			t.emit(Event{Type: EventTurnCompleted, Text: text, Iterations: iteration})
			observability.RecordTurn("completed", iteration)
			return ""
		}

		t.sess.Append(session.Message{Role: session.RoleAssistant, Content: response.Content, ToolCalls: calls})
		if note := stripToolJSON(response.Content); note != "" {
			t.emit(Event{Type: EventAssistantText, Text: note})
		}

		t.moveTo(session.StateExecuting)
		for i := range calls {
			if ctx.Err() != nil {
				t.skip(ctx, calls[i])
				continue
			}
			t.dispatch(ctx, calls[i])
		}

		if ctx.Err() != nil {
			return t.cancelled()
		}
		t.moveTo(session.StateAwaitingModel)
	}

	msg := fmt.Sprintf("I stopped after %d rounds of tool calls without finishing the task. Let me know how you would like to continue.", o.maxIterations)
	t.sess.Append(session.Message{Role: session.RoleAssistant, Content: msg})
	t.lg.Warn().Int("max_iterations", o.maxIterations).Msg("Iteration cap reached")
	return t.abort(toolexecutor.ErrorKindIterationCapExceeded, msg)
}

// dispatch runs one call and records its result. If the turn is cancelled
// mid-call the executor still writes an audit record for it.
func (t *turn) dispatch(ctx context.Context, call toolexecutor.ToolCall) {
	t.emit(Event{Type: EventToolStarted, Call: &call})

	result := t.o.executor.Execute(ctx, toolexecutor.CallContext{
		SessionID:      t.sess.ID,
		Tier:           t.sess.Tier(),
		OnConfirmation: t.notify,
	}, call)

	if t.sess.State() == session.StateAwaitingConfirmation {
		t.moveTo(session.StateExecuting)
	}

	t.sess.Append(session.Message{
		Role:     session.RoleTool,
		Content:  result.JSON(),
		CallID:   call.ID,
		ToolName: call.Name,
		IsError:  !result.Success,
	})
	t.emit(Event{Type: EventToolResult, Call: &call, Result: &result})
}

// skip audits a call the cancelled turn never started. The transcript keeps a
// result for it; front ends hear nothing.
func (t *turn) skip(ctx context.Context, call toolexecutor.ToolCall) {
	result := t.o.executor.Skip(ctx, toolexecutor.CallContext{
		SessionID: t.sess.ID,
		Tier:      t.sess.Tier(),
	}, call)

	t.sess.Append(session.Message{
		Role:     session.RoleTool,
		Content:  result.JSON(),
		CallID:   call.ID,
		ToolName: call.Name,
		IsError:  true,
	})
}

func (t *turn) notify(ctx context.Context, req toolexecutor.ConfirmationRequest) {
	t.moveTo(session.StateAwaitingConfirmation)
	t.emit(Event{Type: EventConfirmationNeeded, Confirmation: &req})
}

func (t *turn) cancelled() toolexecutor.ErrorKind {
	t.lg.Info().Msg("Turn cancelled")
	return t.abort(toolexecutor.ErrorKindCancelled, "The turn was cancelled.")
}

func (t *turn) abort(kind toolexecutor.ErrorKind, text string) toolexecutor.ErrorKind {
	t.moveTo(session.StateAborted)
	t.emit(Event{Type: EventTurnAborted, ErrorKind: kind, Text: text, Iterations: t.iterations})
	observability.RecordTurn(string(kind), t.iterations)
	return kind
}

// normalizeCalls gives every call an ID that is unique within the turn and a
// non-nil argument map.
func (t *turn) normalizeCalls(calls []toolexecutor.ToolCall) []toolexecutor.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	if t.callIDs == nil {
		t.callIDs = make(map[string]bool)
	}

	out := make([]toolexecutor.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" || t.callIDs[call.ID] {
			id, err := gonanoid.New()
			if err != nil {
				id = fmt.Sprintf("%d-%d", time.Now().UnixNano(), len(t.callIDs))
			}
			call.ID = "call_" + id
		}
		t.callIDs[call.ID] = true
		if call.Arguments == nil {
			call.Arguments = map[string]interface{}{}
		}
		out = append(out, call)
	}
	return out
}

func outcomeLabel(kind toolexecutor.ErrorKind) string {
	if kind == "" {
		return "completed"
	}
	return string(kind)
}
