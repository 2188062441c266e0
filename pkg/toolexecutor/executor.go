package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/winagent/internal/logger"
	"github.com/harun/winagent/internal/observability"
	"github.com/harun/winagent/internal/tracing"
	"github.com/harun/winagent/pkg/audit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultToolTimeout bounds a single operation.
	DefaultToolTimeout = 30 * time.Second
	// DefaultMaxOutput is the largest output, in bytes, returned verbatim.
	DefaultMaxOutput = 10 * 1024

	tracerName = "winagent/toolexecutor"
)

// ToolCall is one invocation requested by the model.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	// ArgumentError is set by the model backend when the arguments it
	// returned were not a JSON object. Dispatch reports it as a schema error.
	ArgumentError string `json:"-"`
}

// ToolResult is the immutable outcome of a dispatch. It is serialized
// verbatim into the transcript.
type ToolResult struct {
	CallID     string      `json:"call_id"`
	Tool       string      `json:"tool"`
	Success    bool        `json:"success"`
	Output     interface{} `json:"output,omitempty"`
	ErrorKind  ErrorKind   `json:"error_kind,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	Parameters []string    `json:"parameters,omitempty"`
	Truncated  bool        `json:"truncated,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// JSON renders the result for the transcript.
func (r ToolResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"call_id":%q,"success":false,"error":"unserializable result"}`, r.CallID)
	}
	return string(data)
}

// Summary is a short, single-line description for the audit log.
func (r ToolResult) Summary() string {
	if !r.Success {
		kind := string(r.ErrorKind)
		if r.Reason != "" {
			kind += "/" + r.Reason
		}
		return clip(kind+": "+r.Error, 256)
	}
	if r.Output == nil {
		return "ok"
	}
	var preview string
	if s, ok := r.Output.(string); ok {
		preview = s
	} else if data, err := json.Marshal(r.Output); err == nil {
		preview = string(data)
	} else {
		preview = fmt.Sprintf("%v", r.Output)
	}
	return clip("ok: "+strings.Join(strings.Fields(preview), " "), 256)
}

// AuditSink receives exactly one record per dispatch.
type AuditSink interface {
	Append(ctx context.Context, rec audit.Record)
}

// ToolExecutor is the dispatch engine. It is the only path by which a tool
// call reaches an operation.
type ToolExecutor struct {
	catalog   *Catalog
	evaluator *PermissionEvaluator
	broker    *ConfirmationBroker
	sink      AuditSink
	redactor  *logger.Redactor
	timeout   time.Duration
	maxOutput int
	logger    zerolog.Logger
}

// Option configures a ToolExecutor.
type Option func(*ToolExecutor)

// WithEvaluator sets the permission evaluator.
func WithEvaluator(e *PermissionEvaluator) Option {
	return func(te *ToolExecutor) { te.evaluator = e }
}

// WithBroker sets the confirmation broker.
func WithBroker(b *ConfirmationBroker) Option {
	return func(te *ToolExecutor) { te.broker = b }
}

// WithAuditSink sets where dispatch records go.
func WithAuditSink(s AuditSink) Option {
	return func(te *ToolExecutor) { te.sink = s }
}

// WithRedactor sets the redactor applied to audited arguments.
func WithRedactor(r *logger.Redactor) Option {
	return func(te *ToolExecutor) { te.redactor = r }
}

// WithTimeout sets the per-call execution window.
func WithTimeout(d time.Duration) Option {
	return func(te *ToolExecutor) {
		if d > 0 {
			te.timeout = d
		}
	}
}

// WithMaxOutput sets the output truncation threshold in bytes.
func WithMaxOutput(n int) Option {
	return func(te *ToolExecutor) {
		if n > 0 {
			te.maxOutput = n
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(te *ToolExecutor) { te.logger = l }
}

// New creates a ToolExecutor over catalog.
func New(catalog *Catalog, opts ...Option) *ToolExecutor {
	te := &ToolExecutor{
		catalog:   catalog,
		timeout:   DefaultToolTimeout,
		maxOutput: DefaultMaxOutput,
		logger:    log.With().Str("component", "toolexecutor").Logger(),
	}
	for _, opt := range opts {
		opt(te)
	}
	if te.evaluator == nil {
		te.evaluator = NewPermissionEvaluator(nil)
	}
	if te.broker == nil {
		te.broker = NewConfirmationBroker(nil, DefaultConfirmationTimeout)
	}
	if te.sink == nil {
		te.sink = audit.NewLog(audit.NewMemoryStore())
	}

	te.logger.Info().Int("tools", catalog.Len()).Msg("Tool executor initialized")

	return te
}

// Catalog returns the catalog the executor dispatches against.
func (te *ToolExecutor) Catalog() *Catalog {
	return te.catalog
}

// Broker returns the confirmation broker.
func (te *ToolExecutor) Broker() *ConfirmationBroker {
	return te.broker
}

// Execute dispatches call. The steps run in a fixed order and stop at the
// first failure: lookup, schema validation, protected resources, tier,
// confirmation, invocation. An audit record is written on every path before
// Execute returns.
func (te *ToolExecutor) Execute(ctx context.Context, cc CallContext, call ToolCall) ToolResult {
	start := time.Now()

	ctx = tracing.WithCallID(ctx, call.ID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "tool.dispatch",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
		attribute.String("session.id", cc.SessionID),
		attribute.String("session.tier", cc.Tier.String()),
	)
	defer span.End()

	result, decision, def := te.dispatch(ctx, cc, call)

	duration := time.Since(start)
	result.CallID = call.ID
	result.Tool = call.Name
	result.DurationMs = duration.Milliseconds()

	te.record(ctx, cc, call, def, decision, result)

	metricTool := call.Name
	if def == nil {
		metricTool = "unknown"
	}
	observability.RecordToolDispatch(metricTool, string(decision), duration)

	span.SetAttributes(attribute.String("tool.decision", string(decision)))
	if !result.Success {
		span.SetStatus(codes.Error, string(result.ErrorKind))
	}

	return result
}

// Skip records call as cancelled without dispatching it. The turn uses it for
// the calls of a batch left over after cancellation.
func (te *ToolExecutor) Skip(ctx context.Context, cc CallContext, call ToolCall) ToolResult {
	def, err := te.catalog.Lookup(call.Name)
	if err != nil {
		def = nil
	}

	result := failure(ErrorKindCancelled, "", "cancelled before dispatch")
	result.CallID = call.ID
	result.Tool = call.Name

	te.record(ctx, cc, call, def, audit.DecisionCancelled, result)

	metricTool := call.Name
	if def == nil {
		metricTool = "unknown"
	}
	observability.RecordToolDispatch(metricTool, string(audit.DecisionCancelled), 0)
	return result
}

func (te *ToolExecutor) dispatch(ctx context.Context, cc CallContext, call ToolCall) (ToolResult, audit.Decision, *ToolDefinition) {
	lg := tracing.PropagateToLogger(ctx, te.logger)

	def, err := te.catalog.Lookup(call.Name)
	if err != nil {
		lg.Warn().Str("tool", call.Name).Msg("Tool not found")
		return failure(ErrorKindNotFound, "", fmt.Sprintf("unknown tool %q", call.Name)), audit.DecisionError, nil
	}

	if call.ArgumentError != "" {
		lg.Warn().Str("tool", def.Name).Str("error", call.ArgumentError).Msg("Malformed tool arguments")
		return failure(ErrorKindSchema, "", "arguments are not a valid JSON object: "+call.ArgumentError), audit.DecisionError, def
	}

	if err := te.catalog.ValidateArguments(def, call.Arguments); err != nil {
		lg.Warn().Str("tool", def.Name).Err(err).Msg("Parameter validation failed")
		res := failure(ErrorKindSchema, "", err.Error())
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			res.Parameters = schemaErr.Parameters
		}
		return res, audit.DecisionError, def
	}

	eval := te.evaluator.Evaluate(ctx, cc.Tier, def, call.Arguments)
	if !eval.Allowed {
		return failure(ErrorKindPermissionDenied, eval.ViolationType, eval.Reason), audit.DecisionDeniedPermission, def
	}

	if te.broker.RequiresConfirmation(def) {
		req := ConfirmationRequest{
			CallID:    call.ID,
			SessionID: cc.SessionID,
			ToolName:  def.Name,
			RiskLevel: def.RiskLevel,
			Arguments: audit.RedactArguments(call.Arguments, def.SensitiveParameters(), te.redactor),
			Summary:   describeCall(def, call.Arguments),
		}

		decision, err := te.broker.Request(ctx, req, cc.OnConfirmation)
		switch {
		case errors.Is(err, ErrCancelled):
			return failure(ErrorKindCancelled, "", "cancelled while awaiting confirmation"), audit.DecisionCancelled, def
		case errors.Is(err, ErrConfirmationTimeout):
			return failure(ErrorKindConfirmationTimeout, "", decision.Reason), audit.DecisionDeniedConfirmation, def
		case err != nil:
			return failure(ErrorKindConfirmationDenied, "", err.Error()), audit.DecisionDeniedConfirmation, def
		case !decision.Approved:
			msg := "user declined"
			if decision.Reason != "" {
				msg = decision.Reason
			}
			return failure(ErrorKindConfirmationDenied, "", msg), audit.DecisionDeniedConfirmation, def
		}
	}

	if ctx.Err() != nil {
		return failure(ErrorKindCancelled, "", "cancelled before execution"), audit.DecisionCancelled, def
	}

	res, decision := te.invoke(ctx, cc, def, withDefaults(def, call.Arguments))
	return res, decision, def
}

func (te *ToolExecutor) invoke(ctx context.Context, cc CallContext, def *ToolDefinition, args map[string]interface{}) (ToolResult, audit.Decision) {
	lg := tracing.PropagateToLogger(ctx, te.logger)
	lg.Debug().Str("tool", def.Name).Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()
	opCtx := ContextWithCallContext(timeoutCtx, cc)

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("operation panicked: %v", r)
			}
		}()
		out, err := def.Operation.Invoke(opCtx, args)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- out
		}
	}()

	select {
	case out := <-resultChan:
		output, truncated := te.truncateOutput(out)
		lg.Debug().
			Str("tool", def.Name).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return ToolResult{Success: true, Output: output, Truncated: truncated}, audit.DecisionPermitted

	case err := <-errChan:
		switch {
		case ctx.Err() != nil:
			return failure(ErrorKindCancelled, "", "cancelled during execution"), audit.DecisionCancelled
		case timeoutCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded):
			return failure(ErrorKindExecution, ReasonTimeout, fmt.Sprintf("tool execution timeout after %v", te.timeout)), audit.DecisionError
		}
		lg.Error().Str("tool", def.Name).Err(err).Msg("Tool execution failed")
		return failure(ErrorKindExecution, ReasonBackendFailure, err.Error()), audit.DecisionError

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			lg.Warn().Str("tool", def.Name).Msg("Tool execution cancelled")
			return failure(ErrorKindCancelled, "", "cancelled during execution"), audit.DecisionCancelled
		}
		lg.Error().Str("tool", def.Name).Dur("timeout", te.timeout).Msg("Tool execution timeout")
		return failure(ErrorKindExecution, ReasonTimeout, fmt.Sprintf("tool execution timeout after %v", te.timeout)), audit.DecisionError
	}
}

func (te *ToolExecutor) record(ctx context.Context, cc CallContext, call ToolCall, def *ToolDefinition, decision audit.Decision, result ToolResult) {
	var sensitive []string
	if def != nil {
		sensitive = def.SensitiveParameters()
	}

	te.sink.Append(ctx, audit.Record{
		SessionID:  cc.SessionID,
		CallID:     call.ID,
		ToolName:   call.Name,
		Arguments:  audit.RedactArguments(call.Arguments, sensitive, te.redactor),
		Decision:   decision,
		ErrorKind:  string(result.ErrorKind),
		Summary:    result.Summary(),
		DurationMs: result.DurationMs,
	})
}

// truncateOutput truncates output if it exceeds the size limit
func (te *ToolExecutor) truncateOutput(output interface{}) (interface{}, bool) {
	var str string
	switch v := output.(type) {
	case nil:
		return nil, false
	case string:
		str = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(data)
		}
	}

	if len(str) <= te.maxOutput {
		return output, false
	}

	te.logger.Warn().
		Int("original", len(str)).
		Int("truncated", te.maxOutput).
		Msg("Output truncated")

	return str[:te.maxOutput] + "\n... [output truncated]", true
}

func failure(kind ErrorKind, reason, msg string) ToolResult {
	return ToolResult{
		Success:   false,
		ErrorKind: kind,
		Reason:    reason,
		Error:     msg,
	}
}

func withDefaults(def *ToolDefinition, args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args)+len(def.Parameters))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range def.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// describeCall renders "tool key=value ..." for confirmation prompts.
func describeCall(def *ToolDefinition, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hidden := make(map[string]bool)
	for _, name := range def.SensitiveParameters() {
		hidden[name] = true
	}

	var b strings.Builder
	b.WriteString(def.Name)
	for _, k := range keys {
		v := fmt.Sprintf("%v", args[k])
		if hidden[k] {
			v = "[REDACTED]"
		}
		fmt.Fprintf(&b, " %s=%s", k, clip(v, 80))
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
