package agent

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/openai/openai-go"
)

// EventType names an event streamed to the front end during a turn.
type EventType string

const (
	EventAssistantText      EventType = "assistant_text"
	EventToolStarted        EventType = "tool_started"
	EventToolResult         EventType = "tool_result"
	EventConfirmationNeeded EventType = "confirmation_needed"
	EventTurnCompleted      EventType = "turn_completed"
	EventTurnAborted        EventType = "turn_aborted"
)

// Event is one step of a turn. Only the fields relevant to Type are set.
type Event struct {
	Type         EventType                         `json:"type"`
	SessionID    string                            `json:"session_id"`
	Seq          int                               `json:"seq"`
	Text         string                            `json:"text,omitempty"`
	Call         *toolexecutor.ToolCall            `json:"call,omitempty"`
	Result       *toolexecutor.ToolResult          `json:"result,omitempty"`
	Confirmation *toolexecutor.ConfirmationRequest `json:"confirmation,omitempty"`
	ErrorKind    toolexecutor.ErrorKind            `json:"error_kind,omitempty"`
	Iterations   int                               `json:"iterations,omitempty"`
}

// Terminal reports whether the event ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventTurnCompleted || e.Type == EventTurnAborted
}

// TurnOutcome summarizes a finished turn.
type TurnOutcome struct {
	Completed  bool                      `json:"completed"`
	Text       string                    `json:"text"`
	ErrorKind  toolexecutor.ErrorKind    `json:"error_kind,omitempty"`
	Iterations int                       `json:"iterations"`
	Results    []toolexecutor.ToolResult `json:"results,omitempty"`
}

// Observe folds one event into the outcome.
func (o *TurnOutcome) Observe(ev Event) {
	switch ev.Type {
	case EventToolResult:
		if ev.Result != nil {
			o.Results = append(o.Results, *ev.Result)
		}
	case EventTurnCompleted:
		o.Completed = true
		o.Text = ev.Text
		o.Iterations = ev.Iterations
	case EventTurnAborted:
		o.Text = ev.Text
		o.ErrorKind = ev.ErrorKind
		o.Iterations = ev.Iterations
	}
}

// Collect drains events until the turn ends.
func Collect(events <-chan Event) ([]Event, TurnOutcome) {
	var all []Event
	var out TurnOutcome
	for ev := range events {
		all = append(all, ev)
		out.Observe(ev)
	}
	return all, out
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StatusError is returned by providers for HTTP failures of the backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode != 0 {
		return retryableStatus(statusErr.StatusCode)
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}

	errMsg := strings.ToLower(err.Error())

	// Network errors
	for _, s := range []string{"econnreset", "etimedout", "connection reset", "connection refused", "i/o timeout", "eof"} {
		if strings.Contains(errMsg, s) {
			return true
		}
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	for _, s := range []string{"500", "502", "503", "504"} {
		if strings.Contains(errMsg, s) {
			return true
		}
	}

	return errors.Is(err, context.DeadlineExceeded)
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

var (
	pythonBlockRe  = regexp.MustCompile(`(?s)<\|python_start\|>.*?<\|python_end\|>`)
	jsonFenceRe    = regexp.MustCompile("(?s)```json\\s*\\{[^`]*\\}\\s*```")
	plainFenceRe   = regexp.MustCompile("(?s)```\\s*\\{[^`]*\\}\\s*```")
	inlineToolRe   = regexp.MustCompile(`\{[^{}]*"tool"[^{}]*\}`)
	blankRunRe     = regexp.MustCompile(`\n{3,}`)
	emptyFinalText = "Done!"
)

// stripToolJSON removes tool-call JSON that a model left in its text.
func stripToolJSON(content string) string {
	content = pythonBlockRe.ReplaceAllString(content, "")
	content = jsonFenceRe.ReplaceAllString(content, "")
	content = plainFenceRe.ReplaceAllString(content, "")
	content = inlineToolRe.ReplaceAllString(content, "")
	content = blankRunRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// cleanResponse prepares a final answer. Answers shorter than five
// characters after stripping become "Done!".
func cleanResponse(content string) string {
	content = stripToolJSON(content)
	if len(content) < 5 {
		return emptyFinalText
	}
	return content
}

// textToolCall is the JSON shape some local models emit in place of native
// tool calls.
type textToolCall struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// parseTextToolCalls finds tool-call objects embedded in free text, in order.
// decodeToolArguments parses the JSON argument object of a tool call. A
// malformed payload is returned as an error string for the call to carry, so
// the model gets a schema error back instead of the turn failing.
func decodeToolArguments(raw string) (map[string]interface{}, string) {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args, ""
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{}, err.Error()
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, ""
}

func parseTextToolCalls(content string) []toolexecutor.ToolCall {
	var calls []toolexecutor.ToolCall
	for i := 0; i < len(content); i++ {
		if content[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(content[i:]))
		var obj textToolCall
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		if obj.Tool != "" {
			if obj.Arguments == nil {
				obj.Arguments = map[string]interface{}{}
			}
			calls = append(calls, toolexecutor.ToolCall{Name: obj.Tool, Arguments: obj.Arguments})
		}
		i += int(dec.InputOffset()) - 1
	}
	return calls
}
