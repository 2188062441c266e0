package toolexecutor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// CLIConfirmationPrompter asks for confirmations on a terminal. Input lines
// arrive on a channel so the prompt can share stdin with the chat loop.
type CLIConfirmationPrompter struct {
	lines  <-chan string
	writer io.Writer
}

// NewCLIConfirmationPrompter creates a prompter reading answers from lines.
func NewCLIConfirmationPrompter(lines <-chan string, writer io.Writer) *CLIConfirmationPrompter {
	return &CLIConfirmationPrompter{
		lines:  lines,
		writer: writer,
	}
}

// Prompt displays req and waits for y/N. Anything other than yes denies.
func (c *CLIConfirmationPrompter) Prompt(ctx context.Context, req ConfirmationRequest) ConfirmationDecision {
	c.displayRequest(req)

	var expiry <-chan time.Time
	if !req.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(req.ExpiresAt))
		defer timer.Stop()
		expiry = timer.C
	}

	select {
	case line, ok := <-c.lines:
		if !ok {
			c.displayDenied()
			return ConfirmationDecision{Approved: false, Reason: "no input provided"}
		}
		return c.parseAnswer(req, line)

	case <-expiry:
		c.displayTimeout()
		return ConfirmationDecision{Approved: false, Reason: "timeout"}

	case <-ctx.Done():
		c.displayTimeout()
		return ConfirmationDecision{Approved: false, Reason: "cancelled"}
	}
}

func (c *CLIConfirmationPrompter) parseAnswer(req ConfirmationRequest, line string) ConfirmationDecision {
	input := strings.TrimSpace(strings.ToLower(line))

	switch input {
	case "y", "yes":
		c.displayApproved()
		log.Info().
			Str("tool", req.ToolName).
			Str("call_id", req.CallID).
			Msg("Tool call approved via CLI")
		return ConfirmationDecision{Approved: true, Reason: "approved by user"}

	case "n", "no", "":
		c.displayDenied()
		log.Info().
			Str("tool", req.ToolName).
			Str("call_id", req.CallID).
			Msg("Tool call denied via CLI")
		return ConfirmationDecision{Approved: false, Reason: "denied by user"}

	default:
		c.displayInvalidInput(input)
		log.Warn().
			Str("tool", req.ToolName).
			Str("input", input).
			Msg("Invalid input for confirmation")
		return ConfirmationDecision{Approved: false, Reason: fmt.Sprintf("invalid input: %s", input)}
	}
}

func (c *CLIConfirmationPrompter) displayRequest(req ConfirmationRequest) {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "╔════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.writer, "║              🔐 CONFIRMATION REQUIRED                          ║")
	fmt.Fprintln(c.writer, "╚════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.writer, "")
	fmt.Fprintf(c.writer, "  Tool:       %s\n", req.ToolName)
	fmt.Fprintf(c.writer, "  Risk:       %s\n", req.RiskLevel)

	if req.Summary != "" {
		fmt.Fprintf(c.writer, "  Action:     %s\n", req.Summary)
	}

	if len(req.Arguments) > 0 {
		keys := make([]string, 0, len(req.Arguments))
		for k := range req.Arguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(c.writer, "  Arguments:")
		for _, k := range keys {
			fmt.Fprintf(c.writer, "    %s: %v\n", k, req.Arguments[k])
		}
	}

	if !req.ExpiresAt.IsZero() {
		fmt.Fprintf(c.writer, "  Expires in: %v\n", time.Until(req.ExpiresAt).Round(time.Second))
	}

	fmt.Fprintln(c.writer, "")
	fmt.Fprint(c.writer, "  Proceed? [y/N]: ")
}

func (c *CLIConfirmationPrompter) displayApproved() {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  ✅ APPROVED")
	fmt.Fprintln(c.writer, "")
}

func (c *CLIConfirmationPrompter) displayDenied() {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  ❌ DENIED")
	fmt.Fprintln(c.writer, "")
}

func (c *CLIConfirmationPrompter) displayInvalidInput(input string) {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintf(c.writer, "  ⚠️  Invalid input: %s (defaulting to DENY)\n", input)
	fmt.Fprintln(c.writer, "")
}

func (c *CLIConfirmationPrompter) displayTimeout() {
	fmt.Fprintln(c.writer, "")
	fmt.Fprintln(c.writer, "  ⏱️  Confirmation TIMED OUT")
	fmt.Fprintln(c.writer, "")
}
