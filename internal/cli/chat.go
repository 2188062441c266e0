package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/harun/winagent/internal/daemon"
	"github.com/harun/winagent/pkg/agent"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var chatTier string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent in the terminal",
	Long: `Open an interactive session with the agent.
Tool calls that need confirmation are asked here. Ctrl-C cancels the running
turn; /quit ends the session.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatTier, "tier", "", "session permission tier (default from config)")
	chatCmd.Flags().BoolVar(&systemClipboard, "system-clipboard", false, "use the system clipboard instead of the in-memory one")
	rootCmd.AddCommand(chatCmd)
}

// chatBackend is the part of the orchestrator the console drives.
type chatBackend interface {
	CreateSession(ctx context.Context, tier toolexecutor.PermissionTier) (string, error)
	SendMessage(ctx context.Context, sessionID, text string) (<-chan agent.Event, error)
	RespondToConfirmation(sessionID, callID string, approved bool, reason string) error
	SetTier(ctx context.Context, sessionID string, tier toolexecutor.PermissionTier) error
	Cancel(sessionID string) error
	CloseSession(sessionID string) error
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	tier, err := cfg.DefaultTier()
	if err != nil {
		return err
	}
	if chatTier != "" {
		if tier, err = toolexecutor.ParseTier(chatTier); err != nil {
			return err
		}
	}

	// The terminal belongs to the conversation; logs go to the log file.
	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	opts, err := daemonOptions()
	if err != nil {
		return err
	}
	d, err := daemon.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	c := newConsole(d.GetOrchestrator(), readLines(os.Stdin), cmd.OutOrStdout())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go func() {
		for {
			select {
			case <-sigCh:
				if !c.interrupt() {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return c.run(ctx, tier)
}

// readLines feeds r line by line. The channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// console is one interactive session. Chat input and confirmation answers
// share the same line channel.
type console struct {
	backend  chatBackend
	lines    <-chan string
	out      io.Writer
	prompter *toolexecutor.CLIConfirmationPrompter

	mu         sync.Mutex
	sessionID  string
	cancelTurn context.CancelFunc
}

func newConsole(backend chatBackend, lines <-chan string, out io.Writer) *console {
	return &console{
		backend:  backend,
		lines:    lines,
		out:      out,
		prompter: toolexecutor.NewCLIConfirmationPrompter(lines, out),
	}
}

func (c *console) run(ctx context.Context, tier toolexecutor.PermissionTier) error {
	id, err := c.backend.CreateSession(ctx, tier)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	defer func() { _ = c.backend.CloseSession(id) }()

	fmt.Fprintf(c.out, "Session %s (tier %s). Type /help for commands.\n", id, tier)

	for {
		fmt.Fprint(c.out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case l, ok := <-c.lines:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if c.command(ctx, line) {
				return nil
			}
			continue
		}

		c.turn(ctx, line)
	}
}

// command runs a slash command and reports whether the console should exit.
func (c *console) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/tier":
		if len(fields) != 2 {
			fmt.Fprintln(c.out, "usage: /tier observer|operator|administrator|system")
			return false
		}
		tier, err := toolexecutor.ParseTier(fields[1])
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		if err := c.backend.SetTier(ctx, c.sessionID, tier); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(c.out, "Tier set to %s\n", tier)

	case "/help":
		fmt.Fprintln(c.out, "  /tier <name>  change the session permission tier")
		fmt.Fprintln(c.out, "  /quit         end the session")
		fmt.Fprintln(c.out, "  Ctrl-C        cancel the running turn")

	default:
		fmt.Fprintf(c.out, "unknown command %s\n", fields[0])
	}
	return false
}

func (c *console) turn(ctx context.Context, text string) {
	events, err := c.backend.SendMessage(ctx, c.sessionID, text)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.setTurn(cancel)
	defer func() {
		c.setTurn(nil)
		cancel()
	}()

	for ev := range events {
		c.render(turnCtx, ev)
	}
}

func (c *console) render(ctx context.Context, ev agent.Event) {
	switch ev.Type {
	case agent.EventAssistantText:
		fmt.Fprintln(c.out, ev.Text)

	case agent.EventToolStarted:
		if ev.Call != nil {
			fmt.Fprintln(c.out, styles.muted.Render("  -> "+ev.Call.Name))
		}

	case agent.EventToolResult:
		if ev.Result == nil {
			return
		}
		if ev.Result.Success {
			fmt.Fprintln(c.out, styles.ok.Render(fmt.Sprintf("  <- %s ok (%dms)", ev.Result.Tool, ev.Result.DurationMs)))
		} else {
			fmt.Fprintln(c.out, styles.failed.Render(fmt.Sprintf("  <- %s %s: %s", ev.Result.Tool, ev.Result.ErrorKind, resultReason(*ev.Result))))
		}

	case agent.EventConfirmationNeeded:
		if ev.Confirmation == nil {
			return
		}
		req := *ev.Confirmation
		decision := c.prompter.Prompt(ctx, req)
		if err := c.backend.RespondToConfirmation(req.SessionID, req.CallID, decision.Approved, decision.Reason); err != nil {
			// The request may have expired while the prompt was open.
			fmt.Fprintf(c.out, "  confirmation not delivered: %v\n", err)
		}

	case agent.EventTurnAborted:
		fmt.Fprintln(c.out, styles.failed.Render(fmt.Sprintf("[%s] %s", ev.ErrorKind, ev.Text)))
	}
}

// interrupt cancels the running turn. It reports false when no turn runs,
// which the caller takes as a request to leave.
func (c *console) interrupt() bool {
	c.mu.Lock()
	cancel, id := c.cancelTurn, c.sessionID
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	fmt.Fprintln(c.out, "\ncancelling...")
	// Cancelling the turn context also abandons an open confirmation prompt.
	cancel()
	_ = c.backend.Cancel(id)
	return true
}

func (c *console) setTurn(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelTurn = cancel
	c.mu.Unlock()
}

func resultReason(r toolexecutor.ToolResult) string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Error
}
