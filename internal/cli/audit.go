package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/harun/winagent/pkg/audit"
	"github.com/spf13/cobra"
)

var (
	auditSession  string
	auditTool     string
	auditDecision string
	auditSince    time.Duration
	auditLimit    int
	auditJSON     bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
	Long: `Print audit records, oldest first. Every tool call the agent attempted is
recorded with its decision: permitted, denied_permission, denied_confirmation,
error or cancelled.`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditSession, "session", "", "only records of this session")
	auditCmd.Flags().StringVar(&auditTool, "tool", "", "only records of this tool")
	auditCmd.Flags().StringVar(&auditDecision, "decision", "", "only records with this decision")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "only records newer than this, e.g. 1h")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum number of records")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print one JSON object per line")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	filter, err := auditFilterFromFlags(time.Now())
	if err != nil {
		return err
	}

	dbPath := cfg.Audit.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	store, err := audit.OpenSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}
	log := audit.NewLog(store)
	defer log.Close()

	records, err := log.Collect(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}
	return writeAuditRecords(cmd.OutOrStdout(), records, auditJSON)
}

func auditFilterFromFlags(now time.Time) (audit.Filter, error) {
	f := audit.Filter{
		SessionID: auditSession,
		ToolName:  auditTool,
		Limit:     auditLimit,
	}
	if auditDecision != "" {
		d, err := audit.ParseDecision(auditDecision)
		if err != nil {
			return audit.Filter{}, err
		}
		f.Decision = d
	}
	if auditSince < 0 {
		return audit.Filter{}, fmt.Errorf("--since must be positive")
	}
	if auditSince > 0 {
		f.Since = now.Add(-auditSince)
	}
	if auditLimit < 0 {
		return audit.Filter{}, fmt.Errorf("--limit must not be negative")
	}
	return f, nil
}

func writeAuditRecords(w io.Writer, records []audit.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No audit records")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "SESSION", "TOOL", "DECISION", "ERROR", "DURATION", "SUMMARY")
	for _, rec := range records {
		t.Row(
			humanize.Time(rec.Timestamp),
			rec.SessionID,
			rec.ToolName,
			string(rec.Decision),
			rec.ErrorKind,
			strconv.FormatInt(rec.DurationMs, 10)+"ms",
			rec.Summary,
		)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
