package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/harun/winagent/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Long:  `Show whether the winagent service is running, its uptime and what its gateway reports.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// health is the /healthz body.
type health struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Clients  int    `json:"clients"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// The PID file is written once at startup.
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s (started %s)\n",
			formatDuration(time.Since(fileInfo.ModTime())), humanize.Time(fileInfo.ModTime()))
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	h, err := probeHealth(addr, 2*time.Second)
	if err != nil {
		fmt.Fprintf(out, "Gateway: unreachable at %s (%v)\n", addr, err)
		return nil
	}
	fmt.Fprintf(out, "Gateway: %s at %s\n", h.Status, addr)
	fmt.Fprintf(out, "Provider: %s\n", h.Provider)
	fmt.Fprintf(out, "Clients: %d\n", h.Clients)
	return nil
}

func probeHealth(addr string, timeout time.Duration) (health, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		return health{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return health{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var h health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return health{}, fmt.Errorf("invalid health response: %w", err)
	}
	return h, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
