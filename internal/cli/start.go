package cli

import (
	"fmt"

	"github.com/harun/winagent/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	startHost string
	startPort int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the winagent service",
	Long: `Start the winagent service in the foreground.
The service serves the session API over WebSocket and HTTP JSON-RPC on the
gateway address, closes idle sessions, and runs until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startHost, "host", "", "gateway listen host (overrides config)")
	startCmd.Flags().IntVar(&startPort, "port", 0, "gateway listen port (overrides config)")
	startCmd.Flags().BoolVar(&systemClipboard, "system-clipboard", false, "use the system clipboard instead of the in-memory one")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Gateway.Host = startHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Gateway.Port = startPort
	}
	if cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is required to start the service (or set WINAGENT_GATEWAY_SHARED_SECRET)")
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg, true)
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
	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "winagent listening on %s\n", d.Status().Addr)
	d.Wait()
	return nil
}

// isRunning reports whether the PID file names a live process.
func isRunning(pidFile string) bool {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return false
	}
	return daemon.ProcessAlive(pid)
}
