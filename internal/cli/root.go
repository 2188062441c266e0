package cli

import (
	"fmt"

	"github.com/harun/winagent/internal/config"
	"github.com/harun/winagent/internal/daemon"
	"github.com/harun/winagent/internal/logger"
	"github.com/harun/winagent/pkg/hostops"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile         string
	logLevel        string
	systemClipboard bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "winagent",
	Short: "winagent - Windows desktop agent orchestration",
	Long: `winagent is an agent orchestration core for the Windows desktop.
It turns natural-language requests into tool calls against the file system,
processes and desktop, gated by permission tiers, a protected denylist and
user confirmation, and records every decision in an audit log.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.winagent/winagent.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig reads the config named by --config and applies --log-level.
// Commands that never reach the model backend skip validation.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to stderr.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// daemonOptions applies the host flags shared by chat and start.
func daemonOptions() ([]daemon.Option, error) {
	opts := []daemon.Option{daemon.WithVersion(version)}
	if systemClipboard {
		clip, err := hostops.NewSystemClipboard()
		if err != nil {
			return nil, err
		}
		opts = append(opts, daemon.WithHostOptions(hostops.WithClipboard(clip)))
	}
	return opts, nil
}
