package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/harun/winagent/internal/config"
	"github.com/harun/winagent/pkg/toolexecutor"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	configureProvider       string
	configureModel          string
	configureBaseURL        string
	configureAPIKey         string
	configureTier           string
	configurePort           int
	configureNonInteractive bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up winagent.
The wizard asks for the model backend, the default permission tier and the
gateway port. Flags preset the answers; with --non-interactive, or when stdin
is not a terminal, the flags are written without asking.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "", "model provider (anthropic, openai, ollama)")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model name")
	configureCmd.Flags().StringVar(&configureBaseURL, "base-url", "", "model API base URL")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "model API key")
	configureCmd.Flags().StringVar(&configureTier, "tier", "", "default session permission tier")
	configureCmd.Flags().IntVar(&configurePort, "port", 0, "gateway port")
	configureCmd.Flags().BoolVar(&configureNonInteractive, "non-interactive", false, "write flags without prompting")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := applyConfigureFlags(cmd, cfg); err != nil {
		return err
	}

	if !configureNonInteractive && isatty.IsTerminal(os.Stdin.Fd()) {
		if err := runWizard(cfg); err != nil {
			return fmt.Errorf("configuration failed: %w", err)
		}
	}

	if cfg.Gateway.SharedSecret == "" {
		secret, err := gonanoid.New(32)
		if err != nil {
			return fmt.Errorf("failed to generate shared secret: %w", err)
		}
		cfg.Gateway.SharedSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	printConfigured(cmd.OutOrStdout(), loader.GetConfigPath())
	return nil
}

func applyConfigureFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.LLM.Provider = configureProvider
	}
	if flags.Changed("model") {
		cfg.LLM.Model = configureModel
	}
	if flags.Changed("base-url") {
		cfg.LLM.BaseURL = configureBaseURL
	}
	if flags.Changed("api-key") {
		cfg.LLM.APIKey = configureAPIKey
	}
	if flags.Changed("tier") {
		tier, err := toolexecutor.ParseTier(configureTier)
		if err != nil {
			return err
		}
		cfg.Security.DefaultTier = tier.String()
	}
	if flags.Changed("port") {
		cfg.Gateway.Port = configurePort
	}
	return nil
}

func runWizard(cfg *config.Config) error {
	validator := config.NewValidator()
	port := strconv.Itoa(cfg.Gateway.Port)

	tierOptions := make([]huh.Option[string], 0, len(toolexecutor.AllTiers()))
	for _, t := range toolexecutor.AllTiers() {
		tierOptions = append(tierOptions, huh.NewOption(t.String(), t.String()))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Model provider").
				Options(huh.NewOptions("anthropic", "openai", "ollama")...).
				Value(&cfg.LLM.Provider),
			huh.NewInput().
				Title("Model").
				Value(&cfg.LLM.Model).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("model is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Base URL").
				Description("Leave empty for the provider default.").
				Value(&cfg.LLM.BaseURL).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					return validator.ValidateBaseURL(s)
				}),
			huh.NewInput().
				Title("API key").
				Description("Not needed for ollama.").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.LLM.APIKey),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Default session tier").
				Options(tierOptions...).
				Value(&cfg.Security.DefaultTier),
			huh.NewInput().
				Title("Gateway port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil {
						return fmt.Errorf("port must be a number")
					}
					return validator.ValidatePort(n)
				}),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	cfg.Gateway.Port = n
	return nil
}

func printConfigured(w io.Writer, path string) {
	fmt.Fprintln(w, styles.title.Render("Configuration saved"))
	fmt.Fprintf(w, "  %s\n\n", path)
	fmt.Fprintln(w, "Start a terminal session with: winagent chat")
	fmt.Fprintln(w, "Start the service with:        winagent start")
}
