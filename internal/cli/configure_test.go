package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/harun/winagent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		configureCmd := cmd.Commands()

		found := false
		for _, c := range configureCmd {
			if c.Name() == "configure" {
				found = true
				break
			}
		}
		assert.True(t, found, "configure command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"configure", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "interactive configuration wizard")
	})
}

func TestConfigure_NonInteractive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "winagent.json")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{
		"configure", "--config", path, "--non-interactive",
		"--provider", "ollama", "--model", "qwen3", "--tier", "Administrator", "--port", "9100",
	})
	output := &bytes.Buffer{}
	cmd.SetOut(output)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, output.String(), "Configuration saved")
	assert.Contains(t, output.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "qwen3", cfg.LLM.Model)
	assert.Equal(t, "administrator", cfg.Security.DefaultTier)
	assert.Equal(t, 9100, cfg.Gateway.Port)
	assert.Len(t, cfg.Gateway.SharedSecret, 32, "a shared secret is generated")
}

func TestConfigure_RejectsBadTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "winagent.json")

	cmd := GetRootCmd()
	cmd.SetArgs([]string{"configure", "--config", path, "--non-interactive", "--tier", "root"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}
