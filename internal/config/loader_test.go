package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")
		t.Setenv("WINAGENT_DATA_DIR", tmpDir)

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "ollama", cfg.LLM.Provider)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "audit.db"), cfg.Audit.DBPath)
		assert.Equal(t, filepath.Join(tmpDir, "winagent.log"), cfg.Logging.File)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"data_dir": "` + filepath.ToSlash(tmpDir) + `",
			"llm": {"provider": "anthropic", "model": "claude-sonnet-4", "api_key": "sk-ant-file"},
			"security": {"default_tier": "administrator", "protected_paths": ["D:\\Vault"]},
			"agent": {"max_iterations": 5}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))
		for _, key := range []string{"WINAGENT_LLM_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
			t.Setenv(key, "")
		}

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, "sk-ant-file", cfg.LLM.APIKey)
		assert.Equal(t, "administrator", cfg.Security.DefaultTier)
		assert.Equal(t, []string{`D:\Vault`}, cfg.Security.ProtectedPaths)
		assert.Equal(t, 5, cfg.Agent.MaxIterations)
		// untouched sections keep defaults
		assert.Equal(t, 30, cfg.Security.ToolTimeout)
		assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"llm": {"model": "llama4"}, "data_dir": "`+filepath.ToSlash(tmpDir)+`"}`), 0644))

		t.Setenv("WINAGENT_LLM_MODEL", "qwen3")
		t.Setenv("WINAGENT_LLM_API_KEY", "sk-env")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "qwen3", cfg.LLM.Model)
		assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	})

	t.Run("invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "broken.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"llm":`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSaveThenLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sub", "winagent.json")

	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Agent.MaxIterations = 3
	cfg.Security.AlwaysConfirm = []string{"file_delete"}

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Agent.MaxIterations)
	assert.Equal(t, []string{"file_delete"}, loaded.Security.AlwaysConfirm)
}
