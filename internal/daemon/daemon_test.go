package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/winagent/internal/config"
	"github.com/harun/winagent/internal/logger"
	"github.com/harun/winagent/pkg/agent"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct{ reply string }

func (p *stubProvider) Provider() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, request agent.LLMRequest) (*agent.LLMResponse, error) {
	return &agent.LLMResponse{Content: p.reply}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Audit.DBPath = filepath.Join(tmpDir, "audit.db")
	cfg.Gateway.Port = 0
	cfg.Gateway.SharedSecret = "test-secret"
	return cfg
}

// createTestDaemon creates a daemon backed by a canned model reply.
func createTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	daemon, err := New(cfg, log, WithProvider(&stubProvider{reply: "done"}))
	require.NoError(t, err)
	t.Cleanup(daemon.Close)

	return daemon
}

func TestNew(t *testing.T) {
	daemon := createTestDaemon(t, testConfig(t))

	assert.NotNil(t, daemon.queue)
	assert.NotNil(t, daemon.sessionMgr)
	assert.NotNil(t, daemon.toolExecutor)
	assert.NotNil(t, daemon.orchestrator)
	assert.NotNil(t, daemon.eventLoop)
	assert.NotNil(t, daemon.lifecycle)
	assert.Nil(t, daemon.gatewayServer)
	assert.Equal(t, "stub", daemon.GetOrchestrator().Provider())
}

func TestNew_AuditPathFallsBackToDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.DBPath = ""

	createTestDaemon(t, cfg)

	_, err := os.Stat(filepath.Join(cfg.DataDir, "audit.db"))
	assert.NoError(t, err)
}

func TestNew_RejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "nope"

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log)
	assert.Error(t, err)
}

func TestDaemon_ConsoleTurnWithoutStart(t *testing.T) {
	daemon := createTestDaemon(t, testConfig(t))
	orch := daemon.GetOrchestrator()

	id, err := orch.CreateSession(context.Background(), toolexecutor.TierOperator)
	require.NoError(t, err)

	events, err := orch.SendMessage(context.Background(), id, "hello")
	require.NoError(t, err)

	_, outcome := agent.Collect(events)
	assert.True(t, outcome.Completed)
	assert.Equal(t, "done", outcome.Text)
}

func TestDaemonStartStop(t *testing.T) {
	daemon := createTestDaemon(t, testConfig(t))

	require.NoError(t, daemon.Start())

	status := daemon.Status()
	assert.True(t, status.Running)
	require.NotEmpty(t, status.Addr)

	resp, err := http.Get("http://" + status.Addr + "/healthz")
	require.NoError(t, err)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "stub", health["provider"])

	_, err = os.Stat(PIDFilePath(daemon.GetConfig().DataDir))
	assert.NoError(t, err)

	require.NoError(t, daemon.Stop())

	status = daemon.Status()
	assert.False(t, status.Running)

	_, err = os.Stat(PIDFilePath(daemon.GetConfig().DataDir))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, daemon.Stop())
	assert.Error(t, daemon.Start())
}

func TestDaemonStart_RequiresSharedSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.SharedSecret = ""
	daemon := createTestDaemon(t, cfg)

	assert.Error(t, daemon.Start())
	assert.False(t, daemon.Status().Running)
}

func TestDaemonStatus(t *testing.T) {
	daemon := createTestDaemon(t, testConfig(t))

	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	require.NoError(t, daemon.Start())
	defer daemon.Stop()

	time.Sleep(10 * time.Millisecond)
	status = daemon.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestDaemonGetters(t *testing.T) {
	daemon := createTestDaemon(t, testConfig(t))

	assert.NotNil(t, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
	assert.NotNil(t, daemon.GetSessionManager())
	assert.NotNil(t, daemon.GetHost())
}
