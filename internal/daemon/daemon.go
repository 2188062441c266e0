package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/winagent/internal/config"
	"github.com/harun/winagent/internal/logger"
	"github.com/harun/winagent/internal/observability"
	"github.com/harun/winagent/internal/tracing"
	"github.com/harun/winagent/pkg/agent"
	"github.com/harun/winagent/pkg/audit"
	"github.com/harun/winagent/pkg/commandqueue"
	"github.com/harun/winagent/pkg/gateway"
	"github.com/harun/winagent/pkg/hostops"
	"github.com/harun/winagent/pkg/session"
	"github.com/harun/winagent/pkg/toolexecutor"
)

// Daemon owns the orchestrator and everything it is built from. An
// interactive console uses it without Start; the service mode starts the
// gateway, the session reaper and the maintenance loop on top.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	security     *observability.SecurityLogger
	auditLog     *audit.Log
	auditMirror  io.Closer
	host         *hostops.Host
	queue        *commandqueue.CommandQueue
	sessionMgr   *session.Manager
	toolExecutor *toolexecutor.ToolExecutor
	orchestrator *agent.Orchestrator

	// Services
	gatewayServer *gateway.Server
	reaper        *session.Reaper

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	provider    agent.LLMProvider
	hostOptions []hostops.Option
	version     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithProvider replaces the model backend built from the LLM config.
func WithProvider(p agent.LLMProvider) Option {
	return func(d *Daemon) { d.provider = p }
}

// WithHostOptions passes options to the host operations layer.
func WithHostOptions(opts ...hostops.Option) Option {
	return func(d *Daemon) { d.hostOptions = append(d.hostOptions, opts...) }
}

// WithVersion sets the build version reported to the tracer provider.
func WithVersion(v string) Option {
	return func(d *Daemon) { d.version = v }
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := tracing.InitOpenTelemetry(tracing.Setup{
		ServiceName: "winagent",
		Version:     d.version,
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
	}

	if err := d.initializeCoreModules(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules builds the orchestrator bottom up: audit trail,
// host operations and catalog, dispatch engine, sessions, model backend.
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	var err error
	d.security, err = observability.OpenSecurityLogger(filepath.Join(cfg.DataDir, "security.log"))
	if err != nil {
		return fmt.Errorf("failed to open security log: %w", err)
	}

	if err := d.openAudit(); err != nil {
		return err
	}

	hostOpts := append([]hostops.Option{hostops.WithLogger(d.logger.Component("hostops"))}, d.hostOptions...)
	d.host = hostops.New(hostOpts...)

	catalog, err := hostops.BuildCatalog(d.host)
	if err != nil {
		return fmt.Errorf("failed to build tool catalog: %w", err)
	}

	policy := toolexecutor.NewProtectedPolicy(cfg.Security.ProtectedPaths, cfg.Security.ProtectedProcesses, d.host)
	d.toolExecutor = toolexecutor.New(catalog,
		toolexecutor.WithEvaluator(toolexecutor.NewPermissionEvaluator(policy)),
		toolexecutor.WithBroker(toolexecutor.NewConfirmationBroker(cfg.Security.AlwaysConfirm, cfg.ConfirmationTimeout())),
		toolexecutor.WithAuditSink(d.auditLog),
		toolexecutor.WithRedactor(d.logger.Redactor()),
		toolexecutor.WithTimeout(cfg.ToolTimeout()),
		toolexecutor.WithLogger(d.logger.Component("toolexecutor")),
	)
	d.logger.Info().Int("tools", catalog.Len()).Msg("Tool executor initialized")

	journal, err := session.NewJournal(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("failed to open session journal: %w", err)
	}
	d.sessionMgr = session.NewManager(session.WithJournal(journal))
	d.queue = commandqueue.New()

	if d.provider == nil {
		factory := &agent.ProviderFactory{}
		d.provider, err = factory.NewProvider(cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to create model provider: %w", err)
		}
	}

	agentLogger := d.logger.Component("agent")
	d.orchestrator, err = agent.NewOrchestrator(agent.Config{
		Sessions:      d.sessionMgr,
		Executor:      d.toolExecutor,
		Provider:      d.provider,
		Queue:         d.queue,
		Audit:         d.auditLog,
		Security:      d.security,
		Logger:        &agentLogger,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxRetries:    cfg.LLM.MaxRetries,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryWindow: cfg.Agent.HistoryWindow,
		SystemPrompt:  cfg.Agent.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return nil
}

// openAudit opens the SQLite audit store and the optional JSONL mirror.
func (d *Daemon) openAudit() error {
	dbPath := d.config.Audit.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(d.config.DataDir, "audit.db")
	}
	store, err := audit.OpenSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}

	opts := []audit.Option{
		audit.WithLogger(d.logger.Component("audit")),
		audit.WithAppendTimeout(d.config.AuditAppendTimeout()),
	}
	if d.config.Audit.File != "" {
		f, err := os.OpenFile(d.config.Audit.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to open audit mirror: %w", err)
		}
		d.auditMirror = f
		opts = append(opts, audit.WithMirror(f))
	}

	d.auditLog = audit.NewLog(store, opts...)
	return nil
}

// initializeServices builds the gateway. It needs a shared secret, which
// the console mode does not.
func (d *Daemon) initializeServices() error {
	tier, err := d.config.DefaultTier()
	if err != nil {
		return err
	}

	d.gatewayServer, err = gateway.NewServer(gateway.Config{
		Host:         d.config.Gateway.Host,
		Port:         d.config.Gateway.Port,
		SharedSecret: d.config.Gateway.SharedSecret,
		DefaultTier:  tier,
		Metrics:      d.config.Gateway.Metrics,
		Orchestrator: d.orchestrator,
		Security:     d.security,
		Logger:       d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}

	d.reaper = session.NewReaper(d.sessionMgr, session.DefaultIdleTimeout)
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("daemon is closed")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting winagent daemon")

	fail := func(err error) error {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	if d.gatewayServer == nil {
		if err := d.initializeServices(); err != nil {
			return fail(err)
		}
	}

	if err := d.lifecycle.Start(); err != nil {
		return fail(fmt.Errorf("failed to start lifecycle manager: %w", err))
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		return fail(fmt.Errorf("failed to start gateway server: %w", err))
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	if err := d.reaper.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start session reaper")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started")
	return nil
}

// Stop stops the daemon service gracefully and releases everything it owns.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping winagent daemon")

	if err := d.gatewayServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.reaper.IsRunning() {
		if err := d.reaper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session reaper")
		}
	}

	d.eventLoop.HandleShutdown()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.Close()
	logger.Info().Msg("Daemon stopped")
	return nil
}

// Close releases the core modules. It is safe to call more than once and is
// all a console session needs.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()

	if d.orchestrator != nil {
		if err := d.orchestrator.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close orchestrator")
		}
	}
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close command queue")
		}
	}
	if d.auditLog != nil {
		if err := d.auditLog.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close audit log")
		}
	}
	if d.auditMirror != nil {
		_ = d.auditMirror.Close()
	}
	if d.security != nil {
		_ = d.security.Close()
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetOrchestrator returns the conversation orchestrator
func (d *Daemon) GetOrchestrator() *agent.Orchestrator {
	return d.orchestrator
}

// GetSessionManager returns the session manager
func (d *Daemon) GetSessionManager() *session.Manager {
	return d.sessionMgr
}

// GetGatewayServer returns the gateway, nil before Start.
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetHost returns the host operations layer.
func (d *Daemon) GetHost() *hostops.Host {
	return d.host
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
}
