// Package hostops implements the host operations behind the tool catalog:
// filesystem, processes and applications, windows, keyboard and mouse input,
// clipboard, and system information.
package hostops

import (
	"fmt"

	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// MaxReadBytes caps file_read.
const MaxReadBytes = 10 * 1024 * 1024

// Host bundles the surfaces operations act on.
type Host struct {
	fs        afero.Fs
	processes ProcessTable
	desktop   Desktop
	clipboard Clipboard
	logger    zerolog.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithFs replaces the operating system filesystem.
func WithFs(fs afero.Fs) Option {
	return func(h *Host) { h.fs = fs }
}

// WithProcesses replaces the operating system process table.
func WithProcesses(p ProcessTable) Option {
	return func(h *Host) { h.processes = p }
}

// WithDesktop replaces the simulated desktop.
func WithDesktop(d Desktop) Option {
	return func(h *Host) { h.desktop = d }
}

// WithClipboard replaces the desktop's clipboard.
func WithClipboard(c Clipboard) Option {
	return func(h *Host) { h.clipboard = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// New creates a Host. Without options it uses the real filesystem and
// process table and a simulated desktop.
func New(opts ...Option) *Host {
	h := &Host{
		fs:        afero.NewOsFs(),
		processes: NewOSProcessTable(),
		logger:    log.With().Str("component", "hostops").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.desktop == nil {
		h.desktop = NewSimulatedDesktop()
	}
	if h.clipboard == nil {
		if c, ok := h.desktop.(Clipboard); ok {
			h.clipboard = c
		} else {
			h.clipboard = &memoryClipboard{}
		}
	}
	return h
}

// Desktop returns the desktop operations act on.
func (h *Host) Desktop() Desktop {
	return h.desktop
}

// Register adds every host tool to b.
func Register(b *toolexecutor.CatalogBuilder, h *Host) error {
	groups := [][]toolexecutor.ToolDefinition{
		h.filesystemTools(),
		h.processTools(),
		h.windowTools(),
		h.inputTools(),
		h.clipboardTools(),
		h.systemTools(),
	}
	for _, group := range groups {
		for _, def := range group {
			if err := b.Register(def); err != nil {
				return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
			}
		}
	}
	return nil
}

// BuildCatalog returns a catalog holding every host tool.
func BuildCatalog(h *Host) (*toolexecutor.Catalog, error) {
	b := toolexecutor.NewCatalogBuilder()
	if err := Register(b, h); err != nil {
		return nil, err
	}
	return b.Build()
}
