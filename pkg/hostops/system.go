package hostops

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/harun/winagent/pkg/toolexecutor"
)

var startedAt = time.Now()

func (h *Host) systemTools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "system_info",
			Description: "Get information about the computer and the agent",
			Category:    toolexecutor.CategorySystem,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Operation:   toolexecutor.OperationFunc(h.systemInfo),
		},
	}
}

func (h *Host) systemInfo(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	screen := h.desktop.ScreenSize()

	return map[string]interface{}{
		"hostname":      hostname,
		"os":            runtime.GOOS,
		"arch":          runtime.GOARCH,
		"cpus":          runtime.NumCPU(),
		"home":          home,
		"time":          time.Now().Format(time.RFC3339),
		"agent_uptime":  time.Since(startedAt).Round(time.Second).String(),
		"screen_width":  screen.X,
		"screen_height": screen.Y,
	}, nil
}
