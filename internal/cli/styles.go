package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/harun/winagent/pkg/toolexecutor"
)

// Terminal styles. lipgloss drops the colors when stdout is not a terminal.
var styles = struct {
	title  lipgloss.Style
	muted  lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
	risk   map[toolexecutor.RiskLevel]lipgloss.Style
}{
	title:  lipgloss.NewStyle().Bold(true),
	muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	failed: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	risk: map[toolexecutor.RiskLevel]lipgloss.Style{
		toolexecutor.RiskLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		toolexecutor.RiskMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		toolexecutor.RiskHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		toolexecutor.RiskCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	},
}

func renderRisk(r toolexecutor.RiskLevel) string {
	if s, ok := styles.risk[r]; ok {
		return s.Render(r.String())
	}
	return r.String()
}
