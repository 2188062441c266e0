package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/harun/winagent/pkg/hostops"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var (
	toolsTier string
	toolsJSON bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	Long:  `List every tool the agent can call with its risk level and the minimum tier that may call it.`,
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsTier, "tier", "", "only list tools callable at this tier")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	catalog, err := hostops.BuildCatalog(hostops.New())
	if err != nil {
		return fmt.Errorf("failed to build tool catalog: %w", err)
	}

	defs := catalog.List()
	if toolsTier != "" {
		tier, err := toolexecutor.ParseTier(toolsTier)
		if err != nil {
			return err
		}
		defs = callableAt(defs, tier)
	}

	return writeToolList(cmd.OutOrStdout(), defs, toolsJSON)
}

// callableAt keeps the tools whose minimum tier is at most tier.
func callableAt(defs []*toolexecutor.ToolDefinition, tier toolexecutor.PermissionTier) []*toolexecutor.ToolDefinition {
	out := make([]*toolexecutor.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if d.MinimumTier <= tier {
			out = append(out, d)
		}
	}
	return out
}

func writeToolList(w io.Writer, defs []*toolexecutor.ToolDefinition, asJSON bool) error {
	sorted := make([]*toolexecutor.ToolDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Category != sorted[j].Category {
			return sorted[i].Category < sorted[j].Category
		}
		return sorted[i].Name < sorted[j].Name
	})

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sorted)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TOOL", "CATEGORY", "RISK", "MIN TIER", "DESCRIPTION")
	for _, d := range sorted {
		t.Row(d.Name, string(d.Category), renderRisk(d.RiskLevel), d.MinimumTier.String(), d.Description)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
