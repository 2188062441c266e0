package hostops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"

	"github.com/harun/winagent/pkg/toolexecutor"
)

const maxListedProcesses = 50

// ErrProcessNotFound is returned for an unknown PID.
var ErrProcessNotFound = errors.New("process not found")

// Process describes a running process.
type Process struct {
	PID      int     `json:"pid"`
	Name     string  `json:"name"`
	Exe      string  `json:"exe,omitempty"`
	Cmdline  string  `json:"cmdline,omitempty"`
	State    string  `json:"status,omitempty"`
	MemoryMB float64 `json:"memory_mb"`
}

// ProcessTable lists, starts, and signals processes.
type ProcessTable interface {
	List(ctx context.Context) ([]Process, error)
	Lookup(ctx context.Context, pid int) (Process, error)
	Terminate(ctx context.Context, pid int, force bool) error
	Start(ctx context.Context, name string, args []string, dir string, wait bool) (int, error)
}

// appAliases maps friendly application names to Windows executables.
var appAliases = map[string]string{
	"notepad":    "notepad.exe",
	"calculator": "calc.exe",
	"calc":       "calc.exe",
	"paint":      "mspaint.exe",
	"explorer":   "explorer.exe",
	"cmd":        "cmd.exe",
	"powershell": "powershell.exe",
	"chrome":     "chrome.exe",
	"edge":       "msedge.exe",
	"word":       "winword.exe",
	"excel":      "excel.exe",
}

// resolveApp returns the executable for name on the current OS.
func resolveApp(name string) string {
	if runtime.GOOS != "windows" {
		return name
	}
	if exe, ok := appAliases[strings.ToLower(name)]; ok {
		return exe
	}
	return name
}

// sameProcessName compares names case-insensitively, ignoring ".exe".
func sameProcessName(a, b string) bool {
	trim := func(s string) string {
		s = strings.ToLower(filepath.Base(strings.TrimSpace(s)))
		return strings.TrimSuffix(s, ".exe")
	}
	return trim(a) == trim(b)
}

// ProcessName implements toolexecutor.ProcessResolver.
func (h *Host) ProcessName(ctx context.Context, pid int) (string, error) {
	p, err := h.processes.Lookup(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func (h *Host) processTools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "app_open",
			Description: "Launch an application by name or path, e.g. notepad or C:\\Tools\\app.exe",
			Category:    toolexecutor.CategoryApplication,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "Application name or path", Required: true, Resource: toolexecutor.ResourceProcessName},
				{Name: "arguments", Type: "array", Description: "Command line arguments"},
				{Name: "working_dir", Type: "string", Description: "Working directory", Resource: toolexecutor.ResourcePath},
				{Name: "wait", Type: "boolean", Description: "Wait for the application to exit", Default: false},
			},
			Operation: toolexecutor.OperationFunc(h.openApp),
		},
		{
			Name:        "app_close",
			Description: "Close an application by name or process ID",
			Category:    toolexecutor.CategoryApplication,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "Application name", Resource: toolexecutor.ResourceProcessName},
				{Name: "pid", Type: "integer", Description: "Process ID", Resource: toolexecutor.ResourcePID},
				{Name: "force", Type: "boolean", Description: "Force the application to close", Default: false},
			},
			Operation: toolexecutor.OperationFunc(h.closeApp),
		},
		{
			Name:        "process_list",
			Description: "List running processes",
			Category:    toolexecutor.CategoryProcess,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "filter", Type: "string", Description: "Only names containing this text"},
			},
			Operation: toolexecutor.OperationFunc(h.listProcesses),
		},
		{
			Name:        "process_info",
			Description: "Get details about a process",
			Category:    toolexecutor.CategoryProcess,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "pid", Type: "integer", Description: "Process ID", Required: true},
			},
			Operation: toolexecutor.OperationFunc(h.processInfo),
		},
		{
			Name:        "process_kill",
			Description: "Terminate a process by ID or name",
			Category:    toolexecutor.CategoryProcess,
			RiskLevel:   toolexecutor.RiskHigh,
			MinimumTier: toolexecutor.TierAdministrator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "pid", Type: "integer", Description: "Process ID", Resource: toolexecutor.ResourcePID},
				{Name: "name", Type: "string", Description: "Process name", Resource: toolexecutor.ResourceProcessName},
				{Name: "force", Type: "boolean", Description: "Kill instead of asking the process to exit", Default: false},
			},
			Operation: toolexecutor.OperationFunc(h.killProcess),
		},
	}
}

func (h *Host) openApp(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name := stringArg(args, "name")
	exe := resolveApp(name)
	wait := boolArg(args, "wait")

	pid, err := h.processes.Start(ctx, exe, stringsArg(args, "arguments"), stringArg(args, "working_dir"), wait)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	out := map[string]interface{}{
		"name":       name,
		"executable": exe,
		"pid":        pid,
	}
	if opener, ok := h.desktop.(WindowOpener); ok && !wait {
		win := opener.OpenWindow(titleFor(name), pid)
		out["window_handle"] = win.Handle
	}

	h.logger.Info().Str("app", name).Int("pid", pid).Msg("Application opened")
	return out, nil
}

func (h *Host) closeApp(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return h.terminate(ctx, args)
}

func (h *Host) killProcess(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return h.terminate(ctx, args)
}

// terminate ends the process given by "pid", or every process whose name
// matches "name".
func (h *Host) terminate(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	force := boolArg(args, "force")

	if pid, ok := intArg(args, "pid"); ok {
		p, err := h.processes.Lookup(ctx, pid)
		if err != nil {
			return nil, err
		}
		if err := h.processes.Terminate(ctx, pid, force); err != nil {
			return nil, err
		}
		h.closeWindows(pid)
		h.logger.Info().Int("pid", pid).Str("name", p.Name).Bool("force", force).Msg("Process terminated")
		return map[string]interface{}{
			"terminated": true,
			"pid":        pid,
			"name":       p.Name,
		}, nil
	}

	name := stringArg(args, "name")
	if name == "" {
		return nil, errors.New("either pid or name must be given")
	}

	procs, err := h.processes.List(ctx)
	if err != nil {
		return nil, err
	}
	pids := []int{}
	var errs []error
	for _, p := range procs {
		if !sameProcessName(p.Name, name) {
			continue
		}
		if err := h.processes.Terminate(ctx, p.PID, force); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", p.PID, err))
			continue
		}
		h.closeWindows(p.PID)
		pids = append(pids, p.PID)
	}
	if len(pids) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, fmt.Errorf("no running process named %s", name)
	}

	h.logger.Info().Str("name", name).Ints("pids", pids).Bool("force", force).Msg("Processes terminated")
	return map[string]interface{}{
		"terminated": true,
		"name":       name,
		"pids":       pids,
		"count":      len(pids),
	}, nil
}

func (h *Host) closeWindows(pid int) {
	opener, ok := h.desktop.(WindowOpener)
	if !ok {
		return
	}
	opener.CloseWindowsOf(pid)
}

func (h *Host) listProcesses(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	procs, err := h.processes.List(ctx)
	if err != nil {
		return nil, err
	}

	filter := strings.ToLower(stringArg(args, "filter"))
	matched := make([]Process, 0, len(procs))
	for _, p := range procs {
		if filter != "" && !strings.Contains(strings.ToLower(p.Name), filter) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].PID < matched[j].PID })

	listed := matched
	if len(listed) > maxListedProcesses {
		listed = listed[:maxListedProcesses]
	}
	return map[string]interface{}{
		"processes": listed,
		"count":     len(matched),
	}, nil
}

func (h *Host) processInfo(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	pid, err := requireInt(args, "pid")
	if err != nil {
		return nil, err
	}
	return h.processes.Lookup(ctx, pid)
}

func titleFor(app string) string {
	base := filepath.Base(strings.ReplaceAll(app, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		return app
	}
	return strings.ToUpper(base[:1]) + base[1:]
}

// osProcessTable is the ProcessTable of the machine the agent runs on.
// Listing is platform specific; starting and signalling are shared.
type osProcessTable struct{}

// NewOSProcessTable returns the process table of the running machine.
func NewOSProcessTable() ProcessTable {
	return osProcessTable{}
}

func (osProcessTable) Start(ctx context.Context, name string, args []string, dir string, wait bool) (int, error) {
	var cmd *exec.Cmd
	if wait {
		cmd = exec.CommandContext(ctx, name, args...)
	} else {
		cmd = exec.Command(name, args...)
	}
	cmd.Dir = dir

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	if wait {
		return pid, cmd.Wait()
	}
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (osProcessTable) Terminate(ctx context.Context, pid int, force bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	if force || runtime.GOOS == "windows" {
		return p.Kill()
	}
	return p.Signal(syscall.SIGTERM)
}
