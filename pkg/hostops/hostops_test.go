package hostops

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harun/winagent/pkg/audit"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcesses struct {
	mu         sync.Mutex
	procs      map[int]Process
	nextPID    int
	terminated []int
	started    []string
}

func newFakeProcesses(procs ...Process) *fakeProcesses {
	f := &fakeProcesses{procs: make(map[int]Process), nextPID: 5000}
	for _, p := range procs {
		f.procs[p.PID] = p
	}
	return f
}

func (f *fakeProcesses) List(ctx context.Context) ([]Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Process, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProcesses) Lookup(ctx context.Context, pid int) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return Process{}, fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	return p, nil
}

func (f *fakeProcesses) Terminate(ctx context.Context, pid int, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[pid]; !ok {
		return fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	delete(f.procs, pid)
	f.terminated = append(f.terminated, pid)
	return nil
}

func (f *fakeProcesses) Start(ctx context.Context, name string, args []string, dir string, wait bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid := f.nextPID
	f.nextPID++
	f.procs[pid] = Process{PID: pid, Name: name}
	f.started = append(f.started, name)
	return pid, nil
}

type fixture struct {
	host    *Host
	fs      afero.Fs
	procs   *fakeProcesses
	desktop *SimulatedDesktop
	catalog *toolexecutor.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs: afero.NewMemMapFs(),
		procs: newFakeProcesses(
			Process{PID: 1234, Name: "notepad.exe"},
			Process{PID: 600, Name: "lsass.exe"},
			Process{PID: 700, Name: "chrome.exe"},
			Process{PID: 701, Name: "chrome.exe"},
		),
		desktop: NewSimulatedDesktop(),
	}
	f.host = New(WithFs(f.fs), WithProcesses(f.procs), WithDesktop(f.desktop))

	catalog, err := BuildCatalog(f.host)
	require.NoError(t, err)
	f.catalog = catalog
	return f
}

func (f *fixture) run(t *testing.T, tool string, args map[string]interface{}) (interface{}, error) {
	t.Helper()
	def, err := f.catalog.Lookup(tool)
	require.NoError(t, err)
	require.NoError(t, f.catalog.ValidateArguments(def, args), "arguments for %s", tool)
	return def.Operation.Invoke(context.Background(), args)
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte(content), 0o644))
}

func TestBuildCatalog_HasEveryTool(t *testing.T) {
	f := newFixture(t)

	want := []string{
		"file_read", "file_write", "file_delete", "file_copy", "file_move", "file_info",
		"file_search", "directory_list", "directory_create",
		"app_open", "app_close", "process_list", "process_info", "process_kill",
		"window_list", "window_focus", "window_minimize", "window_maximize", "window_close",
		"keyboard_type", "keyboard_press", "keyboard_hotkey",
		"mouse_click", "mouse_move", "mouse_scroll", "mouse_drag", "mouse_position",
		"clipboard_get", "clipboard_set", "clipboard_clear",
		"system_info",
	}
	assert.Equal(t, len(want), f.catalog.Len())
	for _, name := range want {
		_, err := f.catalog.Lookup(name)
		assert.NoError(t, err, name)
	}

	kill, _ := f.catalog.Lookup("process_kill")
	assert.Equal(t, toolexecutor.TierAdministrator, kill.MinimumTier)
	assert.Equal(t, toolexecutor.RiskHigh, kill.RiskLevel)

	read, _ := f.catalog.Lookup("file_read")
	assert.Equal(t, toolexecutor.TierObserver, read.MinimumTier)
}

func TestFileWriteReadAppend(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "file_write", map[string]interface{}{"path": "/home/me/notes/todo.txt", "content": "buy milk", "mode": "write"})
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]interface{})["created"])

	_, err = f.run(t, "file_write", map[string]interface{}{"path": "/home/me/notes/todo.txt", "content": "\ncall mom", "mode": "append"})
	require.NoError(t, err)

	out, err = f.run(t, "file_read", map[string]interface{}{"path": "/home/me/notes/todo.txt"})
	require.NoError(t, err)
	assert.Equal(t, "buy milk\ncall mom", out.(map[string]interface{})["content"])
}

func TestFileRead_Errors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.fs.MkdirAll("/data", 0o755))

	_, err := f.run(t, "file_read", map[string]interface{}{"path": "/missing.txt"})
	assert.ErrorContains(t, err, "path not found")

	_, err = f.run(t, "file_read", map[string]interface{}{"path": "/data"})
	assert.ErrorContains(t, err, "not a file")
}

func TestFileDelete(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/work/a.txt", "a")
	f.write(t, "/work/sub/b.txt", "b")

	_, err := f.run(t, "file_delete", map[string]interface{}{"path": "/work/a.txt"})
	require.NoError(t, err)
	exists, _ := afero.Exists(f.fs, "/work/a.txt")
	assert.False(t, exists)

	_, err = f.run(t, "file_delete", map[string]interface{}{"path": "/work/sub"})
	assert.ErrorContains(t, err, "recursive")

	_, err = f.run(t, "file_delete", map[string]interface{}{"path": "/work/sub", "recursive": true})
	require.NoError(t, err)
	exists, _ = afero.Exists(f.fs, "/work/sub/b.txt")
	assert.False(t, exists)
}

func TestFileCopyAndMove(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/src/report.txt", "q3 numbers")
	f.write(t, "/src/tree/one.txt", "1")
	f.write(t, "/src/tree/deep/two.txt", "2")

	_, err := f.run(t, "file_copy", map[string]interface{}{"source": "/src/report.txt", "destination": "/dst/report.txt"})
	require.NoError(t, err)
	data, err := afero.ReadFile(f.fs, "/dst/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "q3 numbers", string(data))

	_, err = f.run(t, "file_copy", map[string]interface{}{"source": "/src/report.txt", "destination": "/dst/report.txt"})
	assert.ErrorContains(t, err, "destination exists")

	out, err := f.run(t, "file_copy", map[string]interface{}{"source": "/src/tree", "destination": "/backup/tree"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(map[string]interface{})["files"])
	data, err = afero.ReadFile(f.fs, "/backup/tree/deep/two.txt")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	_, err = f.run(t, "file_move", map[string]interface{}{"source": "/src/report.txt", "destination": "/archive/report.txt"})
	require.NoError(t, err)
	exists, _ := afero.Exists(f.fs, "/src/report.txt")
	assert.False(t, exists)
	exists, _ = afero.Exists(f.fs, "/archive/report.txt")
	assert.True(t, exists)
}

func TestDirectoryListAndCreate(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/docs/a.txt", "a")
	f.write(t, "/docs/b.md", "b")
	f.write(t, "/docs/.hidden", "h")
	f.write(t, "/docs/sub/c.txt", "c")

	out, err := f.run(t, "directory_list", map[string]interface{}{"path": "/docs"})
	require.NoError(t, err)
	res := out.(map[string]interface{})
	assert.Equal(t, 3, res["count"])

	out, err = f.run(t, "directory_list", map[string]interface{}{"path": "/docs", "pattern": "*.txt", "recursive": true})
	require.NoError(t, err)
	items := out.(map[string]interface{})["items"].([]FileEntry)
	names := []string{}
	for _, it := range items {
		names = append(names, it.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "c.txt"}, names)

	_, err = f.run(t, "directory_list", map[string]interface{}{"path": "/docs/a.txt"})
	assert.ErrorContains(t, err, "not a directory")

	_, err = f.run(t, "directory_create", map[string]interface{}{"path": "/docs/new/nested"})
	require.NoError(t, err)
	isDir, _ := afero.IsDir(f.fs, "/docs/new/nested")
	assert.True(t, isDir)

	_, err = f.run(t, "directory_create", map[string]interface{}{"path": "/docs/new"})
	assert.ErrorContains(t, err, "already exists")
}

func TestFileSearch(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/proj/main.go", "package main // TODO fix")
	f.write(t, "/proj/util.go", "package util")
	f.write(t, "/proj/sub/extra.go", "package sub // todo later")
	f.write(t, "/proj/readme.md", "TODO docs")

	out, err := f.run(t, "file_search", map[string]interface{}{"path": "/proj", "pattern": "*.go", "content": "todo"})
	require.NoError(t, err)
	res := out.(map[string]interface{})
	assert.Equal(t, 2, res["count"])

	out, err = f.run(t, "file_search", map[string]interface{}{"path": "/proj", "pattern": "*.go", "max_results": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]interface{})["count"])

	_, err = f.run(t, "file_search", map[string]interface{}{"path": "/proj", "pattern": "[bad"})
	assert.Error(t, err)
}

func TestFileInfo(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/pics/cat.png", "0123456789")

	out, err := f.run(t, "file_info", map[string]interface{}{"path": "/pics/cat.png"})
	require.NoError(t, err)
	res := out.(map[string]interface{})
	assert.Equal(t, int64(10), res["size"])
	assert.Equal(t, ".png", res["extension"])
	assert.Equal(t, "10 B", res["size_human"])
}

func TestAppOpenAndClose(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "app_open", map[string]interface{}{"name": "/usr/bin/gedit"})
	require.NoError(t, err)
	res := out.(map[string]interface{})
	pid := res["pid"].(int)
	assert.NotZero(t, res["window_handle"])

	windows, _ := f.desktop.Windows(context.Background())
	require.Len(t, windows, 2)
	assert.Equal(t, "Gedit", windows[1].Title)
	assert.True(t, windows[1].Focused)

	_, err = f.run(t, "app_close", map[string]interface{}{"pid": pid})
	require.NoError(t, err)
	windows, _ = f.desktop.Windows(context.Background())
	assert.Len(t, windows, 1)
}

func TestAppClose_ByName(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "app_close", map[string]interface{}{"name": "Chrome"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{700, 701}, out.(map[string]interface{})["pids"])

	_, err = f.run(t, "app_close", map[string]interface{}{"name": "chrome"})
	assert.ErrorContains(t, err, "no running process")

	_, err = f.run(t, "app_close", map[string]interface{}{})
	assert.ErrorContains(t, err, "either pid or name")
}

func TestProcessTools(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "process_list", map[string]interface{}{"filter": "CHROME"})
	require.NoError(t, err)
	res := out.(map[string]interface{})
	assert.Equal(t, 2, res["count"])
	procs := res["processes"].([]Process)
	assert.Equal(t, 700, procs[0].PID)

	out, err = f.run(t, "process_info", map[string]interface{}{"pid": 1234})
	require.NoError(t, err)
	assert.Equal(t, "notepad.exe", out.(Process).Name)

	_, err = f.run(t, "process_kill", map[string]interface{}{"pid": 9999})
	assert.ErrorIs(t, err, ErrProcessNotFound)

	_, err = f.run(t, "process_kill", map[string]interface{}{"pid": float64(1234), "force": true})
	require.NoError(t, err)
	assert.Equal(t, []int{1234}, f.procs.terminated)
}

func TestHost_ResolvesProcessNames(t *testing.T) {
	f := newFixture(t)

	name, err := f.host.ProcessName(context.Background(), 600)
	require.NoError(t, err)
	assert.Equal(t, "lsass.exe", name)

	_, err = f.host.ProcessName(context.Background(), 42)
	assert.Error(t, err)
}

func TestWindowTools(t *testing.T) {
	f := newFixture(t)
	notes := f.desktop.OpenWindow("Notes", 1234)
	f.desktop.OpenWindow("Browser", 700)

	out, err := f.run(t, "window_list", map[string]interface{}{"filter": "not"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]interface{})["count"])

	out, err = f.run(t, "window_focus", map[string]interface{}{"title": "notes"})
	require.NoError(t, err)
	assert.True(t, out.(Window).Focused)

	out, err = f.run(t, "window_minimize", map[string]interface{}{"handle": notes.Handle})
	require.NoError(t, err)
	assert.Equal(t, WindowMinimized, out.(Window).State)

	out, err = f.run(t, "window_maximize", map[string]interface{}{"handle": notes.Handle})
	require.NoError(t, err)
	assert.Equal(t, WindowMaximized, out.(Window).State)

	_, err = f.run(t, "window_close", map[string]interface{}{"handle": notes.Handle})
	require.NoError(t, err)

	_, err = f.run(t, "window_focus", map[string]interface{}{"handle": notes.Handle})
	assert.ErrorIs(t, err, ErrWindowNotFound)
}

func TestInputTools(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "keyboard_type", map[string]interface{}{"text": "hello"})
	require.NoError(t, err)
	_, err = f.run(t, "keyboard_press", map[string]interface{}{"key": "Enter"})
	require.NoError(t, err)
	_, err = f.run(t, "keyboard_hotkey", map[string]interface{}{"keys": []interface{}{"ctrl", "s"}})
	require.NoError(t, err)
	_, err = f.run(t, "keyboard_press", map[string]interface{}{"key": "hyper"})
	assert.ErrorContains(t, err, "unknown key")

	_, err = f.run(t, "mouse_click", map[string]interface{}{"x": 100, "y": 200, "button": "right"})
	require.NoError(t, err)
	out, err := f.run(t, "mouse_position", map[string]interface{}{})
	require.NoError(t, err)
	pos := out.(map[string]interface{})
	assert.Equal(t, 100, pos["x"])
	assert.Equal(t, 1920, pos["screen_width"])

	_, err = f.run(t, "mouse_move", map[string]interface{}{"x": 5000, "y": 10})
	assert.ErrorContains(t, err, "outside")

	_, err = f.run(t, "mouse_drag", map[string]interface{}{"start_x": 10, "start_y": 10, "end_x": 300, "end_y": 400})
	require.NoError(t, err)
	_, err = f.run(t, "mouse_scroll", map[string]interface{}{"clicks": -3})
	require.NoError(t, err)

	kinds := []string{}
	for _, ev := range f.desktop.Input() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{"type", "keys", "keys", "move", "click", "drag", "scroll"}, kinds)
	assert.Equal(t, "ctrl+s", f.desktop.Input()[2].Detail)
}

func TestClipboardTools(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "clipboard_set", map[string]interface{}{"text": "copied"})
	require.NoError(t, err)
	out, err := f.run(t, "clipboard_get", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "copied", out.(map[string]interface{})["text"])

	_, err = f.run(t, "clipboard_clear", map[string]interface{}{})
	require.NoError(t, err)
	out, err = f.run(t, "clipboard_get", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "", out.(map[string]interface{})["text"])
}

func TestSystemInfo(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "system_info", map[string]interface{}{})
	require.NoError(t, err)
	res := out.(map[string]interface{})
	assert.NotEmpty(t, res["os"])
	assert.Greater(t, res["cpus"].(int), 0)
}

func TestIntArg(t *testing.T) {
	n, ok := intArg(map[string]interface{}{"n": float64(3)}, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = intArg(map[string]interface{}{"n": 3.5}, "n")
	assert.False(t, ok)

	_, ok = intArg(map[string]interface{}{}, "n")
	assert.False(t, ok)
}

func TestHost_GuardsProtectedProcessesThroughExecutor(t *testing.T) {
	f := newFixture(t)
	policy := toolexecutor.NewProtectedPolicy(toolexecutor.DefaultProtectedPaths(), toolexecutor.DefaultProtectedProcesses(), f.host)
	exec := toolexecutor.New(f.catalog, toolexecutor.WithEvaluator(toolexecutor.NewPermissionEvaluator(policy)))

	res := exec.Execute(context.Background(), toolexecutor.CallContext{SessionID: "s1", Tier: toolexecutor.TierSystem},
		toolexecutor.ToolCall{ID: "k1", Name: "process_kill", Arguments: map[string]interface{}{"pid": 600}})

	assert.False(t, res.Success)
	assert.Equal(t, toolexecutor.ErrorKindPermissionDenied, res.ErrorKind)
	assert.Equal(t, toolexecutor.ReasonProtected, res.Reason)
	assert.Empty(t, f.procs.terminated)
}

func newGuardedExecutor(t *testing.T, f *fixture) (*toolexecutor.ToolExecutor, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	policy := toolexecutor.NewProtectedPolicy(toolexecutor.DefaultProtectedPaths(), toolexecutor.DefaultProtectedProcesses(), f.host)
	exec := toolexecutor.New(f.catalog,
		toolexecutor.WithEvaluator(toolexecutor.NewPermissionEvaluator(policy)),
		toolexecutor.WithBroker(toolexecutor.NewConfirmationBroker([]string{"file_delete", "file_write", "process_kill"}, time.Second)),
		toolexecutor.WithAuditSink(audit.NewLog(store)),
	)
	return exec, store
}

func TestAppOpen_OperatorRunsWithoutConfirmation(t *testing.T) {
	f := newFixture(t)
	exec, store := newGuardedExecutor(t, f)

	def, err := f.catalog.Lookup("app_open")
	require.NoError(t, err)
	assert.Equal(t, toolexecutor.RiskLow, def.RiskLevel)
	assert.False(t, exec.Broker().RequiresConfirmation(def))

	asked := false
	cc := toolexecutor.CallContext{
		SessionID: "s1",
		Tier:      toolexecutor.TierOperator,
		OnConfirmation: func(ctx context.Context, req toolexecutor.ConfirmationRequest) {
			asked = true
		},
	}
	res := exec.Execute(context.Background(), cc,
		toolexecutor.ToolCall{ID: "c1", Name: "app_open", Arguments: map[string]interface{}{"name": "notepad"}})

	require.True(t, res.Success, "%s: %s", res.ErrorKind, res.Error)
	assert.False(t, asked)
	assert.Equal(t, []string{resolveApp("notepad")}, f.procs.started)

	require.Equal(t, 1, store.Len())
	recs, err := audit.NewLog(store).Collect(context.Background(), audit.Filter{CallID: "c1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.DecisionPermitted, recs[0].Decision)
}

func TestReadOnlyTools_AreIdempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/docs/a.txt", "alpha")
	f.write(t, "/docs/sub/b.txt", "beta")
	exec, _ := newGuardedExecutor(t, f)
	cc := toolexecutor.CallContext{SessionID: "s1", Tier: toolexecutor.TierObserver}

	tests := []struct {
		tool string
		args map[string]interface{}
	}{
		{"directory_list", map[string]interface{}{"path": "/docs", "recursive": true}},
		{"file_info", map[string]interface{}{"path": "/docs/a.txt"}},
		{"file_read", map[string]interface{}{"path": "/docs/sub/b.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			first := exec.Execute(context.Background(), cc, toolexecutor.ToolCall{ID: tt.tool + "-1", Name: tt.tool, Arguments: tt.args})
			second := exec.Execute(context.Background(), cc, toolexecutor.ToolCall{ID: tt.tool + "-2", Name: tt.tool, Arguments: tt.args})

			require.True(t, first.Success, "%s: %s", first.ErrorKind, first.Error)
			require.True(t, second.Success, "%s: %s", second.ErrorKind, second.Error)
			assert.Equal(t, first.Output, second.Output)
		})
	}
}
