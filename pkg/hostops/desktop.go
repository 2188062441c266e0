package hostops

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrWindowNotFound is returned for an unknown window handle or title.
var ErrWindowNotFound = errors.New("window not found")

// WindowState is the display state of a window.
type WindowState string

const (
	WindowNormal    WindowState = "normal"
	WindowMinimized WindowState = "minimized"
	WindowMaximized WindowState = "maximized"
)

// Window is a top-level desktop window.
type Window struct {
	Handle    int         `json:"handle"`
	Title     string      `json:"title"`
	ProcessID int         `json:"process_id"`
	State     WindowState `json:"state"`
	Focused   bool        `json:"focused"`
}

// Point is a screen position in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Desktop drives windows, keyboard, and mouse.
type Desktop interface {
	Windows(ctx context.Context) ([]Window, error)
	FocusWindow(ctx context.Context, handle int, title string) (Window, error)
	SetWindowState(ctx context.Context, handle int, state WindowState) (Window, error)
	CloseWindow(ctx context.Context, handle int) error

	TypeText(ctx context.Context, text string, interval time.Duration) error
	PressKeys(ctx context.Context, keys ...string) error

	ScreenSize() Point
	CursorPosition(ctx context.Context) (Point, error)
	MoveMouse(ctx context.Context, to Point, duration time.Duration) error
	Click(ctx context.Context, button string, clicks int) error
	Scroll(ctx context.Context, clicks int) error
	Drag(ctx context.Context, from, to Point, duration time.Duration) error
}

// WindowOpener is implemented by desktops that track windows of processes
// the agent launches.
type WindowOpener interface {
	OpenWindow(title string, pid int) Window
	CloseWindowsOf(pid int)
}

// Clipboard reads and writes clipboard text.
type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// virtualKeys are the key names accepted by keyboard tools.
var virtualKeys = func() map[string]bool {
	keys := map[string]bool{}
	for _, k := range []string{
		"backspace", "tab", "enter", "return", "shift", "ctrl", "control", "alt",
		"pause", "capslock", "escape", "esc", "space", "pageup", "pagedown",
		"end", "home", "left", "up", "right", "down", "printscreen", "insert",
		"delete", "win", "windows", "apps", "numlock", "scrolllock",
	} {
		keys[k] = true
	}
	for i := 1; i <= 12; i++ {
		keys[fmt.Sprintf("f%d", i)] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		keys[string(c)] = true
	}
	for c := '0'; c <= '9'; c++ {
		keys[string(c)] = true
	}
	return keys
}()

func normalizeKey(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if !virtualKeys[k] {
		return "", fmt.Errorf("unknown key %q", key)
	}
	return k, nil
}

var mouseButtons = map[string]bool{"left": true, "right": true, "middle": true}

// InputEvent is one recorded keyboard or mouse action of a SimulatedDesktop.
type InputEvent struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// SimulatedDesktop is an in-process desktop. It keeps windows, cursor,
// clipboard, and an input log in memory.
type SimulatedDesktop struct {
	mu         sync.Mutex
	screen     Point
	cursor     Point
	windows    map[int]*Window
	nextHandle int
	clipboard  string
	input      []InputEvent
}

// NewSimulatedDesktop returns a 1920x1080 desktop with one shell window.
func NewSimulatedDesktop() *SimulatedDesktop {
	d := &SimulatedDesktop{
		screen:     Point{X: 1920, Y: 1080},
		cursor:     Point{X: 960, Y: 540},
		windows:    make(map[int]*Window),
		nextHandle: 1,
	}
	d.OpenWindow("Desktop", 0)
	return d
}

// OpenWindow adds a focused window owned by pid.
func (d *SimulatedDesktop) OpenWindow(title string, pid int) Window {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, w := range d.windows {
		w.Focused = false
	}
	w := &Window{Handle: d.nextHandle, Title: title, ProcessID: pid, State: WindowNormal, Focused: true}
	d.windows[w.Handle] = w
	d.nextHandle++
	return *w
}

// CloseWindowsOf removes every window owned by pid.
func (d *SimulatedDesktop) CloseWindowsOf(pid int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for handle, w := range d.windows {
		if w.ProcessID == pid && pid != 0 {
			delete(d.windows, handle)
		}
	}
}

func (d *SimulatedDesktop) Windows(ctx context.Context) ([]Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Window, 0, len(d.windows))
	for _, w := range d.windows {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (d *SimulatedDesktop) FocusWindow(ctx context.Context, handle int, title string) (Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target := d.windows[handle]
	if target == nil && title != "" {
		for _, w := range d.windows {
			if strings.EqualFold(w.Title, title) {
				target = w
				break
			}
		}
	}
	if target == nil {
		return Window{}, ErrWindowNotFound
	}

	for _, w := range d.windows {
		w.Focused = false
	}
	target.Focused = true
	if target.State == WindowMinimized {
		target.State = WindowNormal
	}
	return *target, nil
}

func (d *SimulatedDesktop) SetWindowState(ctx context.Context, handle int, state WindowState) (Window, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.windows[handle]
	if w == nil {
		return Window{}, fmt.Errorf("%w: handle %d", ErrWindowNotFound, handle)
	}
	w.State = state
	if state == WindowMinimized {
		w.Focused = false
	}
	return *w, nil
}

func (d *SimulatedDesktop) CloseWindow(ctx context.Context, handle int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.windows[handle]; !ok {
		return fmt.Errorf("%w: handle %d", ErrWindowNotFound, handle)
	}
	delete(d.windows, handle)
	return nil
}

func (d *SimulatedDesktop) TypeText(ctx context.Context, text string, interval time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.record("type", text)
	return nil
}

func (d *SimulatedDesktop) PressKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no keys given")
	}
	normalized := make([]string, len(keys))
	for i, k := range keys {
		n, err := normalizeKey(k)
		if err != nil {
			return err
		}
		normalized[i] = n
	}
	d.record("keys", strings.Join(normalized, "+"))
	return nil
}

func (d *SimulatedDesktop) ScreenSize() Point {
	return d.screen
}

func (d *SimulatedDesktop) CursorPosition(ctx context.Context) (Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor, nil
}

func (d *SimulatedDesktop) MoveMouse(ctx context.Context, to Point, duration time.Duration) error {
	if err := d.checkBounds(to); err != nil {
		return err
	}
	d.mu.Lock()
	d.cursor = to
	d.mu.Unlock()
	d.record("move", fmt.Sprintf("%d,%d", to.X, to.Y))
	return nil
}

func (d *SimulatedDesktop) Click(ctx context.Context, button string, clicks int) error {
	if !mouseButtons[button] {
		return fmt.Errorf("unknown mouse button %q", button)
	}
	if clicks < 1 {
		return fmt.Errorf("clicks must be at least 1")
	}
	d.record("click", fmt.Sprintf("%s x%d", button, clicks))
	return nil
}

func (d *SimulatedDesktop) Scroll(ctx context.Context, clicks int) error {
	d.record("scroll", fmt.Sprintf("%d", clicks))
	return nil
}

func (d *SimulatedDesktop) Drag(ctx context.Context, from, to Point, duration time.Duration) error {
	if err := d.checkBounds(from); err != nil {
		return err
	}
	if err := d.checkBounds(to); err != nil {
		return err
	}
	d.mu.Lock()
	d.cursor = to
	d.mu.Unlock()
	d.record("drag", fmt.Sprintf("%d,%d->%d,%d", from.X, from.Y, to.X, to.Y))
	return nil
}

func (d *SimulatedDesktop) ReadText(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clipboard, nil
}

func (d *SimulatedDesktop) WriteText(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clipboard = text
	return nil
}

// Input returns the recorded keyboard and mouse actions.
func (d *SimulatedDesktop) Input() []InputEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]InputEvent, len(d.input))
	copy(out, d.input)
	return out
}

func (d *SimulatedDesktop) record(kind, detail string) {
	d.mu.Lock()
	d.input = append(d.input, InputEvent{Kind: kind, Detail: detail})
	d.mu.Unlock()
}

func (d *SimulatedDesktop) checkBounds(p Point) error {
	if p.X < 0 || p.Y < 0 || p.X >= d.screen.X || p.Y >= d.screen.Y {
		return fmt.Errorf("position %d,%d is outside the %dx%d screen", p.X, p.Y, d.screen.X, d.screen.Y)
	}
	return nil
}

// memoryClipboard backs desktops that bring no clipboard of their own.
type memoryClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *memoryClipboard) ReadText(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, nil
}

func (c *memoryClipboard) WriteText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}
