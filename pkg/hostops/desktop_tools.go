package hostops

import (
	"context"
	"strings"
	"time"

	"github.com/harun/winagent/pkg/toolexecutor"
)

const defaultTypeInterval = 0.02

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (h *Host) windowTools() []toolexecutor.ToolDefinition {
	handle := toolexecutor.ToolParameter{Name: "handle", Type: "integer", Description: "Window handle from window_list", Required: true}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "window_list",
			Description: "List visible windows",
			Category:    toolexecutor.CategoryWindow,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "filter", Type: "string", Description: "Only titles containing this text"},
			},
			Operation: toolexecutor.OperationFunc(h.listWindows),
		},
		{
			Name:        "window_focus",
			Description: "Bring a window to the foreground by handle or title",
			Category:    toolexecutor.CategoryWindow,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "handle", Type: "integer", Description: "Window handle"},
				{Name: "title", Type: "string", Description: "Exact window title"},
			},
			Operation: toolexecutor.OperationFunc(h.focusWindow),
		},
		{
			Name:        "window_minimize",
			Description: "Minimize a window",
			Category:    toolexecutor.CategoryWindow,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters:  []toolexecutor.ToolParameter{handle},
			Operation:   h.windowStateOp(WindowMinimized),
		},
		{
			Name:        "window_maximize",
			Description: "Maximize a window",
			Category:    toolexecutor.CategoryWindow,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters:  []toolexecutor.ToolParameter{handle},
			Operation:   h.windowStateOp(WindowMaximized),
		},
		{
			Name:        "window_close",
			Description: "Close a window",
			Category:    toolexecutor.CategoryWindow,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters:  []toolexecutor.ToolParameter{handle},
			Operation:   toolexecutor.OperationFunc(h.closeWindow),
		},
	}
}

func (h *Host) listWindows(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	windows, err := h.desktop.Windows(ctx)
	if err != nil {
		return nil, err
	}
	filter := strings.ToLower(stringArg(args, "filter"))
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if filter != "" && !strings.Contains(strings.ToLower(w.Title), filter) {
			continue
		}
		out = append(out, w)
	}
	return map[string]interface{}{"windows": out, "count": len(out)}, nil
}

func (h *Host) focusWindow(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	handle, _ := intArg(args, "handle")
	w, err := h.desktop.FocusWindow(ctx, handle, stringArg(args, "title"))
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (h *Host) windowStateOp(state WindowState) toolexecutor.Operation {
	return toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		handle, err := requireInt(args, "handle")
		if err != nil {
			return nil, err
		}
		return h.desktop.SetWindowState(ctx, handle, state)
	})
}

func (h *Host) closeWindow(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	handle, err := requireInt(args, "handle")
	if err != nil {
		return nil, err
	}
	if err := h.desktop.CloseWindow(ctx, handle); err != nil {
		return nil, err
	}
	return map[string]interface{}{"closed": handle}, nil
}

func (h *Host) inputTools() []toolexecutor.ToolDefinition {
	coord := func(name, desc string, required bool) toolexecutor.ToolParameter {
		return toolexecutor.ToolParameter{Name: name, Type: "integer", Description: desc, Required: required}
	}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "keyboard_type",
			Description: "Type text with the keyboard",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "text", Type: "string", Description: "Text to type", Required: true},
				{Name: "interval", Type: "number", Description: "Seconds between keys", Default: defaultTypeInterval},
			},
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				text := stringArg(args, "text")
				if err := h.desktop.TypeText(ctx, text, seconds(floatArg(args, "interval", defaultTypeInterval))); err != nil {
					return nil, err
				}
				return map[string]interface{}{"typed": len([]rune(text))}, nil
			}),
		},
		{
			Name:        "keyboard_press",
			Description: "Press a single key such as enter, tab, escape, a, or f1",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "key", Type: "string", Description: "Key to press", Required: true},
			},
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				key := stringArg(args, "key")
				if err := h.desktop.PressKeys(ctx, key); err != nil {
					return nil, err
				}
				return map[string]interface{}{"pressed": key}, nil
			}),
		},
		{
			Name:        "keyboard_hotkey",
			Description: "Press keys together, e.g. [\"ctrl\", \"c\"]",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "keys", Type: "array", Description: "Keys to press together", Required: true},
			},
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				keys := stringsArg(args, "keys")
				if err := h.desktop.PressKeys(ctx, keys...); err != nil {
					return nil, err
				}
				return map[string]interface{}{"pressed": strings.Join(keys, "+")}, nil
			}),
		},
		{
			Name:        "mouse_click",
			Description: "Click the mouse, optionally moving to a position first",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				coord("x", "X coordinate", false),
				coord("y", "Y coordinate", false),
				{Name: "button", Type: "string", Description: "Mouse button", Enum: []string{"left", "right", "middle"}, Default: "left"},
				{Name: "clicks", Type: "integer", Description: "Number of clicks", Default: 1},
			},
			Operation: toolexecutor.OperationFunc(h.mouseClick),
		},
		{
			Name:        "mouse_move",
			Description: "Move the mouse to a position",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				coord("x", "X coordinate", true),
				coord("y", "Y coordinate", true),
				{Name: "duration", Type: "number", Description: "Seconds the move takes", Default: 0},
			},
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				to, err := point(args, "x", "y")
				if err != nil {
					return nil, err
				}
				if err := h.desktop.MoveMouse(ctx, to, seconds(floatArg(args, "duration", 0))); err != nil {
					return nil, err
				}
				return to, nil
			}),
		},
		{
			Name:        "mouse_scroll",
			Description: "Scroll the mouse wheel; positive scrolls up",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "clicks", Type: "integer", Description: "Scroll amount", Required: true},
				coord("x", "X coordinate", false),
				coord("y", "Y coordinate", false),
			},
			Operation: toolexecutor.OperationFunc(h.mouseScroll),
		},
		{
			Name:        "mouse_drag",
			Description: "Drag the mouse from one position to another",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				coord("start_x", "Start X coordinate", true),
				coord("start_y", "Start Y coordinate", true),
				coord("end_x", "End X coordinate", true),
				coord("end_y", "End Y coordinate", true),
				{Name: "duration", Type: "number", Description: "Seconds the drag takes", Default: 0.5},
			},
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				from, err := point(args, "start_x", "start_y")
				if err != nil {
					return nil, err
				}
				to, err := point(args, "end_x", "end_y")
				if err != nil {
					return nil, err
				}
				if err := h.desktop.Drag(ctx, from, to, seconds(floatArg(args, "duration", 0.5))); err != nil {
					return nil, err
				}
				return map[string]interface{}{"from": from, "to": to}, nil
			}),
		},
		{
			Name:        "mouse_position",
			Description: "Get the mouse cursor position and screen size",
			Category:    toolexecutor.CategoryInput,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				pos, err := h.desktop.CursorPosition(ctx)
				if err != nil {
					return nil, err
				}
				screen := h.desktop.ScreenSize()
				return map[string]interface{}{
					"x":             pos.X,
					"y":             pos.Y,
					"screen_width":  screen.X,
					"screen_height": screen.Y,
				}, nil
			}),
		},
	}
}

// moveIfGiven moves the cursor when both coordinates are present.
func (h *Host) moveIfGiven(ctx context.Context, args map[string]interface{}) error {
	_, hasX := args["x"]
	_, hasY := args["y"]
	if !hasX || !hasY {
		return nil
	}
	to, err := point(args, "x", "y")
	if err != nil {
		return err
	}
	return h.desktop.MoveMouse(ctx, to, 0)
}

func (h *Host) mouseClick(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := h.moveIfGiven(ctx, args); err != nil {
		return nil, err
	}
	button := stringArg(args, "button")
	if button == "" {
		button = "left"
	}
	clicks, ok := intArg(args, "clicks")
	if !ok {
		clicks = 1
	}
	if err := h.desktop.Click(ctx, button, clicks); err != nil {
		return nil, err
	}
	pos, err := h.desktop.CursorPosition(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"button": button, "clicks": clicks, "x": pos.X, "y": pos.Y}, nil
}

func (h *Host) mouseScroll(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := h.moveIfGiven(ctx, args); err != nil {
		return nil, err
	}
	clicks, err := requireInt(args, "clicks")
	if err != nil {
		return nil, err
	}
	if err := h.desktop.Scroll(ctx, clicks); err != nil {
		return nil, err
	}
	return map[string]interface{}{"scrolled": clicks}, nil
}

func point(args map[string]interface{}, xName, yName string) (Point, error) {
	x, err := requireInt(args, xName)
	if err != nil {
		return Point{}, err
	}
	y, err := requireInt(args, yName)
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

func (h *Host) clipboardTools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "clipboard_get",
			Description: "Get the text on the clipboard",
			Category:    toolexecutor.CategoryClipboard,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				text, err := h.clipboard.ReadText(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"text": text, "length": len([]rune(text))}, nil
			}),
		},
		{
			Name:        "clipboard_set",
			Description: "Put text on the clipboard",
			Category:    toolexecutor.CategoryClipboard,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "text", Type: "string", Description: "Text to copy", Required: true},
			},
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				text := stringArg(args, "text")
				if err := h.clipboard.WriteText(ctx, text); err != nil {
					return nil, err
				}
				return map[string]interface{}{"length": len([]rune(text))}, nil
			}),
		},
		{
			Name:        "clipboard_clear",
			Description: "Clear the clipboard",
			Category:    toolexecutor.CategoryClipboard,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Operation: toolexecutor.OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				if err := h.clipboard.WriteText(ctx, ""); err != nil {
					return nil, err
				}
				return map[string]interface{}{"cleared": true}, nil
			}),
		},
	}
}
