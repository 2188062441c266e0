package hostops

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
)

// SystemClipboard uses the operating system clipboard.
type SystemClipboard struct{}

// NewSystemClipboard returns the OS clipboard, or an error when the platform
// has no clipboard utility available.
func NewSystemClipboard() (*SystemClipboard, error) {
	if clipboard.Unsupported {
		return nil, fmt.Errorf("system clipboard is not available on this machine")
	}
	return &SystemClipboard{}, nil
}

func (SystemClipboard) ReadText(ctx context.Context) (string, error) {
	return clipboard.ReadAll()
}

func (SystemClipboard) WriteText(ctx context.Context, text string) error {
	return clipboard.WriteAll(text)
}
