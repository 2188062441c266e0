//go:build !linux

package hostops

import (
	"context"
	"fmt"
	"runtime"
)

func (osProcessTable) List(ctx context.Context) ([]Process, error) {
	return nil, fmt.Errorf("process listing is not supported on %s", runtime.GOOS)
}

func (osProcessTable) Lookup(ctx context.Context, pid int) (Process, error) {
	return Process{}, fmt.Errorf("process lookup is not supported on %s", runtime.GOOS)
}
