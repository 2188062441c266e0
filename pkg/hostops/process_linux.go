//go:build linux

package hostops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/procfs"
)

func (osProcessTable) List(ctx context.Context) ([]Process, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := describeProc(p)
		if err != nil {
			// exited while listing
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (osProcessTable) Lookup(ctx context.Context, pid int) (Process, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return Process{}, err
	}
	p, err := fs.Proc(pid)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Process{}, fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
		}
		return Process{}, err
	}
	info, err := describeProc(p)
	if err != nil {
		return Process{}, fmt.Errorf("%w: %d", ErrProcessNotFound, pid)
	}
	return info, nil
}

func describeProc(p procfs.Proc) (Process, error) {
	name, err := p.Comm()
	if err != nil {
		return Process{}, err
	}
	info := Process{PID: p.PID, Name: name}

	if exe, err := p.Executable(); err == nil && exe != "" {
		info.Exe = exe
		info.Name = filepath.Base(exe)
	}
	if args, err := p.CmdLine(); err == nil {
		info.Cmdline = strings.Join(args, " ")
	}
	if stat, err := p.Stat(); err == nil {
		info.State = stat.State
		info.MemoryMB = float64(stat.ResidentMemory()) / (1024 * 1024)
	}
	return info, nil
}
