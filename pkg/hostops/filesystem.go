package hostops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/spf13/afero"
)

const defaultSearchResults = 100

var errSearchLimit = errors.New("search limit reached")

// FileEntry describes one directory entry.
type FileEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"is_directory"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
}

func (h *Host) filesystemTools() []toolexecutor.ToolDefinition {
	path := func(desc string) toolexecutor.ToolParameter {
		return toolexecutor.ToolParameter{Name: "path", Type: "string", Description: desc, Required: true, Resource: toolexecutor.ResourcePath}
	}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "file_read",
			Description: "Read the contents of a text file",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters:  []toolexecutor.ToolParameter{path("Path to the file to read")},
			Operation:   toolexecutor.OperationFunc(h.readFile),
		},
		{
			Name:        "file_write",
			Description: "Write content to a file, creating it if needed",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				path("Path to the file"),
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
				{Name: "mode", Type: "string", Description: "write or append", Enum: []string{"write", "append"}, Default: "write"},
			},
			Operation: toolexecutor.OperationFunc(h.writeFile),
		},
		{
			Name:        "file_delete",
			Description: "Delete a file or directory",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskHigh,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				path("Path to delete"),
				{Name: "recursive", Type: "boolean", Description: "Delete directories and their contents", Default: false},
			},
			Operation: toolexecutor.OperationFunc(h.deletePath),
		},
		{
			Name:        "file_copy",
			Description: "Copy a file or directory to a new location",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "source", Type: "string", Description: "Source path", Required: true, Resource: toolexecutor.ResourcePath},
				{Name: "destination", Type: "string", Description: "Destination path", Required: true, Resource: toolexecutor.ResourcePath},
				{Name: "overwrite", Type: "boolean", Description: "Replace an existing destination", Default: false},
			},
			Operation: toolexecutor.OperationFunc(h.copyPath),
		},
		{
			Name:        "file_move",
			Description: "Move or rename a file or directory",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskMedium,
			MinimumTier: toolexecutor.TierOperator,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "source", Type: "string", Description: "Source path", Required: true, Resource: toolexecutor.ResourcePath},
				{Name: "destination", Type: "string", Description: "Destination path", Required: true, Resource: toolexecutor.ResourcePath},
			},
			Operation: toolexecutor.OperationFunc(h.movePath),
		},
		{
			Name:        "file_info",
			Description: "Get details about a file or directory",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters:  []toolexecutor.ToolParameter{path("Path to inspect")},
			Operation:   toolexecutor.OperationFunc(h.fileInfo),
		},
		{
			Name:        "file_search",
			Description: "Search for files by name pattern and optionally by content",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters: []toolexecutor.ToolParameter{
				path("Directory to search in"),
				{Name: "pattern", Type: "string", Description: "File name glob, e.g. *.txt", Required: true},
				{Name: "content", Type: "string", Description: "Text the file must contain"},
				{Name: "max_results", Type: "integer", Description: "Maximum results", Default: defaultSearchResults},
			},
			Operation: toolexecutor.OperationFunc(h.searchFiles),
		},
		{
			Name:        "directory_list",
			Description: "List the contents of a directory",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierObserver,
			Parameters: []toolexecutor.ToolParameter{
				path("Directory path"),
				{Name: "pattern", Type: "string", Description: "Glob filter", Default: "*"},
				{Name: "recursive", Type: "boolean", Description: "Include subdirectories", Default: false},
			},
			Operation: toolexecutor.OperationFunc(h.listDirectory),
		},
		{
			Name:        "directory_create",
			Description: "Create a directory and any missing parents",
			Category:    toolexecutor.CategoryFilesystem,
			RiskLevel:   toolexecutor.RiskLow,
			MinimumTier: toolexecutor.TierOperator,
			Parameters:  []toolexecutor.ToolParameter{path("Directory path to create")},
			Operation:   toolexecutor.OperationFunc(h.createDirectory),
		},
	}
}

func (h *Host) readFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	info, err := h.fs.Stat(path)
	if err != nil {
		return nil, notFound(path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("not a file: %s", path)
	}
	if info.Size() > MaxReadBytes {
		return nil, fmt.Errorf("file too large: %s", humanize.Bytes(uint64(info.Size())))
	}

	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"path":    path,
		"content": string(data),
		"size":    info.Size(),
	}, nil
}

func (h *Host) writeFile(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	content := stringArg(args, "content")
	mode := stringArg(args, "mode")

	if dir := filepath.Dir(path); dir != "" {
		if err := h.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	existed, _ := afero.Exists(h.fs, path)

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == "append" {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := h.fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	n, err := f.WriteString(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info().Str("path", path).Int("bytes", n).Str("mode", mode).Msg("File written")
	return map[string]interface{}{
		"path":          path,
		"bytes_written": n,
		"mode":          mode,
		"created":       !existed,
	}, nil
}

func (h *Host) deletePath(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	info, err := h.fs.Stat(path)
	if err != nil {
		return nil, notFound(path, err)
	}

	if info.IsDir() {
		if !boolArg(args, "recursive") {
			return nil, fmt.Errorf("%s is a directory; set recursive to delete it", path)
		}
		err = h.fs.RemoveAll(path)
	} else {
		err = h.fs.Remove(path)
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info().Str("path", path).Bool("directory", info.IsDir()).Msg("Path deleted")
	return map[string]interface{}{
		"deleted":      path,
		"is_directory": info.IsDir(),
	}, nil
}

func (h *Host) copyPath(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	src := stringArg(args, "source")
	dst := stringArg(args, "destination")

	info, err := h.fs.Stat(src)
	if err != nil {
		return nil, notFound(src, err)
	}
	if exists, _ := afero.Exists(h.fs, dst); exists {
		if !boolArg(args, "overwrite") {
			return nil, fmt.Errorf("destination exists: %s", dst)
		}
		if err := h.fs.RemoveAll(dst); err != nil {
			return nil, err
		}
	}

	var files int
	if info.IsDir() {
		err = afero.Walk(h.fs, src, func(p string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(src, p)
			if err != nil {
				return err
			}
			target := filepath.Join(dst, rel)
			if fi.IsDir() {
				return h.fs.MkdirAll(target, fi.Mode().Perm()|0o700)
			}
			files++
			return h.copyFile(p, target, fi.Mode().Perm())
		})
	} else {
		files = 1
		if err = h.fs.MkdirAll(filepath.Dir(dst), 0o755); err == nil {
			err = h.copyFile(src, dst, info.Mode().Perm())
		}
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info().Str("source", src).Str("destination", dst).Int("files", files).Msg("Path copied")
	return map[string]interface{}{
		"source":      src,
		"destination": dst,
		"files":       files,
	}, nil
}

func (h *Host) copyFile(src, dst string, perm os.FileMode) error {
	in, err := h.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := h.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (h *Host) movePath(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	src := stringArg(args, "source")
	dst := stringArg(args, "destination")

	if _, err := h.fs.Stat(src); err != nil {
		return nil, notFound(src, err)
	}
	if exists, _ := afero.Exists(h.fs, dst); exists {
		return nil, fmt.Errorf("destination exists: %s", dst)
	}
	if err := h.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	if err := h.fs.Rename(src, dst); err != nil {
		return nil, err
	}

	h.logger.Info().Str("source", src).Str("destination", dst).Msg("Path moved")
	return map[string]interface{}{
		"source":      src,
		"destination": dst,
	}, nil
}

func (h *Host) fileInfo(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	info, err := h.fs.Stat(path)
	if err != nil {
		return nil, notFound(path, err)
	}

	out := map[string]interface{}{
		"path":         path,
		"name":         info.Name(),
		"is_directory": info.IsDir(),
		"size":         info.Size(),
		"size_human":   humanize.Bytes(uint64(info.Size())),
		"modified":     info.ModTime(),
		"mode":         info.Mode().String(),
	}
	if !info.IsDir() {
		out["extension"] = filepath.Ext(path)
	}
	return out, nil
}

func (h *Host) searchFiles(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root := stringArg(args, "path")
	pattern := stringArg(args, "pattern")
	needle := strings.ToLower(stringArg(args, "content"))
	limit, ok := intArg(args, "max_results")
	if !ok || limit <= 0 {
		limit = defaultSearchResults
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if _, err := h.fs.Stat(root); err != nil {
		return nil, notFound(root, err)
	}

	matches := []FileEntry{}
	err := afero.Walk(h.fs, root, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(matches) >= limit {
			return errSearchLimit
		}
		if fi.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, fi.Name()); !ok {
			return nil
		}
		if needle != "" {
			if fi.Size() > MaxReadBytes {
				return nil
			}
			data, err := afero.ReadFile(h.fs, p)
			if err != nil || !strings.Contains(strings.ToLower(string(data)), needle) {
				return nil
			}
		}
		matches = append(matches, entryFor(p, fi))
		return nil
	})
	if err != nil && !errors.Is(err, errSearchLimit) {
		return nil, err
	}

	return map[string]interface{}{
		"search_path": root,
		"pattern":     pattern,
		"matches":     matches,
		"count":       len(matches),
	}, nil
}

func (h *Host) listDirectory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root := stringArg(args, "path")
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	info, err := h.fs.Stat(root)
	if err != nil {
		return nil, notFound(root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	items := []FileEntry{}
	if boolArg(args, "recursive") {
		err = afero.Walk(h.fs, root, func(p string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil || p == root {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if strings.HasPrefix(fi.Name(), ".") {
				if fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if ok, _ := filepath.Match(pattern, fi.Name()); ok {
				items = append(items, entryFor(p, fi))
			}
			return nil
		})
	} else {
		var infos []os.FileInfo
		infos, err = afero.ReadDir(h.fs, root)
		for _, fi := range infos {
			if strings.HasPrefix(fi.Name(), ".") {
				continue
			}
			if ok, _ := filepath.Match(pattern, fi.Name()); ok {
				items = append(items, entryFor(filepath.Join(root, fi.Name()), fi))
			}
		}
	}
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"path":  root,
		"items": items,
		"count": len(items),
	}, nil
}

func (h *Host) createDirectory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path := stringArg(args, "path")
	if exists, _ := afero.Exists(h.fs, path); exists {
		return nil, fmt.Errorf("path already exists: %s", path)
	}
	if err := h.fs.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return map[string]interface{}{"created": path}, nil
}

func entryFor(path string, fi os.FileInfo) FileEntry {
	e := FileEntry{
		Name:        fi.Name(),
		Path:        path,
		IsDirectory: fi.IsDir(),
		Modified:    fi.ModTime(),
	}
	if !fi.IsDir() {
		e.Size = fi.Size()
	}
	return e
}

func notFound(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("path not found: %s", path)
	}
	return err
}
