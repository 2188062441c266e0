package toolexecutor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
)

// ProcessResolver maps a process ID to its executable name.
type ProcessResolver interface {
	ProcessName(ctx context.Context, pid int) (string, error)
}

// DefaultProtectedPaths returns the system locations no tier may modify.
func DefaultProtectedPaths() []string {
	return []string{
		`C:\Windows`,
		`C:\Program Files`,
		`C:\Program Files (x86)`,
		`C:\ProgramData\Microsoft`,
	}
}

// DefaultProtectedProcesses returns the system processes no tier may touch.
func DefaultProtectedProcesses() []string {
	return []string{
		"system",
		"smss.exe",
		"csrss.exe",
		"wininit.exe",
		"winlogon.exe",
		"services.exe",
		"lsass.exe",
		"svchost.exe",
		"dwm.exe",
	}
}

// ProtectedPolicy is the tier-independent denylist of paths and processes.
// It is loaded once at startup and read-only afterwards.
type ProtectedPolicy struct {
	paths     [][]string
	processes map[string]struct{}
	resolver  ProcessResolver
	home      string
}

// NewProtectedPolicy builds a policy. A nil resolver disables PID checks.
func NewProtectedPolicy(paths, processes []string, resolver ProcessResolver) *ProtectedPolicy {
	home, _ := os.UserHomeDir()

	p := &ProtectedPolicy{
		processes: make(map[string]struct{}, len(processes)),
		resolver:  resolver,
		home:      home,
	}
	for _, raw := range paths {
		for _, n := range p.candidates(raw) {
			p.paths = append(p.paths, splitElements(n))
		}
	}
	for _, name := range processes {
		if n := normalizeProcessName(name); n != "" {
			p.processes[n] = struct{}{}
		}
	}
	return p
}

// IsProtectedPath reports whether target equals or lies under a protected
// prefix. Matching ignores case and separator style, respects path element
// boundaries, and sees through the aliases Windows resolves to the same file:
// trailing dots and spaces, 8.3 short names, admin shares and symlinks.
func (p *ProtectedPolicy) IsProtectedPath(target string) bool {
	for _, n := range p.candidates(target) {
		elems := splitElements(n)
		for _, prefix := range p.paths {
			if underPrefix(elems, prefix) {
				return true
			}
		}
	}
	return false
}

// IsProtectedProcess reports whether name is on the process denylist.
func (p *ProtectedPolicy) IsProtectedProcess(name string) bool {
	_, ok := p.processes[normalizeProcessName(name)]
	return ok
}

// Check inspects every resource parameter of def present in args and returns
// a description of the first protected one.
func (p *ProtectedPolicy) Check(ctx context.Context, def *ToolDefinition, args map[string]interface{}) (string, bool) {
	if p == nil || def == nil || !def.Category.TouchesResources() {
		return "", false
	}

	for _, param := range def.Parameters {
		if param.Resource == ResourceNone {
			continue
		}
		value, ok := args[param.Name]
		if !ok || value == nil {
			continue
		}

		switch param.Resource {
		case ResourcePath:
			for _, s := range stringValues(value) {
				if p.IsProtectedPath(s) {
					return fmt.Sprintf("path %s is protected", s), true
				}
			}
		case ResourceProcessName:
			for _, s := range stringValues(value) {
				if p.IsProtectedProcess(s) {
					return fmt.Sprintf("process %s is protected", s), true
				}
			}
		case ResourcePID:
			pid, ok := IntArgument(value)
			if !ok || p.resolver == nil {
				continue
			}
			name, err := p.resolver.ProcessName(ctx, pid)
			if err != nil {
				// An unknown PID cannot be matched; the operation reports it.
				continue
			}
			if p.IsProtectedProcess(name) {
				return fmt.Sprintf("process %s (pid %d) is protected", name, pid), true
			}
		}
	}

	return "", false
}

// candidates returns the normalized forms raw may stand for: its lexical form
// under both readings of dot-only elements, and the resolved form when raw
// exists on this machine.
func (p *ProtectedPolicy) candidates(raw string) []string {
	var out []string
	add := func(n string) {
		if n == "" {
			return
		}
		for _, seen := range out {
			if seen == n {
				return
			}
		}
		out = append(out, n)
	}

	add(p.normalizePath(raw, false))
	add(p.normalizePath(raw, true))
	if real, ok := resolveExisting(strings.TrimSpace(raw)); ok {
		add(p.normalizePath(real, false))
	}
	return out
}

// normalizePath reduces a Windows or POSIX path to a lowercase, forward-slash,
// cleaned absolute form. Elements made only of dots and spaces are read as
// ".." when dotdot is set and as "." otherwise.
func (p *ProtectedPolicy) normalizePath(raw string, dotdot bool) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, `\`, "/")
	s = strings.TrimPrefix(s, "//?/")
	s = strings.TrimPrefix(s, "//./")
	if len(s) > 4 && strings.EqualFold(s[:4], "unc/") {
		s = "//" + s[4:]
	}
	s = adminShareToDrive(s)

	if s == "~" || strings.HasPrefix(s, "~/") {
		if p.home == "" {
			return ""
		}
		s = strings.ReplaceAll(p.home, `\`, "/") + s[1:]
	}

	if !hasDriveLetter(s) && !strings.HasPrefix(s, "/") {
		abs, err := filepath.Abs(s)
		if err != nil {
			return ""
		}
		s = strings.ReplaceAll(abs, `\`, "/")
	}

	// Drive-relative forms such as C:Windows are treated as rooted.
	if hasDriveLetter(s) && len(s) > 2 && s[2] != '/' {
		s = s[:2] + "/" + s[2:]
	}

	s = path.Clean(strings.ToLower(trimElements(s, dotdot)))
	if hasDriveLetter(s) && len(s) == 2 {
		s += "/"
	}
	return s
}

// trimElements applies the Win32 element rules: a trailing run of dots and
// spaces is dropped and an NTFS stream suffix (":$DATA") is ignored.
func trimElements(s string, dotdot bool) string {
	parts := strings.Split(s, "/")
	for i, part := range parts {
		if i == 0 && hasDriveLetter(part) {
			continue
		}
		if j := strings.IndexByte(part, ':'); j >= 0 {
			part = part[:j]
		}
		if part == "." || part == ".." {
			parts[i] = part
			continue
		}
		trimmed := strings.TrimRight(part, ". ")
		if trimmed == "" && strings.Count(part, ".") >= 2 && dotdot {
			trimmed = ".."
		}
		parts[i] = trimmed
	}
	return strings.Join(parts, "/")
}

// adminShareToDrive rewrites //host/c$/rest as c:/rest.
func adminShareToDrive(s string) string {
	if !strings.HasPrefix(s, "//") {
		return s
	}
	parts := strings.SplitN(s[2:], "/", 3)
	if len(parts) < 2 {
		return s
	}
	share := parts[1]
	if len(share) != 2 || share[1] != '$' || !hasDriveLetter(share[:1]+":") {
		return s
	}
	rest := ""
	if len(parts) == 3 {
		rest = parts[2]
	}
	return share[:1] + ":/" + rest
}

// resolveExisting follows symlinks, and on Windows expands short names, for
// the longest existing prefix of target.
func resolveExisting(target string) (string, bool) {
	if target == "" {
		return "", false
	}
	if !filepath.IsAbs(target) {
		// A drive path on a non-Windows host names nothing here.
		if hasDriveLetter(target) {
			return "", false
		}
		abs, err := filepath.Abs(target)
		if err != nil {
			return "", false
		}
		target = abs
	}
	dir, rest := filepath.Clean(target), ""
	for {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, rest), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

func splitElements(n string) []string {
	return strings.Split(strings.TrimSuffix(n, "/"), "/")
}

func underPrefix(elems, prefix []string) bool {
	if len(elems) < len(prefix) {
		return false
	}
	for i, pe := range prefix {
		if !sameElement(elems[i], pe) {
			return false
		}
	}
	return true
}

// sameElement matches a path element against a protected one, accepting an
// 8.3 short name (PROGRA~1) whose stem begins the protected name.
func sameElement(elem, protected string) bool {
	if elem == protected {
		return true
	}
	if j := strings.IndexByte(elem, '.'); j >= 0 {
		elem = elem[:j]
	}
	i := strings.LastIndexByte(elem, '~')
	if i < 1 || i > 6 || i == len(elem)-1 {
		return false
	}
	for _, c := range elem[i+1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return strings.HasPrefix(shortNameBase(protected), elem[:i])
}

// shortNameBase is the part of a long name Windows derives short names from.
func shortNameBase(name string) string {
	name = strings.ReplaceAll(name, " ", "")
	if j := strings.LastIndexByte(name, '.'); j > 0 {
		name = name[:j]
	}
	return strings.ReplaceAll(name, ".", "")
}

func hasDriveLetter(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func normalizeProcessName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, `\`, "/")
	if i := strings.LastIndexByte(n, '/'); i >= 0 {
		n = n[i+1:]
	}
	return strings.TrimSuffix(n, ".exe")
}

func stringValues(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// IntArgument coerces a decoded argument to int. Fractional numbers and
// floats beyond exact integer range are rejected rather than truncated.
func IntArgument(v interface{}) (int, bool) {
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case float64:
		if val != math.Trunc(val) || math.Abs(val) > maxExactFloat {
			return 0, false
		}
	case float32:
		f := float64(val)
		if f != math.Trunc(f) || math.Abs(f) > maxExactFloat {
			return 0, false
		}
	case string:
		v = strings.TrimSpace(val)
	}
	n, err := cast.ToIntE(v)
	return n, err == nil
}

// maxExactFloat is 2^53, past which float64 no longer holds every integer.
const maxExactFloat = 1 << 53
