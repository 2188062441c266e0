package toolexecutor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/harun/winagent/pkg/audit"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *recordingSink) Append(ctx context.Context, rec audit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.records))
	copy(out, s.records)
	return out
}

type staticResolver map[int]string

func (r staticResolver) ProcessName(ctx context.Context, pid int) (string, error) {
	name, ok := r[pid]
	if !ok {
		return "", errors.New("no such process")
	}
	return name, nil
}

// fixture is a small catalog with one tool per interesting shape.
type fixture struct {
	catalog *Catalog
	calls   map[string]*atomic.Int32
}

func (f *fixture) invoked(name string) int {
	return int(f.calls[name].Load())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{calls: make(map[string]*atomic.Int32)}
	counted := func(name string, fn OperationFunc) Operation {
		c := &atomic.Int32{}
		f.calls[name] = c
		return OperationFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			c.Add(1)
			return fn(ctx, args)
		})
	}

	b := NewCatalogBuilder()
	defs := []ToolDefinition{
		{
			Name:        "echo",
			Description: "Echo text back",
			Category:    CategorySystem,
			RiskLevel:   RiskLow,
			MinimumTier: TierObserver,
			Parameters: []ToolParameter{
				{Name: "text", Type: "string", Description: "Text to echo", Required: true},
				{Name: "repeat", Type: "integer", Description: "Repetitions", Default: 1},
			},
			Operation: counted("echo", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return args, nil
			}),
		},
		{
			Name:        "file_delete",
			Description: "Delete a file",
			Category:    CategoryFilesystem,
			RiskLevel:   RiskHigh,
			MinimumTier: TierOperator,
			Parameters: []ToolParameter{
				{Name: "path", Type: "string", Description: "File to delete", Required: true, Resource: ResourcePath},
			},
			Operation: counted("file_delete", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return "deleted " + args["path"].(string), nil
			}),
		},
		{
			Name:        "process_kill",
			Description: "Terminate a process",
			Category:    CategoryProcess,
			RiskLevel:   RiskMedium,
			MinimumTier: TierAdministrator,
			Parameters: []ToolParameter{
				{Name: "pid", Type: "integer", Description: "Process ID", Required: true, Resource: ResourcePID},
			},
			Operation: counted("process_kill", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return "killed", nil
			}),
		},
		{
			Name:        "slow",
			Description: "Blocks until cancelled",
			Category:    CategorySystem,
			RiskLevel:   RiskLow,
			MinimumTier: TierObserver,
			Operation: counted("slow", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
		{
			Name:        "broken",
			Description: "Always fails",
			Category:    CategorySystem,
			RiskLevel:   RiskLow,
			MinimumTier: TierObserver,
			Operation: counted("broken", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return nil, errors.New("disk on fire")
			}),
		},
		{
			Name:        "panicky",
			Description: "Panics",
			Category:    CategorySystem,
			RiskLevel:   RiskLow,
			MinimumTier: TierObserver,
			Operation: counted("panicky", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				panic("boom")
			}),
		},
		{
			Name:        "login",
			Description: "Type credentials",
			Category:    CategoryInput,
			RiskLevel:   RiskLow,
			MinimumTier: TierOperator,
			Parameters: []ToolParameter{
				{Name: "user", Type: "string", Description: "User name", Required: true},
				{Name: "password", Type: "string", Description: "Password", Required: true, Sensitive: true},
			},
			Operation: counted("login", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return "ok", nil
			}),
		},
	}
	for _, def := range defs {
		require.NoError(t, b.Register(def))
	}

	catalog, err := b.Build()
	require.NoError(t, err)
	f.catalog = catalog
	return f
}
