package toolexecutor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return nil, nil
}

func TestCatalogBuilder_Register(t *testing.T) {
	b := NewCatalogBuilder()

	err := b.Register(ToolDefinition{
		Name:        "file_list",
		Description: "List a directory",
		Category:    CategoryFilesystem,
		Parameters: []ToolParameter{
			{Name: "path", Type: "string", Description: "Directory", Required: true},
		},
		Operation: OperationFunc(noop),
	})
	require.NoError(t, err)

	catalog, err := b.Build()
	require.NoError(t, err)

	def, err := catalog.Lookup("file_list")
	require.NoError(t, err)
	assert.Equal(t, "file_list", def.Name)
	assert.Equal(t, 1, catalog.Len())
}

func TestCatalogBuilder_RegisterInvalid(t *testing.T) {
	valid := func() ToolDefinition {
		return ToolDefinition{
			Name:        "t",
			Description: "Test",
			Category:    CategorySystem,
			Operation:   OperationFunc(noop),
		}
	}

	tests := []struct {
		name   string
		mutate func(*ToolDefinition)
	}{
		{name: "empty name", mutate: func(d *ToolDefinition) { d.Name = "" }},
		{name: "empty description", mutate: func(d *ToolDefinition) { d.Description = "" }},
		{name: "nil operation", mutate: func(d *ToolDefinition) { d.Operation = nil }},
		{name: "unknown category", mutate: func(d *ToolDefinition) { d.Category = "network" }},
		{name: "bad risk", mutate: func(d *ToolDefinition) { d.RiskLevel = RiskLevel(9) }},
		{name: "bad tier", mutate: func(d *ToolDefinition) { d.MinimumTier = PermissionTier(-1) }},
		{name: "bad param type", mutate: func(d *ToolDefinition) {
			d.Parameters = []ToolParameter{{Name: "x", Type: "float", Description: "x"}}
		}},
		{name: "duplicate param", mutate: func(d *ToolDefinition) {
			d.Parameters = []ToolParameter{{Name: "x", Type: "string", Description: "x"}, {Name: "x", Type: "string", Description: "x"}}
		}},
		{name: "enum without values", mutate: func(d *ToolDefinition) {
			d.Parameters = []ToolParameter{{Name: "mode", Type: "enum", Description: "mode"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid()
			tt.mutate(&def)
			assert.Error(t, NewCatalogBuilder().Register(def))
		})
	}
}

func TestCatalogBuilder_DuplicateName(t *testing.T) {
	b := NewCatalogBuilder()
	def := ToolDefinition{Name: "dup", Description: "d", Category: CategorySystem, Operation: OperationFunc(noop)}

	require.NoError(t, b.Register(def))
	assert.Error(t, b.Register(def))
}

func TestCatalog_LookupUnknown(t *testing.T) {
	catalog, err := NewCatalogBuilder().Build()
	require.NoError(t, err)

	_, err = catalog.Lookup("missing")
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestCatalog_ListKeepsRegistrationOrder(t *testing.T) {
	b := NewCatalogBuilder()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, b.Register(ToolDefinition{Name: name, Description: name, Category: CategorySystem, Operation: OperationFunc(noop)}))
	}
	catalog, err := b.Build()
	require.NoError(t, err)

	var names []string
	for _, def := range catalog.List() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestCatalog_RegisterCopiesParameters(t *testing.T) {
	params := []ToolParameter{{Name: "mode", Type: "enum", Description: "mode", Enum: []string{"a", "b"}}}
	b := NewCatalogBuilder()
	require.NoError(t, b.Register(ToolDefinition{Name: "t", Description: "t", Category: CategorySystem, Parameters: params, Operation: OperationFunc(noop)}))

	params[0].Name = "changed"
	params[0].Enum[0] = "z"

	catalog, err := b.Build()
	require.NoError(t, err)
	def, _ := catalog.Lookup("t")
	assert.Equal(t, "mode", def.Parameters[0].Name)
	assert.Equal(t, []string{"a", "b"}, def.Parameters[0].Enum)
}

func TestCatalog_InputSchema(t *testing.T) {
	f := newFixture(t)

	schema := f.catalog.InputSchema("echo")
	require.NotNil(t, schema)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"text"}, schema["required"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "repeat")
}

func TestCatalog_Schemas(t *testing.T) {
	f := newFixture(t)

	schemas := f.catalog.Schemas()
	require.Len(t, schemas, f.catalog.Len())
	assert.Equal(t, "echo", schemas[0].Name)
	assert.Equal(t, "Echo text back", schemas[0].Description)
	assert.Equal(t, f.catalog.InputSchema("echo"), schemas[0].InputSchema)
}

func TestCatalog_ValidateEnum(t *testing.T) {
	b := NewCatalogBuilder()
	require.NoError(t, b.Register(ToolDefinition{
		Name:        "window_state",
		Description: "Change window state",
		Category:    CategoryWindow,
		Parameters: []ToolParameter{
			{Name: "state", Type: "enum", Description: "Target state", Enum: []string{"minimize", "maximize"}, Required: true},
		},
		Operation: OperationFunc(noop),
	}))
	catalog, err := b.Build()
	require.NoError(t, err)
	def, _ := catalog.Lookup("window_state")

	assert.NoError(t, catalog.ValidateArguments(def, map[string]interface{}{"state": "minimize"}))

	err = catalog.ValidateArguments(def, map[string]interface{}{"state": "explode"})
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"state"}, schemaErr.Parameters)
}

func TestCatalog_AllowExtra(t *testing.T) {
	b := NewCatalogBuilder()
	require.NoError(t, b.Register(ToolDefinition{
		Name:        "open",
		Description: "Open",
		Category:    CategoryApplication,
		AllowExtra:  true,
		Operation:   OperationFunc(noop),
	}))
	catalog, err := b.Build()
	require.NoError(t, err)
	def, _ := catalog.Lookup("open")

	assert.NoError(t, catalog.ValidateArguments(def, map[string]interface{}{"anything": 1}))
}

func TestToolDefinition_SensitiveParameters(t *testing.T) {
	f := newFixture(t)
	def, err := f.catalog.Lookup("login")
	require.NoError(t, err)

	assert.Equal(t, []string{"password"}, def.SensitiveParameters())

	p, ok := def.Parameter("user")
	assert.True(t, ok)
	assert.Equal(t, "string", p.Type)
	_, ok = def.Parameter("nope")
	assert.False(t, ok)
}

func TestCategories(t *testing.T) {
	assert.Len(t, AllCategories(), 7)
	assert.True(t, IsValidCategory("Filesystem"))
	assert.False(t, IsValidCategory("network"))
	assert.True(t, CategoryProcess.TouchesResources())
	assert.False(t, CategoryClipboard.TouchesResources())
}
