package toolexecutor

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// ResourceKind marks a parameter that names a host resource guarded by the
// protected policy.
type ResourceKind string

const (
	ResourceNone        ResourceKind = ""
	ResourcePath        ResourceKind = "path"
	ResourceProcessName ResourceKind = "process_name"
	ResourcePID         ResourceKind = "pid"
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Description string       `json:"description"`
	Required    bool         `json:"required"`
	Enum        []string     `json:"enum,omitempty"`
	Default     interface{}  `json:"default,omitempty"`
	Resource    ResourceKind `json:"-"`
	Sensitive   bool         `json:"-"`
}

// Operation performs the side effect bound to a tool.
type Operation interface {
	Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// OperationFunc adapts a plain function to Operation.
type OperationFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Invoke calls f.
func (f OperationFunc) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// ToolDefinition is the immutable description of one tool. Definitions are
// registered once through a CatalogBuilder and must not be modified after.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    ToolCategory    `json:"category"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	MinimumTier PermissionTier  `json:"minimum_tier"`
	Parameters  []ToolParameter `json:"parameters"`
	AllowExtra  bool            `json:"-"`
	Operation   Operation       `json:"-"`
}

// Parameter returns the named parameter.
func (d *ToolDefinition) Parameter(name string) (ToolParameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// SensitiveParameters returns the names of parameters whose values must not
// be recorded.
func (d *ToolDefinition) SensitiveParameters() []string {
	var out []string
	for _, p := range d.Parameters {
		if p.Sensitive {
			out = append(out, p.Name)
		}
	}
	return out
}

// Catalog is the read-only set of tools known to the dispatcher. It is safe
// for concurrent use.
type Catalog struct {
	order   []*ToolDefinition
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	docs    map[string]map[string]interface{}
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (*ToolDefinition, error) {
	def, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return def, nil
}

// List returns every definition in registration order.
func (c *Catalog) List() []*ToolDefinition {
	out := make([]*ToolDefinition, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.order)
}

// InputSchema returns the JSON schema document for a tool's arguments, in the
// shape model backends expect. The returned map must not be modified.
func (c *Catalog) InputSchema(name string) map[string]interface{} {
	return c.docs[name]
}

// ToolSchema is the model-facing description of one tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Schemas returns the model-facing schema of every tool in registration order.
func (c *Catalog) Schemas() []ToolSchema {
	out := make([]ToolSchema, 0, len(c.order))
	for _, def := range c.order {
		out = append(out, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: c.docs[def.Name],
		})
	}
	return out
}

// ValidateArguments checks args against the definition's parameter schema.
// It returns a *SchemaError naming the offending parameters.
func (c *Catalog) ValidateArguments(def *ToolDefinition, args map[string]interface{}) error {
	schema := c.schemas[def.Name]
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &SchemaError{
			Tool:    def.Name,
			Details: []string{fmt.Sprintf("arguments could not be read: %v", err)},
		}
	}
	if result.Valid() {
		return nil
	}

	schemaErr := &SchemaError{Tool: def.Name}
	seen := make(map[string]bool)
	for _, re := range result.Errors() {
		param := offendingParameter(re)
		if param != "" && !seen[param] {
			seen[param] = true
			schemaErr.Parameters = append(schemaErr.Parameters, param)
		}
		schemaErr.Details = append(schemaErr.Details, describeResultError(re, param))
	}
	return schemaErr
}

func offendingParameter(re gojsonschema.ResultError) string {
	if prop, ok := re.Details()["property"].(string); ok && prop != "" {
		return prop
	}
	field := re.Field()
	if field == "" || field == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
		return ""
	}
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[:i]
	}
	return field
}

func describeResultError(re gojsonschema.ResultError, param string) string {
	switch re.Type() {
	case "required":
		return fmt.Sprintf("missing required parameter %q", param)
	case "additional_property_not_allowed":
		return fmt.Sprintf("unknown parameter %q", param)
	default:
		if param == "" {
			return re.Description()
		}
		return fmt.Sprintf("%s: %s", param, re.Description())
	}
}

// CatalogBuilder collects tool definitions before the catalog is frozen.
type CatalogBuilder struct {
	defs  []ToolDefinition
	names map[string]bool
}

// NewCatalogBuilder creates an empty builder.
func NewCatalogBuilder() *CatalogBuilder {
	return &CatalogBuilder{names: make(map[string]bool)}
}

// Register adds a definition. Names must be unique.
func (b *CatalogBuilder) Register(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if b.names[def.Name] {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}

	params := make([]ToolParameter, len(def.Parameters))
	for i, p := range def.Parameters {
		p.Enum = append([]string(nil), p.Enum...)
		params[i] = p
	}
	def.Parameters = params

	b.names[def.Name] = true
	b.defs = append(b.defs, def)
	return nil
}

// Build compiles every schema and returns the frozen catalog.
func (b *CatalogBuilder) Build() (*Catalog, error) {
	c := &Catalog{
		order:   make([]*ToolDefinition, 0, len(b.defs)),
		tools:   make(map[string]*ToolDefinition, len(b.defs)),
		schemas: make(map[string]*gojsonschema.Schema, len(b.defs)),
		docs:    make(map[string]map[string]interface{}, len(b.defs)),
	}

	for i := range b.defs {
		def := b.defs[i]
		doc := generateJSONSchema(def)
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
		}

		c.order = append(c.order, &def)
		c.tools[def.Name] = &def
		c.schemas[def.Name] = schema
		c.docs[def.Name] = doc
	}

	log.Info().Int("tools", len(c.order)).Msg("Tool catalog built")

	return c, nil
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true, "enum": true,
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty for %s", def.Name)
	}
	if def.Operation == nil {
		return fmt.Errorf("tool operation cannot be nil for %s", def.Name)
	}
	if !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category %q for %s", def.Category, def.Name)
	}
	if def.RiskLevel < RiskLow || def.RiskLevel > RiskCritical {
		return fmt.Errorf("invalid risk level for %s", def.Name)
	}
	if def.MinimumTier < TierObserver || def.MinimumTier > TierSystem {
		return fmt.Errorf("invalid minimum tier for %s", def.Name)
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s for %s", param.Name, def.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validParamTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
		if param.Type == "enum" && len(param.Enum) == 0 {
			return fmt.Errorf("enum parameter %s needs at least one value", param.Name)
		}
	}

	return nil
}

func generateJSONSchema(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"description": param.Description,
		}

		switch {
		case param.Type == "enum":
			paramSchema["type"] = "string"
			paramSchema["enum"] = param.Enum
		case len(param.Enum) > 0:
			paramSchema["type"] = param.Type
			paramSchema["enum"] = param.Enum
		default:
			paramSchema["type"] = param.Type
		}
		if param.Type == "array" {
			paramSchema["items"] = map[string]interface{}{"type": "string"}
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": def.AllowExtra,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return schemaMap
}
