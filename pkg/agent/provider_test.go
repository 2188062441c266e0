package agent

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/winagent/internal/config"
	"github.com/harun/winagent/pkg/session"
	"github.com/harun/winagent/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolRound() []session.Message {
	return []session.Message{
		{Role: session.RoleUser, Content: "open notepad and list my files"},
		{Role: session.RoleAssistant, ToolCalls: []toolexecutor.ToolCall{
			{ID: "c1", Name: "app_open", Arguments: map[string]interface{}{"name": "notepad"}},
			{ID: "c2", Name: "file_list"},
		}},
		{Role: session.RoleTool, CallID: "c1", ToolName: "app_open", Content: `{"success":true}`},
		{Role: session.RoleTool, CallID: "c2", ToolName: "file_list", Content: `{"success":false}`, IsError: true},
		{Role: session.RoleAssistant, Content: "Done, notepad is open."},
	}
}

func TestAnthropicMessages_GroupsToolResults(t *testing.T) {
	out := anthropicMessages(toolRound())

	require.Len(t, out, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	assert.Len(t, out[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	assert.Len(t, out[2].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[3].Role)
}

func TestAnthropicMessages_StartsWithUser(t *testing.T) {
	msgs := toolRound()[1:]
	out := anthropicMessages(msgs)

	require.NotEmpty(t, out)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
}

func TestAnthropicMessages_SkipsEmptyAssistant(t *testing.T) {
	out := anthropicMessages([]session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant},
	})
	assert.Len(t, out, 1)
}

func TestAnthropicTools(t *testing.T) {
	tools := anthropicTools([]toolexecutor.ToolSchema{
		{
			Name:        "file_read",
			Description: "Read a file",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"path"},
			},
		},
		{
			Name:        "clipboard_read",
			Description: "Read the clipboard",
			InputSchema: map[string]interface{}{"type": "object", "required": []string{}},
		},
	})

	require.Len(t, tools, 2)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "file_read", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
	assert.Empty(t, tools[1].OfTool.InputSchema.Required)
}

func TestOpenAIMessages(t *testing.T) {
	out, err := openaiMessages("be careful", toolRound())
	require.NoError(t, err)

	require.Len(t, out, 6)
	assert.NotNil(t, out[0].OfSystem)
	assert.NotNil(t, out[1].OfUser)
	require.NotNil(t, out[2].OfAssistant)
	assert.Len(t, out[2].OfAssistant.ToolCalls, 2)
	require.NotNil(t, out[3].OfTool)
	assert.Equal(t, "c1", out[3].OfTool.ToolCallID)
	require.NotNil(t, out[4].OfTool)
	assert.Equal(t, "c2", out[4].OfTool.ToolCallID)
	assert.NotNil(t, out[5].OfAssistant)
}

func TestOpenAIMessages_NoSystemPrompt(t *testing.T) {
	out, err := openaiMessages("", []session.Message{{Role: session.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotNil(t, out[0].OfUser)
}

func TestProviderFactory(t *testing.T) {
	f := &ProviderFactory{}

	tests := []struct {
		name    string
		cfg     config.LLMConfig
		want    string
		wantErr bool
	}{
		{"ollama without key", config.LLMConfig{Provider: "ollama"}, "ollama", false},
		{"openai", config.LLMConfig{Provider: "openai", APIKey: "sk-test"}, "openai", false},
		{"openai without key", config.LLMConfig{Provider: "openai"}, "", true},
		{"anthropic", config.LLMConfig{Provider: "anthropic", APIKey: "sk-ant"}, "anthropic", false},
		{"anthropic without key", config.LLMConfig{Provider: "anthropic"}, "", true},
		{"unknown", config.LLMConfig{Provider: "gemini", APIKey: "k"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.NewProvider(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Provider())
		})
	}
}

func TestNewOllamaProvider_ParsesTextToolCalls(t *testing.T) {
	p := NewOllamaProvider("")
	assert.True(t, p.textToolCalls)
	assert.False(t, NewOpenAIProvider("k", "").textToolCalls)
}
