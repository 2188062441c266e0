package agent

import (
	"context"
	"fmt"

	"github.com/harun/winagent/internal/config"
	"github.com/harun/winagent/pkg/session"
	"github.com/harun/winagent/pkg/toolexecutor"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []session.Message
	Tools        []toolexecutor.ToolSchema
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM. A response with tool calls
// asks for them to be run in order; one without is the final answer.
type LLMResponse struct {
	Content   string
	ToolCalls []toolexecutor.ToolCall
	Usage     *TokenUsage
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates the provider selected by cfg.
func (f *ProviderFactory) NewProvider(cfg config.LLMConfig) (LLMProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
