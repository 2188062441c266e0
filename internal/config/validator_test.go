package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateProvider("ollama"))
	assert.Error(t, v.ValidateProvider(""))

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("sk-abc", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-abc", "openai"))

	assert.NoError(t, v.ValidateBaseURL("http://localhost:11434/v1"))
	assert.Error(t, v.ValidateBaseURL("ftp://host"))
	assert.Error(t, v.ValidateBaseURL("http://"))

	assert.NoError(t, v.ValidatePort(8765))
	assert.Error(t, v.ValidatePort(0))
}
