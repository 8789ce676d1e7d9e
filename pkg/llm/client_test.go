package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{Model: "m"}, zap.NewNop())
	assert.ErrorContains(t, err, "endpoint")

	_, err = NewClient(&Config{Endpoint: "http://localhost:8000/v1"}, zap.NewNop())
	assert.ErrorContains(t, err, "model")

	client, err := NewClient(&Config{Endpoint: "http://localhost:8000/v1", Model: "m"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "m", client.GetModel())
	assert.Equal(t, "http://localhost:8000/v1", client.GetEndpoint())
}

func TestNewAnthropicClient_Validation(t *testing.T) {
	_, err := NewAnthropicClient(&Config{APIKey: "k"}, zap.NewNop())
	assert.ErrorContains(t, err, "model")

	_, err = NewAnthropicClient(&Config{Model: "claude-sonnet-4-5"}, zap.NewNop())
	assert.ErrorContains(t, err, "api key")

	_, err = NewAnthropicClient(&Config{Model: "claude-sonnet-4-5", APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
}
