// Package llm provides LLM client functionality: an OpenAI-compatible
// client for chat, streaming tool calls, and embeddings, plus an Anthropic
// client for plain text generation.
package llm

import (
	"context"
)

// TextGenerator produces a single chat completion. Both providers
// implement it; helper paths (follow-up suggestions, session titles)
// depend only on this.
type TextGenerator interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)
}

// EmbeddingClient generates embedding vectors.
type EmbeddingClient interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs in one call.
	CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// LLMClient combines generative and embedding capabilities.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	TextGenerator
	EmbeddingClient
}

// ToolStreamer drives a streaming chat completion with tool execution.
// The agent loop depends on this interface so tests can script turns.
type ToolStreamer interface {
	StreamWithTools(ctx context.Context, req *StreamingRequest, executor ToolExecutor, eventChan chan<- StreamEvent) error
}

// ToolExecutor defines the interface for executing tools.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, arguments string) (string, error)
}

// Ensure implementations satisfy their interfaces at compile time.
var (
	_ LLMClient     = (*Client)(nil)
	_ TextGenerator = (*AnthropicClient)(nil)
	_ ToolStreamer  = (*StreamingClient)(nil)
	_ LLMClient     = (*MockLLMClient)(nil)
)
