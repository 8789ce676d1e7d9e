package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/config"
)

// Clients bundles the LLM clients a deployment needs: a streamer for the
// agent loop, an embedder for the schema index, and a plain generator for
// helper completions (suggestions, titles).
type Clients struct {
	Streamer  ToolStreamer
	Embedder  EmbeddingClient
	Generator TextGenerator
}

// NewFromConfig builds the client set from deployment configuration.
//
// The streaming tool loop always speaks the OpenAI-compatible protocol;
// provider "anthropic" swaps only the plain-generation paths. Embeddings
// use the dedicated embedding endpoint when configured, falling back to
// the main endpoint.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (*Clients, error) {
	streamer, err := NewStreamingClient(&Config{
		Endpoint: cfg.BaseURL,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create streaming client: %w", err)
	}

	embeddingEndpoint := cfg.EmbeddingBaseURL
	embeddingAPIKey := cfg.EmbeddingAPIKey
	if embeddingEndpoint == "" {
		embeddingEndpoint = cfg.BaseURL
		if embeddingAPIKey == "" {
			embeddingAPIKey = cfg.APIKey
		}
	}

	embedder, err := NewClient(&Config{
		Endpoint: embeddingEndpoint,
		Model:    cfg.EmbeddingModel,
		APIKey:   embeddingAPIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	var generator TextGenerator
	switch cfg.Provider {
	case "anthropic":
		generator, err = NewAnthropicClient(&Config{
			Model:  cfg.Model,
			APIKey: cfg.APIKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
	default:
		generator = streamer.Client
	}

	return &Clients{
		Streamer:  streamer,
		Embedder:  embedder,
		Generator: generator,
	}, nil
}
