package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/askdb-inc/askdb-engine/pkg/llm"
)

const maxRecommendations = 3

// Recommender produces follow-up question suggestions and session titles
// with a plain (non-streaming) generation call. Failures are logged and
// swallowed by callers; neither feature is load-bearing.
type Recommender struct {
	generator llm.TextGenerator
	logger    *zap.Logger
}

// NewRecommender creates a recommender on top of the generative client.
func NewRecommender(generator llm.TextGenerator, logger *zap.Logger) *Recommender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recommender{generator: generator, logger: logger.Named("recommender")}
}

// Suggest returns up to three follow-up questions the user might ask next.
func (r *Recommender) Suggest(ctx context.Context, question, answer string) ([]string, error) {
	prompt := fmt.Sprintf(`The user asked a question about their database and got an answer.

Question: %s

Answer: %s

Suggest up to %d short follow-up questions the user is likely to ask next. Respond with a JSON array of strings and nothing else, e.g. ["...", "..."].`,
		question, truncate(answer, 2000), maxRecommendations)

	response, err := r.generator.GenerateResponse(ctx, prompt,
		"You suggest concise follow-up questions for a database assistant.", 0.7)
	if err != nil {
		return nil, fmt.Errorf("generate recommendations: %w", err)
	}

	suggestions, err := parseStringArray(response)
	if err != nil {
		r.logger.Debug("Unparseable recommendations response", zap.String("response", truncate(response, 200)))
		return nil, fmt.Errorf("parse recommendations: %w", err)
	}

	if len(suggestions) > maxRecommendations {
		suggestions = suggestions[:maxRecommendations]
	}
	return suggestions, nil
}

// TitleForSession derives a short conversation title from the first user
// message.
func (r *Recommender) TitleForSession(ctx context.Context, firstMessage string) (string, error) {
	prompt := fmt.Sprintf(`Write a title of at most 6 words for a conversation that starts with this message. Respond with the title only, no quotes.

Message: %s`, truncate(firstMessage, 500))

	response, err := r.generator.GenerateResponse(ctx, prompt,
		"You title conversations for a database assistant.", 0.3)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(response), `"`))
	if title == "" {
		return "", fmt.Errorf("empty title response")
	}
	return truncate(title, 80), nil
}

// parseStringArray pulls a JSON string array out of a model response,
// tolerating surrounding prose or code fences.
func parseStringArray(response string) ([]string, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found")
	}

	var out []string
	if err := json.Unmarshal([]byte(response[start:end+1]), &out); err != nil {
		return nil, err
	}

	cleaned := make([]string, 0, len(out))
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
