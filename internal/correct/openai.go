package correct

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// systemPrompt keeps completion replies terse; the acceptance policy in the
// Refiner rejects anything verbose that slips through.
const systemPrompt = "You fix mis-transcribed phrases from meeting audio. " +
	"Reply with the corrected phrase only: no quotes, no explanation, no punctuation beyond the phrase itself."

// OpenAIConfig configures the completion client. BaseURL allows any
// OpenAI-compatible endpoint (Groq, DeepSeek, a local server).
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAICompleter implements Completer against an OpenAI-compatible chat
// completion API. Safe for concurrent use.
type OpenAICompleter struct {
	client oai.Client
	model  string
}

// NewOpenAI creates a completion client.
func NewOpenAI(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("correct: api key must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("correct: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &OpenAICompleter{
		client: oai.NewClient(reqOpts...),
		model:  cfg.Model,
	}, nil
}

// Complete sends prompt and returns the single corrected phrase.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: oai.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(prompt),
		},
		MaxTokens:   oai.Int(64),
		Temperature: oai.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("correct: completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("correct: completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
