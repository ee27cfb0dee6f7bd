package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"personarelay/internal/prompt"
)

// compatCompleter talks to OpenAI-compatible endpoints such as a local
// Ollama server.
type compatCompleter struct {
	client   openai.Client
	model    string
	provider string
}

func newCompatCompleter(provider, baseURL, apiKey, model string) *compatCompleter {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &compatCompleter{
		client:   openai.NewClient(opts...),
		model:    model,
		provider: provider,
	}
}

func (c *compatCompleter) Complete(ctx context.Context, req prompt.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    convertMessages(req.Messages),
		Temperature: openai.Float(float64(req.Temperature)),
		N:           openai.Int(1),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	slog.DebugContext(ctx, "completion finished",
		"provider", c.provider,
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(msgs []*schema.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			result = append(result, openai.SystemMessage(msg.Content))
		case schema.Assistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}
