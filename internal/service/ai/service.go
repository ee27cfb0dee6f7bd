package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"personarelay/internal/config"
	"personarelay/internal/prompt"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultClaudeModel = "claude-3-5-haiku-latest"
	defaultGeminiModel = "gemini-2.0-flash"
	defaultOllamaModel = "qwen3:4b-instruct-2507-q4_K_M"
	defaultOllamaURL   = "http://localhost:11434/v1"
)

// Completer performs one blocking completion call and returns the raw text.
type Completer interface {
	Complete(ctx context.Context, req prompt.Request) (string, error)
}

// ChatModelCompleter adapts an eino chat model to Completer.
type ChatModelCompleter struct {
	Model    model.BaseChatModel
	Provider string
}

func (c *ChatModelCompleter) Complete(ctx context.Context, req prompt.Request) (string, error) {
	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	start := time.Now()
	resp, err := c.Model.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", c.Provider, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%s generate: empty response", c.Provider)
	}
	slog.DebugContext(ctx, "completion finished",
		"provider", c.Provider,
		"duration_ms", time.Since(start).Milliseconds())
	return resp.Content, nil
}

// NewCompleter builds the completion backend for a configured provider.
// Tests replace it to avoid network access.
var NewCompleter = newCompleter

func newCompleter(ctx context.Context, provider string, cfg config.ProviderConfig) (Completer, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   orDefault(cfg.Model, defaultOpenAIModel),
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: cfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  orDefault(cfg.Model, defaultGeminiModel),
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     orDefault(cfg.Model, defaultClaudeModel),
			BaseURL:   baseURLPtr,
			MaxTokens: prompt.ReplyMaxTokens,
		})
	case "ollama":
		return newCompatCompleter(provider, orDefault(cfg.BaseURL, defaultOllamaURL), orDefault(cfg.APIKey, "ollama"), orDefault(cfg.Model, defaultOllamaModel)), nil
	case "compat":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %s requires base_url", provider)
		}
		return newCompatCompleter(provider, cfg.BaseURL, cfg.APIKey, orDefault(cfg.Model, defaultOpenAIModel)), nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return &ChatModelCompleter{Model: chatModel, Provider: provider}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
