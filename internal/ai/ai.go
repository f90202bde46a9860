// Package ai talks to the upstream chat completion provider.
package ai

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"tyana/internal/config"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Gateway streams the assistant reply to messages as content deltas. The sequence ends
// after the upstream signals completion; an error ends it early.
type Gateway interface {
	StreamChat(ctx context.Context, messages []ChatMessage) iter.Seq2[string, error]
	Model() string
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm response status %d: %s", e.StatusCode, e.Body)
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGateway picks the client for cfg.Provider.
func NewGateway(cfg config.LLMConfig, logger *slog.Logger) (Gateway, error) {
	chat := ChatConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAISDKClient(chat, logger), nil
	case "compatible":
		return NewOpenAICompatibleClient(chat, logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
