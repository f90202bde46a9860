package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAISDKClient streams through the go-openai client.
type OpenAISDKClient struct {
	client *goopenai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAISDKClient(cfg ChatConfig, logger *slog.Logger) *OpenAISDKClient {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAISDKClient{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With(slog.String("module", "llm_openai")),
	}
}

func (o *OpenAISDKClient) Model() string {
	return o.model
}

func (o *OpenAISDKClient) StreamChat(ctx context.Context, messages []ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages))
		for _, m := range messages {
			msgs = append(msgs, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}

		stream, err := o.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   true,
		})
		if err != nil {
			yield("", upstreamError(err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("receive llm stream failed: %w", upstreamError(err)))
				return
			}
			if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(response.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}

// upstreamError turns SDK status failures into *StatusError so callers map them uniformly.
func upstreamError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("llm stream request failed: %w", err)
}
