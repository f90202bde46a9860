package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"tyana/internal/session"
)

// CompletionClient is a session.Transport for the streamed chat completion endpoint.
type CompletionClient struct {
	api *Client
}

func NewCompletionClient(api *Client) *CompletionClient {
	return &CompletionClient{api: api}
}

// Stream posts the conversation and returns the event stream body. A non-2xx answer
// becomes *session.StatusError.
func (c *CompletionClient) Stream(ctx context.Context, messages []session.WireMessage) (io.ReadCloser, error) {
	req, err := c.api.newRequest(ctx, http.MethodPost, "/api/v1/chat/completions", map[string]any{
		"messages": messages,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.api.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &session.StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp.Body, nil
}
