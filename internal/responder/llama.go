package responder

import (
	"context"
	"errors"
	"strings"

	"realtime-chat/backend/internal/models"
)

// LlamaResponse is the completion shape returned by the hosted tiny model
type LlamaResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// LlamaClient calls the self-hosted tiny llama completion endpoint
type LlamaClient struct {
	http httpClient
}

// NewLlamaClient creates a client posting to url
func NewLlamaClient(url string, opts Options) *LlamaClient {
	return &LlamaClient{http: newHTTPClient("tiny_llama_1b", url, opts)}
}

// Respond returns the first completion choice, trimmed
func (c *LlamaClient) Respond(ctx context.Context, history []models.Turn) (Reply, error) {
	var out LlamaResponse
	if err := c.http.post(ctx, history, &out); err != nil {
		return Reply{}, err
	}
	if len(out.Choices) == 0 {
		return Reply{}, &ProviderError{Provider: c.http.name, Err: errors.New("response has no choices")}
	}
	return Reply{Text: strings.TrimSpace(out.Choices[0].Text)}, nil
}
