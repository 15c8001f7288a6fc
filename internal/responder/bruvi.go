package responder

import (
	"context"
	"errors"

	"realtime-chat/backend/internal/models"
)

// RAGResponse is the answer of the retrieval-augmented endpoint
type RAGResponse struct {
	Content    *string            `json:"content"`
	References []models.Reference `json:"references"`
}

// BruviClient calls the retrieval-augmented sales assistant
type BruviClient struct {
	http httpClient
}

// NewBruviClient creates a client posting to url
func NewBruviClient(url string, opts Options) *BruviClient {
	return &BruviClient{http: newHTTPClient("bruvi", url, opts)}
}

// Respond returns the generated content and its citations
func (c *BruviClient) Respond(ctx context.Context, history []models.Turn) (Reply, error) {
	var out RAGResponse
	if err := c.http.post(ctx, history, &out); err != nil {
		return Reply{}, err
	}
	if out.Content == nil {
		return Reply{}, &ProviderError{Provider: c.http.name, Err: errors.New("response has no content")}
	}
	return Reply{Text: *out.Content, References: out.References}, nil
}
