// Package responder holds the HTTP clients for the external inference
// providers. Each turns a message history into a normalized Reply.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/pkg/logger"
	"realtime-chat/backend/pkg/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Reply is the normalized output of a responder
type Reply struct {
	Text       string
	References []models.Reference
}

// Responder produces a reply to the conversation so far
type Responder interface {
	Respond(ctx context.Context, history []models.Turn) (Reply, error)
}

// Func adapts a plain function to the Responder interface
type Func func(ctx context.Context, history []models.Turn) (Reply, error)

// Respond calls f
func (f Func) Respond(ctx context.Context, history []models.Turn) (Reply, error) {
	return f(ctx, history)
}

// ProviderError is returned when the provider call fails or answers in an unexpected shape
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ChatRequest is the payload both providers accept
type ChatRequest struct {
	Messages []models.Turn `json:"messages"`
}

// Options configures the HTTP transport shared by the clients
type Options struct {
	// Timeout bounds a whole call. Zero means no timeout.
	Timeout time.Duration
	// APIKey is sent as a bearer token when set
	APIKey string
	// HTTPClient overrides the default client
	HTTPClient *http.Client
	Logger     *logger.Logger
}

type httpClient struct {
	name   string
	url    string
	apiKey string
	client *http.Client
	log    *logger.Logger
}

func newHTTPClient(name, url string, opts Options) httpClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobal()
	}
	return httpClient{
		name:   name,
		url:    url,
		apiKey: opts.APIKey,
		client: client,
		log:    log.With("responder", name),
	}
}

// post sends the history and decodes the JSON answer into out
func (c httpClient) post(ctx context.Context, history []models.Turn, out any) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "responder."+c.name)
	span.SetAttributes(
		attribute.String("responder.url", c.url),
		attribute.Int("responder.history_length", len(history)),
	)
	start := time.Now()
	defer func() {
		observability.RecordResponderCall(ctx, c.name, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if history == nil {
		history = []models.Turn{}
	}
	body, err := json.Marshal(ChatRequest{Messages: history})
	if err != nil {
		return &ProviderError{Provider: c.name, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &ProviderError{Provider: c.name, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("Sending responder request", "messages", len(history))
	resp, err := c.client.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", bytes.TrimSpace(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Provider: c.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
