package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/bassamadnan/mailpilot/breaker"
	"github.com/bassamadnan/mailpilot/logger"
)

// APIError is a non-2xx answer from the completion endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat completion returned status %d: %s", e.Status, e.Body)
}

// StatusCode lets the breaker tell retryable failures apart.
func (e *APIError) StatusCode() int {
	return e.Status
}

// HTTPCompleter talks to an OpenAI-compatible chat completions endpoint.
type HTTPCompleter struct {
	endpoint string
	apiKey   string
	client   *http.Client
	br       *breaker.Breaker
	log      *zap.Logger
}

// NewHTTPCompleter creates a completer with a per-request timeout.
func NewHTTPCompleter(endpoint, apiKey string, timeout time.Duration, log *zap.Logger) *HTTPCompleter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log = logger.OrDefault(log)
	return &HTTPCompleter{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		br:       breaker.New("classifier", breaker.Options{}, log),
		log:      log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

var errNoChoices = errors.New("chat completion returned no choices")

// ChatComplete sends the request and returns the first choice's content.
// Rate limits and server errors are retried with backoff.
func (h *HTTPCompleter) ChatComplete(ctx context.Context, req ChatRequest) (string, error) {
	payload, err := json.Marshal(chatPayload{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	var content string
	err = h.br.Do(ctx, "chat.completions", func(ctx context.Context) error {
		var err error
		content, err = h.post(ctx, payload)
		return err
	})
	return content, err
}

func (h *HTTPCompleter) post(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errNoChoices
	}
	h.log.Debug("chat completion received", zap.Int("length", len(out.Choices[0].Message.Content)))
	return out.Choices[0].Message.Content, nil
}
