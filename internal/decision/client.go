package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"worldloom.ai/internal/sim/tuning"
)

// ErrorKind classifies a failed decision-service call. Each kind maps to a
// distinct user-facing message; none of them mutate world state.
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota
	KindAuth
	KindRateLimit
	KindTimeout
	KindBadRequest
)

type CallError struct {
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string { return fmt.Sprintf("decision call: %v", e.Err) }
func (e *CallError) Unwrap() error { return e.Err }

// ClassifyError extracts the kind from any error returned by Decide.
func ClassifyError(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnavailable
}

// UserMessage is the explanatory text sent back to the initiating
// connection for each failure kind.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindAuth:
		return "The decision service rejected the provided key. Check your API key."
	case KindRateLimit:
		return "The decision service is rate limiting requests. Try again shortly."
	case KindTimeout:
		return "The decision service took too long to answer. Nothing happened."
	case KindBadRequest:
		return "The decision service could not understand the request. Nothing happened."
	default:
		return "The decision service is unavailable right now. Try again later."
	}
}

// Client calls the external decision service over HTTP with a hard
// wall-clock timeout. The response body is treated as untrusted free text;
// see Repair.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	log         *log.Logger
}

func NewClient(cfg tuning.DecisionTuning, logger *log.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{},
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Decide sends the serialized context and the player's action, returning the
// raw response text. apiKey and model override the configured defaults when
// non-empty (clients may bring their own key).
func (c *Client) Decide(ctx context.Context, systemContext, userAction, apiKey, model string) (string, error) {
	if c.endpoint == "" {
		return "", &CallError{Kind: KindUnavailable, Err: errors.New("no endpoint configured")}
	}
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemContext},
			{Role: "user", Content: userAction},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", &CallError{Kind: KindBadRequest, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &CallError{Kind: KindBadRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return "", &CallError{Kind: KindTimeout, Err: err}
		}
		return "", &CallError{Kind: KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &CallError{Kind: KindTimeout, Err: err}
		}
		return "", &CallError{Kind: KindUnavailable, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &CallError{Kind: KindAuth, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &CallError{Kind: KindRateLimit, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusBadRequest:
		return "", &CallError{Kind: KindBadRequest, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", &CallError{Kind: KindUnavailable, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		// Some backends return the text directly.
		return string(raw), nil
	}
	return parsed.Choices[0].Message.Content, nil
}
