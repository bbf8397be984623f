// Package workersai invokes models hosted on a Cloudflare Workers AI style
// endpoint: POST {base_url}/{model} with a streaming flag in the payload.
package workersai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/capmapt/chatsvtr-sub005/internal/config"
	"github.com/capmapt/chatsvtr-sub005/internal/models"
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "chatsvtr/0.1"
)

// Runner implements provider.Runner against a Workers AI endpoint.
type Runner struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
	client  *http.Client
	models  []string
}

// New constructs a Workers AI runner instance.
func New(name string, cfg config.RunnerConfig, client *http.Client) (*Runner, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	modelsList := make([]string, len(cfg.Models))
	copy(modelsList, cfg.Models)

	return &Runner{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		headers: cfg.Headers,
		client:  client,
		models:  modelsList,
	}, nil
}

func (r *Runner) Name() string {
	return r.name
}

func (r *Runner) Models() []string {
	result := make([]string, len(r.models))
	copy(result, r.models)
	return result
}

// Stream invokes the model with streaming enabled and returns the SSE body
// unmodified. Non-2xx responses are drained into an error.
func (r *Runner) Stream(ctx context.Context, req provider.StreamRequest) (*provider.Stream, error) {
	payload := runPayload{
		Messages:    toWireMessages(req.Messages),
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	httpReq, err := r.newRequest(ctx, r.baseURL+"/"+req.Model, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("workersai run request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return provider.NewStream(httpResp.Header.Get("Content-Type"), httpResp.Body), nil
}

func (r *Runner) newRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type runPayload struct {
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(messages []models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, wireMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

type apiErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
		return fmt.Errorf("workersai error status %d: %s", resp.StatusCode, apiErr.Errors[0].Message)
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
