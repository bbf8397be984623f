// Package openai invokes models behind an OpenAI-compatible chat
// completions endpoint with streaming enabled.
package openai

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
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "chatsvtr/0.1"
)

// Runner implements provider.Runner for OpenAI-compatible APIs.
type Runner struct {
	name    string
	apiKey  string
	headers map[string]string
	client  *http.Client
	models  []string
	chatURL string
}

// New creates a new OpenAI-compatible runner.
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
		headers: cfg.Headers,
		client:  client,
		models:  modelsList,
		chatURL: baseURL + "/chat/completions",
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

// Stream posts a streaming chat completion and returns the SSE body
// unmodified.
func (r *Runner) Stream(ctx context.Context, req provider.StreamRequest) (*provider.Stream, error) {
	payload, err := buildChatPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := r.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai chat request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return provider.NewStream(httpResp.Header.Get("Content-Type"), httpResp.Body), nil
}

func (r *Runner) newRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.chatURL, bytes.NewReader(body))
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

type chatPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(req provider.StreamRequest) (chatPayload, error) {
	messages := make([]openAIMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			return chatPayload{}, errors.New("message content must not be empty")
		}
		messages = append(messages, openAIMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	payload := chatPayload{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}

	if req.MaxTokens > 0 {
		v := req.MaxTokens
		payload.MaxTokens = &v
	}
	if req.Temperature > 0 {
		v := req.Temperature
		payload.Temperature = &v
	}
	if req.TopP > 0 {
		v := req.TopP
		payload.TopP = &v
	}

	return payload, nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("openai error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
