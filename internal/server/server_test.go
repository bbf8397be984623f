package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capmapt/chatsvtr-sub005/internal/config"
	"github.com/capmapt/chatsvtr-sub005/internal/kvstore"
	"github.com/capmapt/chatsvtr-sub005/internal/orchestrator"
	"github.com/capmapt/chatsvtr-sub005/internal/prompt"
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
	"github.com/capmapt/chatsvtr-sub005/internal/quota"
	"github.com/capmapt/chatsvtr-sub005/internal/selector"
)

type stubRunner struct {
	failures map[string]error
	body     string
}

func (r *stubRunner) Name() string { return "stub" }

func (r *stubRunner) Models() []string {
	return []string{"heavy-model", "code-model"}
}

func (r *stubRunner) Stream(ctx context.Context, req provider.StreamRequest) (*provider.Stream, error) {
	if err, ok := r.failures[req.Model]; ok {
		return nil, err
	}
	return provider.NewStream("text/event-stream", io.NopCloser(strings.NewReader(r.body))), nil
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8787},
		Candidates: []config.CandidateConfig{
			{ID: "heavy-model", CostClass: "heavy"},
			{ID: "code-model", CostClass: "code"},
		},
		Quota: config.QuotaConfig{
			DailyRequests:       100,
			MonthlyTokens:       100_000,
			MaxTokensPerRequest: 4_096,
		},
		Generation: config.GenerationConfig{
			MaxTokens:   256,
			Temperature: 0.7,
			TopP:        0.9,
		},
		Orchestrator: config.OrchestratorConfig{AttemptTimeoutSeconds: 5},
		Runners: config.RunnersConfig{
			WorkersAI: &config.RunnerConfig{
				APIKey:  "test-key",
				BaseURL: "https://example.invalid/ai/run",
				Models:  []string{"heavy-model", "code-model"},
			},
		},
	}
}

func newTestServer(t *testing.T, runner *stubRunner) *httptest.Server {
	t.Helper()

	cfg := testConfig()

	registry := provider.NewRegistry()
	require.NoError(t, registry.RegisterRunner(runner))

	sel, err := selector.New(cfg.ModelCandidates(), nil)
	require.NoError(t, err)

	prompts, err := prompt.NewLibrary("test persona", "")
	require.NoError(t, err)

	monitor := quota.NewMonitor(kvstore.NewMemory(), quota.Limits{
		DailyRequests:       cfg.Quota.DailyRequests,
		MonthlyTokens:       cfg.Quota.MonthlyTokens,
		MaxTokensPerRequest: cfg.Quota.MaxTokensPerRequest,
	})

	orch, err := orchestrator.New(registry, sel, prompts, monitor,
		cfg.GenerationParams(), 5*time.Second)
	require.NoError(t, err)

	srv, err := New(cfg, orch, monitor)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.app)
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubRunner{body: "data: ok\n\n"})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatPreflight(t *testing.T) {
	ts := newTestServer(t, &stubRunner{body: "data: ok\n\n"})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
}

func TestSecureHeaders(t *testing.T) {
	ts := newTestServer(t, &stubRunner{body: "data: ok\n\n"})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	ts := newTestServer(t, &stubRunner{})

	resp, err := http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var payload errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "invalid_request_error", payload.Error)
	assert.NotEmpty(t, payload.Message)
}

func TestChatStreamsUpstreamBody(t *testing.T) {
	ts := newTestServer(t, &stubRunner{body: "data: {\"response\":\"你好！\"}\n\ndata: [DONE]\n\n"})

	resp := postChat(t, ts, `{"messages":[{"role":"user","content":"你好"}]}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "你好！")
	assert.Contains(t, string(body), "[DONE]")
}

func TestChatInvalidJSON(t *testing.T) {
	ts := newTestServer(t, &stubRunner{})

	resp := postChat(t, ts, `{not json`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var payload errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "invalid_request_error", payload.Error)
	assert.NotEmpty(t, payload.Message)
}

func TestChatMissingMessages(t *testing.T) {
	ts := newTestServer(t, &stubRunner{})

	for _, body := range []string{`{}`, `{"messages":[]}`} {
		resp := postChat(t, ts, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestChatEmptyBody(t *testing.T) {
	ts := newTestServer(t, &stubRunner{})

	resp := postChat(t, ts, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatExhaustionHidesModelIdentifiers(t *testing.T) {
	runner := &stubRunner{
		failures: map[string]error{
			"heavy-model": errors.New("upstream 503"),
			"code-model":  errors.New("upstream 503"),
		},
	}
	ts := newTestServer(t, runner)

	resp := postChat(t, ts, `{"messages":[{"role":"user","content":"你好"}]}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), exhaustionMessage)
	assert.NotContains(t, string(body), "heavy-model")
	assert.NotContains(t, string(body), "code-model")
}

func TestQuotaEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubRunner{body: "data: ok\n\n"})

	// Serve one chat so the counters move.
	resp := postChat(t, ts, `{"messages":[{"role":"user","content":"你好"}]}`)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	quotaResp, err := http.Get(ts.URL + "/api/quota")
	require.NoError(t, err)
	defer quotaResp.Body.Close()

	assert.Equal(t, http.StatusOK, quotaResp.StatusCode)

	var info quota.Info
	require.NoError(t, json.NewDecoder(quotaResp.Body).Decode(&info))
	assert.Equal(t, 1, info.Daily.Used)
	assert.Equal(t, 100, info.Daily.Limit)
	assert.Equal(t, 99, info.Daily.Remaining)
	assert.Greater(t, info.Monthly.Used, 0)
}

func TestChatTrailingGarbageRejected(t *testing.T) {
	ts := newTestServer(t, &stubRunner{})

	resp := postChat(t, ts, `{"messages":[{"role":"user","content":"hi"}]} extra`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
