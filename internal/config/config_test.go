package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capmapt/chatsvtr-sub005/internal/models"
)

const validYAML = `
server:
  port: 8787
candidates:
  - id: "@cf/meta/llama-3.3-70b-instruct"
    cost_class: heavy
  - id: "@cf/qwen/qwen2.5-coder-32b-instruct"
    cost_class: code
  - id: "@cf/meta/llama-3.1-8b-instruct"
    cost_class: light
quota:
  daily_requests: 100
  monthly_tokens: 1000000
  max_tokens_per_request: 4096
  store_path: data/usage.db
generation:
  max_tokens: 2048
  temperature: 0.7
  top_p: 0.9
prompt:
  facts_path: ""
runners:
  workersai:
    api_key: "${CHATSVTR_TEST_KEY}"
    base_url: https://api.cloudflare.com/client/v4/accounts/acc/ai/run
    models:
      - "@cf/meta/llama-3.3-70b-instruct"
      - "@cf/qwen/qwen2.5-coder-32b-instruct"
      - "@cf/meta/llama-3.1-8b-instruct"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("CHATSVTR_TEST_KEY", "secret-token")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Len(t, cfg.Candidates, 3)
	assert.Equal(t, "secret-token", cfg.Runners.WorkersAI.APIKey,
		"api_key must be expanded from the environment")
	assert.Equal(t, 30, cfg.Orchestrator.AttemptTimeoutSeconds, "default applies")

	candidates := cfg.ModelCandidates()
	require.Len(t, candidates, 3)
	assert.Equal(t, models.CostHeavy, candidates[0].CostClass)

	gen := cfg.GenerationParams()
	assert.Equal(t, 2048, gen.MaxTokens)
	assert.InDelta(t, 0.7, gen.Temperature, 0.001)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	t.Setenv("CHATSVTR_TEST_KEY", "secret-token")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "no candidates",
			mutate:  func(c *Config) { c.Candidates = nil },
			wantErr: "candidate",
		},
		{
			name: "unknown cost class",
			mutate: func(c *Config) {
				c.Candidates[0].CostClass = "enormous"
			},
			wantErr: "cost_class",
		},
		{
			name: "duplicate candidate",
			mutate: func(c *Config) {
				c.Candidates[1] = c.Candidates[0]
			},
			wantErr: "more than once",
		},
		{
			name:    "zero daily limit",
			mutate:  func(c *Config) { c.Quota.DailyRequests = 0 },
			wantErr: "daily_requests",
		},
		{
			name:    "no runners",
			mutate:  func(c *Config) { c.Runners = RunnersConfig{} },
			wantErr: "runner",
		},
		{
			name: "candidate without runner",
			mutate: func(c *Config) {
				c.Runners.WorkersAI.Models = c.Runners.WorkersAI.Models[:1]
			},
			wantErr: "not served by any configured runner",
		},
		{
			name: "runner missing api key",
			mutate: func(c *Config) {
				c.Runners.WorkersAI.APIKey = "  "
			},
			wantErr: "api_key",
		},
		{
			name: "bad header name",
			mutate: func(c *Config) {
				c.Runners.WorkersAI.Headers = Headers{"X Bad Header": "v"}
			},
			wantErr: "canonical HTTP header",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Generation.Temperature = 3.5 },
			wantErr: "temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
