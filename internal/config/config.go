package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capmapt/chatsvtr-sub005/internal/models"
)

const (
	defaultAttemptTimeoutSeconds = 30
	defaultMaxTokens             = 2048
	defaultTemperature           = 0.7
	defaultTopP                  = 0.9
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Candidates   []CandidateConfig  `yaml:"candidates"`
	Quota        QuotaConfig        `yaml:"quota"`
	Generation   GenerationConfig   `yaml:"generation"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Prompt       PromptConfig       `yaml:"prompt"`
	Runners      RunnersConfig      `yaml:"runners"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// CandidateConfig describes one entry of the ordered model candidate pool.
// List order in the YAML file encodes fallback priority.
type CandidateConfig struct {
	ID        string `yaml:"id"`
	CostClass string `yaml:"cost_class"`
}

// QuotaConfig carries the free-tier budget limits and the usage store location.
type QuotaConfig struct {
	DailyRequests       int    `yaml:"daily_requests"`
	MonthlyTokens       int    `yaml:"monthly_tokens"`
	MaxTokensPerRequest int    `yaml:"max_tokens_per_request"`
	StorePath           string `yaml:"store_path"`
}

// GenerationConfig holds the fixed generation parameters sent upstream.
type GenerationConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

// OrchestratorConfig tunes the fallback loop.
type OrchestratorConfig struct {
	AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
}

// PromptConfig configures the system prompt enrichment.
type PromptConfig struct {
	Persona   string   `yaml:"persona"`
	FactsPath string   `yaml:"facts_path"`
	Triggers  []string `yaml:"triggers"`
}

// RunnersConfig catalogues the configured model execution backends.
type RunnersConfig struct {
	WorkersAI *RunnerConfig `yaml:"workersai"`
	OpenAI    *RunnerConfig `yaml:"openai"`
}

// RunnerConfig captures authentication and routing info for a runner.
// APIKey and BaseURL support ${VAR} environment expansion.
type RunnerConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
	Headers Headers  `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a runner request.
type Headers map[string]string

// Load reads YAML configuration from disk, expands environment references
// and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyDefaults()
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Orchestrator.AttemptTimeoutSeconds == 0 {
		c.Orchestrator.AttemptTimeoutSeconds = defaultAttemptTimeoutSeconds
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = defaultMaxTokens
	}
	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = defaultTemperature
	}
	if c.Generation.TopP == 0 {
		c.Generation.TopP = defaultTopP
	}
}

func (c *Config) expandEnv() {
	for _, runner := range []*RunnerConfig{c.Runners.WorkersAI, c.Runners.OpenAI} {
		if runner == nil {
			continue
		}
		runner.APIKey = os.ExpandEnv(runner.APIKey)
		runner.BaseURL = os.ExpandEnv(runner.BaseURL)
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if len(c.Candidates) == 0 {
		return fmt.Errorf("at least one model candidate must be configured")
	}

	seen := make(map[string]struct{}, len(c.Candidates))
	for _, candidate := range c.Candidates {
		if strings.TrimSpace(candidate.ID) == "" {
			return fmt.Errorf("candidate id must not be empty")
		}
		if !models.ValidCostClass(models.CostClass(candidate.CostClass)) {
			return fmt.Errorf("candidate %s: cost_class %q must be one of %q, %q or %q",
				candidate.ID, candidate.CostClass, models.CostLight, models.CostHeavy, models.CostCode)
		}
		if _, dup := seen[candidate.ID]; dup {
			return fmt.Errorf("candidate %s configured more than once", candidate.ID)
		}
		seen[candidate.ID] = struct{}{}
	}

	if c.Quota.DailyRequests <= 0 {
		return fmt.Errorf("quota.daily_requests must be positive, got %d", c.Quota.DailyRequests)
	}
	if c.Quota.MonthlyTokens <= 0 {
		return fmt.Errorf("quota.monthly_tokens must be positive, got %d", c.Quota.MonthlyTokens)
	}
	if c.Quota.MaxTokensPerRequest <= 0 {
		return fmt.Errorf("quota.max_tokens_per_request must be positive, got %d", c.Quota.MaxTokensPerRequest)
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature %v must be between 0 and 2", c.Generation.Temperature)
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		return fmt.Errorf("generation.top_p %v must be between 0 and 1", c.Generation.TopP)
	}
	if c.Orchestrator.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("orchestrator.attempt_timeout_seconds must be positive, got %d", c.Orchestrator.AttemptTimeoutSeconds)
	}

	runners := map[string]*RunnerConfig{
		"workersai": c.Runners.WorkersAI,
		"openai":    c.Runners.OpenAI,
	}

	configured := 0
	served := make(map[string]struct{})
	for name, runner := range runners {
		if runner == nil {
			continue
		}
		configured++
		if err := validateRunner(name, *runner); err != nil {
			return err
		}
		for _, model := range runner.Models {
			if _, dup := served[model]; dup {
				return fmt.Errorf("model %s is served by more than one runner", model)
			}
			served[model] = struct{}{}
		}
	}
	if configured == 0 {
		return fmt.Errorf("at least one runner must be configured")
	}

	for _, candidate := range c.Candidates {
		if _, ok := served[candidate.ID]; !ok {
			return fmt.Errorf("candidate %s is not served by any configured runner", candidate.ID)
		}
	}

	return nil
}

func validateRunner(name string, runner RunnerConfig) error {
	if strings.TrimSpace(runner.APIKey) == "" {
		return fmt.Errorf("runner %s: api_key must be provided", name)
	}
	if strings.TrimSpace(runner.BaseURL) == "" {
		return fmt.Errorf("runner %s: base_url must be provided", name)
	}
	if len(runner.Models) == 0 {
		return fmt.Errorf("runner %s: at least one model must be configured", name)
	}

	for _, model := range runner.Models {
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("runner %s: model id must not be empty", name)
		}
	}

	for headerKey := range runner.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("runner %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	return nil
}

// GenerationParams converts the configured generation settings into domain form.
func (c Config) GenerationParams() models.GenerationParams {
	return models.GenerationParams{
		MaxTokens:   c.Generation.MaxTokens,
		Temperature: c.Generation.Temperature,
		TopP:        c.Generation.TopP,
	}
}

// ModelCandidates converts the configured candidate pool into domain form,
// preserving priority order.
func (c Config) ModelCandidates() []models.ModelCandidate {
	out := make([]models.ModelCandidate, 0, len(c.Candidates))
	for _, candidate := range c.Candidates {
		out = append(out, models.ModelCandidate{
			ID:        candidate.ID,
			CostClass: models.CostClass(candidate.CostClass),
		})
	}
	return out
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
