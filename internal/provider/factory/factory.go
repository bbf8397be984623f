package factory

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/capmapt/chatsvtr-sub005/internal/config"
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
	openaiRunner "github.com/capmapt/chatsvtr-sub005/internal/provider/openai"
	workersaiRunner "github.com/capmapt/chatsvtr-sub005/internal/provider/workersai"
)

const (
	defaultDialTimeout           = 10 * time.Second
	defaultKeepAlive             = 30 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultResponseHeaderTimeout = 60 * time.Second
)

// RegisterConfiguredRunners constructs runners from configuration and stores
// them in the registry.
func RegisterConfiguredRunners(cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	registered := 0

	if cfg.Runners.WorkersAI != nil {
		runner, err := workersaiRunner.New("workersai", *cfg.Runners.WorkersAI, newHTTPClient())
		if err != nil {
			return fmt.Errorf("initialise workersai runner: %w", err)
		}
		if err := registry.RegisterRunner(runner); err != nil {
			return fmt.Errorf("register workersai runner: %w", err)
		}
		registered++
	}

	if cfg.Runners.OpenAI != nil {
		runner, err := openaiRunner.New("openai", *cfg.Runners.OpenAI, newHTTPClient())
		if err != nil {
			return fmt.Errorf("initialise openai runner: %w", err)
		}
		if err := registry.RegisterRunner(runner); err != nil {
			return fmt.Errorf("register openai runner: %w", err)
		}
		registered++
	}

	if registered == 0 {
		return errors.New("no runners configured")
	}

	return nil
}

// newHTTPClient builds a client suitable for long-lived streaming responses:
// connection setup is bounded by the transport timeouts but the overall
// request deliberately has none, since the fallback loop applies its own
// per-attempt deadline and streams may outlive it.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
	}
}
