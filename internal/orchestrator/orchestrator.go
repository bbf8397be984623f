// Package orchestrator ties the chat pipeline together: prompt enrichment,
// model selection, the sequential fallback loop and usage accounting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/capmapt/chatsvtr-sub005/internal/models"
	"github.com/capmapt/chatsvtr-sub005/internal/prompt"
	"github.com/capmapt/chatsvtr-sub005/internal/provider"
	"github.com/capmapt/chatsvtr-sub005/internal/quota"
	"github.com/capmapt/chatsvtr-sub005/internal/selector"
)

// ErrAllCandidatesFailed indicates every configured candidate failed. The
// HTTP layer maps this to a generic message that never names candidates.
var ErrAllCandidatesFailed = errors.New("all model candidates failed")

// ErrEmptyConversation indicates a request without any messages.
var ErrEmptyConversation = errors.New("conversation must contain at least one message")

// ErrInvalidRole indicates a message with an unrecognised role.
var ErrInvalidRole = errors.New("invalid message role")

// QuotaError reports a request denied by the usage monitor.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return "quota exceeded: " + e.Reason
}

// Attempt is the tagged result of one candidate invocation.
type Attempt struct {
	Candidate models.ModelCandidate
	Err       error
	Elapsed   time.Duration

	stream *provider.Stream
}

// Orchestrator handles a chat request end to end and returns the winning
// candidate's stream.
type Orchestrator struct {
	registry       *provider.Registry
	selector       *selector.Selector
	prompts        *prompt.Library
	monitor        *quota.Monitor
	gen            models.GenerationParams
	attemptTimeout time.Duration
}

// New wires an orchestrator from its collaborators.
func New(registry *provider.Registry, sel *selector.Selector, prompts *prompt.Library, monitor *quota.Monitor, gen models.GenerationParams, attemptTimeout time.Duration) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	if sel == nil {
		return nil, errors.New("selector must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("prompt library must not be nil")
	}
	if monitor == nil {
		return nil, errors.New("usage monitor must not be nil")
	}
	if attemptTimeout <= 0 {
		return nil, fmt.Errorf("attempt timeout must be positive, got %v", attemptTimeout)
	}

	return &Orchestrator{
		registry:       registry,
		selector:       sel,
		prompts:        prompts,
		monitor:        monitor,
		gen:            gen,
		attemptTimeout: attemptTimeout,
	}, nil
}

// HandleChat validates the history, injects the enriched system message,
// consults the quota gate and walks the candidate list until one invocation
// succeeds. It returns the winning stream and candidate; on exhaustion it
// returns ErrAllCandidatesFailed.
func (o *Orchestrator) HandleChat(ctx context.Context, history []models.Message) (*provider.Stream, models.ModelCandidate, error) {
	conversation, err := buildConversation(o.prompts.SystemPrompt(), history)
	if err != nil {
		return nil, models.ModelCandidate{}, err
	}

	estimated := estimateConversation(conversation)
	if decision := o.monitor.CheckQuota(ctx, estimated); !decision.Allowed {
		return nil, models.ModelCandidate{}, &QuotaError{Reason: decision.Reason}
	}

	candidates := o.selector.Select(conversation)

	var attempts []Attempt
	for _, candidate := range candidates {
		attempt := o.tryCandidate(ctx, candidate, conversation)
		attempts = append(attempts, attempt)

		if attempt.Err == nil {
			o.monitor.RecordUsage(ctx, estimated)
			slog.Info("chat served",
				"model", candidate.ID,
				"cost_class", candidate.CostClass,
				"attempts", len(attempts),
				"elapsed_ms", attempt.Elapsed.Milliseconds(),
			)
			return attempt.stream, candidate, nil
		}

		slog.Warn("model attempt failed",
			"model", candidate.ID,
			"elapsed_ms", attempt.Elapsed.Milliseconds(),
			"err", attempt.Err,
		)

		// The caller is gone; further candidates would fail the same way.
		if ctx.Err() != nil {
			return nil, models.ModelCandidate{}, ctx.Err()
		}
	}

	return nil, models.ModelCandidate{}, ErrAllCandidatesFailed
}

// tryCandidate runs one candidate under the per-attempt deadline. The
// deadline only bounds obtaining the response: once the upstream starts
// streaming, cancellation moves to the stream's lifetime.
func (o *Orchestrator) tryCandidate(ctx context.Context, candidate models.ModelCandidate, conversation []models.Message) Attempt {
	start := time.Now()

	runner, err := o.registry.LookupModel(candidate.ID)
	if err != nil {
		return Attempt{Candidate: candidate, Err: err, Elapsed: time.Since(start)}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(o.attemptTimeout, cancel)

	stream, err := runner.Stream(attemptCtx, provider.StreamRequest{
		Model:       candidate.ID,
		Messages:    conversation,
		MaxTokens:   o.gen.MaxTokens,
		Temperature: o.gen.Temperature,
		TopP:        o.gen.TopP,
	})
	elapsed := time.Since(start)

	if err != nil {
		timer.Stop()
		cancel()
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("attempt timed out after %v: %w", o.attemptTimeout, err)
		}
		return Attempt{Candidate: candidate, Err: err, Elapsed: elapsed}
	}

	timer.Stop()
	stream.AttachCancel(cancel)
	return Attempt{Candidate: candidate, Elapsed: elapsed, stream: stream}
}

// buildConversation injects the enriched system message at position 0.
// Caller-supplied system messages are dropped so a conflicting persona
// cannot be smuggled in.
func buildConversation(systemPrompt string, history []models.Message) ([]models.Message, error) {
	if len(history) == 0 {
		return nil, ErrEmptyConversation
	}

	conversation := make([]models.Message, 0, len(history)+1)
	conversation = append(conversation, models.Message{
		Role:    models.RoleSystem,
		Content: systemPrompt,
	})

	kept := 0
	for i, msg := range history {
		if !models.ValidRole(msg.Role) {
			return nil, fmt.Errorf("%w: %q at message %d", ErrInvalidRole, msg.Role, i)
		}
		if msg.Role == models.RoleSystem {
			continue
		}
		conversation = append(conversation, msg)
		kept++
	}

	if kept == 0 {
		return nil, ErrEmptyConversation
	}
	return conversation, nil
}

func estimateConversation(conversation []models.Message) int {
	contents := make([]string, 0, len(conversation))
	for _, msg := range conversation {
		contents = append(contents, msg.Content)
	}
	return quota.EstimateConversation(contents)
}
