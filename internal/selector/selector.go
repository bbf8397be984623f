// Package selector picks the primary model candidate for a conversation and
// orders the remaining pool as fallbacks.
package selector

import (
	"errors"
	"strings"

	"github.com/samber/lo"

	"github.com/capmapt/chatsvtr-sub005/internal/models"
)

// defaultTriggers mark a conversation as code-related. Deployments can
// extend the list via configuration.
var defaultTriggers = []string{"code", "代码", "programming", "编程"}

// Selector orders model candidates by content heuristics.
type Selector struct {
	candidates []models.ModelCandidate
	triggers   []string
}

// New constructs a selector over the configured candidate pool. The pool
// order encodes fallback priority.
func New(candidates []models.ModelCandidate, extraTriggers []string) (*Selector, error) {
	if len(candidates) == 0 {
		return nil, errors.New("candidate pool must not be empty")
	}

	triggers := make([]string, 0, len(defaultTriggers)+len(extraTriggers))
	triggers = append(triggers, defaultTriggers...)
	for _, trigger := range extraTriggers {
		if t := strings.ToLower(strings.TrimSpace(trigger)); t != "" {
			triggers = append(triggers, t)
		}
	}

	return &Selector{
		candidates: candidates,
		triggers:   lo.Uniq(triggers),
	}, nil
}

// Select returns the ordered candidate list to attempt for the conversation:
// the code-specialized candidate first when a trigger term appears in any
// user or assistant message, otherwise the default heavy candidate, followed
// by the rest of the pool in configured priority order. The result never
// contains duplicates and is never empty.
func (s *Selector) Select(conversation []models.Message) []models.ModelCandidate {
	primary := s.primary(conversation)

	ordered := make([]models.ModelCandidate, 0, len(s.candidates))
	ordered = append(ordered, primary)
	ordered = append(ordered, s.candidates...)

	return lo.UniqBy(ordered, func(c models.ModelCandidate) string { return c.ID })
}

func (s *Selector) primary(conversation []models.Message) models.ModelCandidate {
	if s.codeRelated(conversation) {
		if candidate, ok := s.firstOfClass(models.CostCode); ok {
			return candidate
		}
	}
	if candidate, ok := s.firstOfClass(models.CostHeavy); ok {
		return candidate
	}
	return s.candidates[0]
}

// codeRelated scans user and assistant content only. System messages carry
// the injected persona and freshness facts, and a trigger term appearing in
// a curated fact must not reroute every request to the code model.
func (s *Selector) codeRelated(conversation []models.Message) bool {
	var b strings.Builder
	for _, msg := range conversation {
		if msg.Role == models.RoleSystem {
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	content := strings.ToLower(b.String())

	for _, trigger := range s.triggers {
		if strings.Contains(content, trigger) {
			return true
		}
	}
	return false
}

func (s *Selector) firstOfClass(class models.CostClass) (models.ModelCandidate, bool) {
	for _, candidate := range s.candidates {
		if candidate.CostClass == class {
			return candidate, true
		}
	}
	return models.ModelCandidate{}, false
}
