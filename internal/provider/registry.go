package provider

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownModel indicates the requested model is not registered.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// Registry maintains a mapping of model IDs to runners.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Runner
	byName map[string]Runner
}

// NewRegistry constructs an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]Runner),
		byName: make(map[string]Runner),
	}
}

// RegisterRunner adds the runner and its served models to the registry.
func (r *Registry) RegisterRunner(runner Runner) error {
	if runner == nil {
		return errors.New("runner must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[runner.Name()]; exists {
		return fmt.Errorf("runner %q already registered", runner.Name())
	}
	r.byName[runner.Name()] = runner

	for _, model := range runner.Models() {
		if _, exists := r.models[model]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateModel, model)
		}
		r.models[model] = runner
	}

	return nil
}

// LookupModel returns the runner serving a given model ID.
func (r *Registry) LookupModel(modelID string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.models[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return runner, nil
}
