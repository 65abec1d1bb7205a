// Package executors routes a mapping's reaction to the provider that
// performs it. One Executor is registered per provider; the registry parses
// the provider from the reaction type and converts every failure, including
// panics, into a Result.
package executors

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"area-engine/internal/common/logging"
	"area-engine/internal/models"
)

var (
	ErrInvalidReactionType   = stderrors.New("invalid reaction type")
	ErrExecutorNotRegistered = stderrors.New("executor not registered")
	ErrExecutorPanicked      = stderrors.New("executor panicked")
)

// ServiceConfig is what a provider needs to act on behalf of the user.
type ServiceConfig struct {
	Credentials *models.Credential
	Settings    map[string]interface{}
	Env         map[string]string
}

type ExecutionContext struct {
	Reaction      models.TypedConfig
	Event         *models.Event
	Mapping       *models.Mapping
	ServiceConfig ServiceConfig
}

// Result is the outcome of one reaction. Err carries the classified failure
// for callers; Error is its message.
type Result struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Err     error                  `json:"-"`
}

// Succeeded builds a successful Result.
func Succeeded(output map[string]interface{}) Result {
	return Result{Success: true, Output: output}
}

// Failed builds a failed Result from err.
func Failed(err error) Result {
	return Result{Success: false, Error: err.Error(), Err: err}
}

// Executor performs the reactions of one provider. Implementations validate
// their config and report failures in the Result.
type Executor interface {
	Execute(ctx context.Context, ec *ExecutionContext) Result
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, ec *ExecutionContext) Result

func (f ExecutorFunc) Execute(ctx context.Context, ec *ExecutionContext) Result {
	return f(ctx, ec)
}

type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	logger    logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "executor_registry"}),
	}
}

// Register binds executor to providerID.
func (r *Registry) Register(providerID string, executor Executor) error {
	if providerID == "" || executor == nil {
		return fmt.Errorf("provider id and executor are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[providerID]; exists {
		return fmt.Errorf("executor for service '%s' is already registered", providerID)
	}
	r.executors[providerID] = executor
	r.logger.Debug("Registered reaction executor", logging.Field{Key: "service", Value: providerID})
	return nil
}

func (r *Registry) Unregister(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[providerID]; !exists {
		r.logger.Warn("Executor is not registered", logging.Field{Key: "service", Value: providerID})
		return
	}
	delete(r.executors, providerID)
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for id := range r.executors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ExecuteReaction runs reactionType through its provider's executor. Only the
// text before the first dot selects the executor.
func (r *Registry) ExecuteReaction(ctx context.Context, reactionType string, ec *ExecutionContext) (res Result) {
	provider, _, _ := strings.Cut(strings.TrimSpace(reactionType), ".")
	if provider == "" {
		return Failed(fmt.Errorf("%w: %q", ErrInvalidReactionType, reactionType))
	}

	r.mu.RLock()
	executor, ok := r.executors[provider]
	r.mu.RUnlock()
	if !ok {
		return Failed(fmt.Errorf("%w: no executor registered for service: %s", ErrExecutorNotRegistered, provider))
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Reaction executor panicked", fmt.Errorf("%v", p),
				logging.Field{Key: "reaction_type", Value: reactionType},
				logging.Field{Key: "stack", Value: string(debug.Stack())},
			)
			res = Failed(fmt.Errorf("%w: %v", ErrExecutorPanicked, p))
		}
	}()

	res = executor.Execute(ctx, ec)
	if !res.Success && res.Error == "" {
		res.Error = "reaction failed"
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}
	return res
}
