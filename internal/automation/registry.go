package automation

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// ActionHandler implements one side-effecting capability, looked up by its
// action type. Handlers validate their own Config.
type ActionHandler interface {
	Execute(ctx context.Context, c Context, cfg Config) (any, error)
}

// HandlerFunc adapts a function to ActionHandler.
type HandlerFunc func(ctx context.Context, c Context, cfg Config) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, c Context, cfg Config) (any, error) {
	return f(ctx, c, cfg)
}

// EntityLocker is implemented by handlers that mutate one entity. The engine
// serializes calls that return the same non-empty key.
type EntityLocker interface {
	LockKey(c Context, cfg Config) string
}

// Registry maps action types to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]ActionHandler{}}
}

// Register adds or replaces the handler for actionType.
// It panics on an empty type or nil handler.
func (r *Registry) Register(actionType string, h ActionHandler) {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" || h == nil {
		panic("automation: Register needs a type and a handler")
	}
	r.mu.Lock()
	r.handlers[actionType] = h
	r.mu.Unlock()
}

func (r *Registry) Lookup(actionType string) (ActionHandler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[actionType]
	r.mu.RUnlock()
	return h, ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Check reports the first action of rule whose type has no handler.
func (r *Registry) Check(rule Rule) error {
	for i, a := range rule.Actions {
		if _, ok := r.Lookup(a.Type); !ok {
			return &ConfigurationError{
				RuleID: rule.ID,
				Field:  "actions[" + itoa(i) + "].type",
				Reason: "no handler registered for " + a.Type,
			}
		}
	}
	return nil
}
