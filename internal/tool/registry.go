package tool

import (
	"encoding/json"
	"fmt"
	"sync"

	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

// Factory lazily materializes a tool definition on first lookup.
type Factory func() *Definition

// Registry maps action types to tool definitions. Lazy factories are
// materialized once and memoized. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:      make(map[string]*Definition),
		factories: make(map[string]Factory),
	}
}

// Register adds a materialized definition. Re-registering an action type is
// an error.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.ActionType == "" {
		return fmt.Errorf("tool definition requires an action type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ActionType]; exists {
		return fmt.Errorf("tool %q already registered", def.ActionType)
	}
	if _, exists := r.factories[def.ActionType]; exists {
		return fmt.Errorf("tool %q already registered", def.ActionType)
	}
	r.defs[def.ActionType] = def
	return nil
}

// RegisterLazy adds a factory materialized on first lookup.
func (r *Registry) RegisterLazy(actionType string, factory Factory) error {
	if actionType == "" || factory == nil {
		return fmt.Errorf("lazy registration requires an action type and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[actionType]; exists {
		return fmt.Errorf("tool %q already registered", actionType)
	}
	if _, exists := r.factories[actionType]; exists {
		return fmt.Errorf("tool %q already registered", actionType)
	}
	r.factories[actionType] = factory
	return nil
}

// Resolve returns the definition for the action type, materializing and
// memoizing a lazy factory if needed.
func (r *Registry) Resolve(actionType string) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[actionType]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if def, ok := r.defs[actionType]; ok {
		return def, nil
	}
	factory, ok := r.factories[actionType]
	if !ok {
		return nil, sferrors.NewToolNotFoundError(actionType)
	}
	def = factory()
	if def == nil {
		return nil, fmt.Errorf("tool factory for %q returned nil", actionType)
	}
	r.defs[actionType] = def
	delete(r.factories, actionType)
	return def, nil
}

// Types returns the registered action types, materialized or lazy.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs)+len(r.factories))
	for t := range r.defs {
		out = append(out, t)
	}
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}

// CallFields names the keys used to extract an action call from a provider
// record. The zero value selects the OpenAI-style layout
// {function: {name, arguments}}.
type CallFields struct {
	Container string
	Name      string
	Arguments string
}

func (f CallFields) normalize() CallFields {
	if f.Container == "" {
		f.Container = "function"
	}
	if f.Name == "" {
		f.Name = "name"
	}
	if f.Arguments == "" {
		f.Arguments = "arguments"
	}
	return f
}

// ResolvedCall is a call record matched to its definition with parsed
// arguments.
type ResolvedCall struct {
	ActionType string
	Args       map[string]interface{}
	Definition *Definition
}

// UnresolvedCall records why a call could not be resolved; Error is
// human-readable and stable enough to branch on.
type UnresolvedCall struct {
	Raw   map[string]interface{}
	Error string
}

// ParseAndResolve extracts the action name and JSON argument map from a
// call record and resolves the definition. Failures produce an
// UnresolvedCall instead of an error so a batch of calls can be partially
// resolved.
func (r *Registry) ParseAndResolve(call map[string]interface{}, fields CallFields) (*ResolvedCall, *UnresolvedCall) {
	f := fields.normalize()

	container, _ := call[f.Container].(map[string]interface{})
	if container == nil {
		return nil, &UnresolvedCall{Raw: call, Error: fmt.Sprintf("call record has no %q object", f.Container)}
	}

	name, _ := container[f.Name].(string)
	if name == "" {
		return nil, &UnresolvedCall{Raw: call, Error: fmt.Sprintf("call record has no %q field", f.Name)}
	}

	args := map[string]interface{}{}
	switch raw := container[f.Arguments].(type) {
	case nil:
	case string:
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, &UnresolvedCall{Raw: call, Error: fmt.Sprintf("Invalid JSON in %q: %v", f.Arguments, err)}
			}
		}
	case map[string]interface{}:
		args = raw
	default:
		return nil, &UnresolvedCall{Raw: call, Error: fmt.Sprintf("Invalid JSON in %q: unsupported type %T", f.Arguments, raw)}
	}

	def, err := r.Resolve(name)
	if err != nil {
		return nil, &UnresolvedCall{Raw: call, Error: fmt.Sprintf("No tool registered for action %q", name)}
	}

	return &ResolvedCall{ActionType: name, Args: args, Definition: def}, nil
}
