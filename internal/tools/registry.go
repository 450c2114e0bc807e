package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/piyushgupta53/featherbot-sub000/internal/providers"
)

// Tool is the contract every registered tool implements. Parameters
// returns a JSON-schema object describing the arguments; the registry
// validates calls against it before Execute runs.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds the tools available to an agent turn. Safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	evictor *Evictor // nil = no eviction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// SetEvictor installs the result evictor applied after every Execute.
func (r *Registry) SetEvictor(e *Evictor) {
	r.mu.Lock()
	r.evictor = e
	r.mu.Unlock()
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %q has invalid parameter schema: %w", name, err)
	}
	r.tools[name] = t
	r.schemas[name] = schema
	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether the tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns provider-shaped tool definitions, sorted by name.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates args against the tool's schema and runs it. The
// return value is always a plain string the LLM can read; validation
// and execution failures come back as error text, never as a panic or
// error to the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	evictor := r.evictor
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Error: unknown tool '%s'", name)
	}

	if schema != nil {
		if args == nil {
			args = map[string]interface{}{}
		}
		if err := schema.Validate(normalizeArgs(args)); err != nil {
			return invalidArgsMessage(t, err)
		}
	}

	result := r.run(ctx, t, args)
	out := result.ForLLM
	if result.IsError && result.Err != nil {
		slog.Warn("tool execution failed", "tool", name, "error", result.Err)
	}
	if evictor != nil {
		out = evictor.Apply(out)
	}
	return out
}

// run invokes the tool, converting a panic into an error result.
func (r *Registry) run(ctx context.Context, t Tool, args map[string]interface{}) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", t.Name(), "panic", rec)
			result = ErrorResult(fmt.Sprintf("Error executing '%s': %v", t.Name(), rec))
		}
	}()
	result = t.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("Error executing '%s': tool returned no result", t.Name()))
	}
	return result
}

// Restricted returns a shallow view containing only tools whose names
// pass the filter: when allowed is non-empty, the name must be in it,
// and blocked names are removed unconditionally. The view shares tool
// instances and the evictor with the parent; blocked tools do not exist
// in it at all.
func (r *Registry) Restricted(allowed []string, blocked []string) *Registry {
	allowSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowSet[name] = true
	}
	blockSet := make(map[string]bool, len(blocked))
	for _, name := range blocked {
		blockSet[name] = true
	}

	view := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	view.evictor = r.evictor
	for name, t := range r.tools {
		if blockSet[name] {
			continue
		}
		if len(allowSet) > 0 && !allowSet[name] {
			continue
		}
		view.tools[name] = t
		view.schemas[name] = r.schemas[name]
	}
	return view
}

// compileSchema compiles the tool's parameter schema. A nil schema means
// the tool takes no arguments and validation is skipped.
func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// invalidArgsMessage builds the error string the LLM sees on a schema
// violation: the failing details plus the expected schema so the model
// can retry correctly.
func invalidArgsMessage(t Tool, err error) string {
	expected, _ := json.Marshal(t.Parameters())
	return fmt.Sprintf("Error: invalid arguments for '%s': %v\nExpected schema: %s",
		t.Name(), err, expected)
}

// normalizeArgs round-trips args through JSON so the validator sees the
// same shapes it would see on the wire (e.g. numbers as float64).
func normalizeArgs(args map[string]interface{}) interface{} {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}
