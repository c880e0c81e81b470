// Package toolregistry implements the ToolRegistry collaborator: resolving
// tool definitions for a task's declared capabilities, validating tool call
// input against each tool's JSON Schema, and executing calls. Schema
// validation follows the compile-then-validate pattern of
// registry/service.go's validatePayloadJSONAgainstSchema.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentloop/core/agent"
)

// Definition describes one tool: its name, description, and JSON Schema for
// input validation, mirroring the shape handed to the LLM provider as a
// llmprovider.ToolSpec.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	// BroadExploration marks tools the token-budget soft-limit response
	// removes to force convergence (§4.1), e.g. open-ended search or list
	// tools as opposed to narrow, targeted reads.
	BroadExploration bool
}

// Handler executes one tool call and returns its raw output.
type Handler func(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error)

// ErrUnknownTool is returned by Execute when no handler is registered for
// the call's tool name.
var ErrUnknownTool = fmt.Errorf("toolregistry: unknown tool")

// Registry is the ToolRegistry collaborator (§1): it surfaces definitions
// for use in provider calls, validates input, and dispatches execution.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]entry
	contexts map[string]string // tool name -> human-readable usage context
}

type entry struct {
	def      Definition
	handler  Handler
	compiled *jsonschema.Schema
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry), contexts: make(map[string]string)}
}

// Register adds a tool definition and its handler, compiling its input
// schema up front so Execute never pays compilation cost per call. usageCtx
// is an optional note surfaced by GetContext (e.g. "prefer this over grep
// for multi-file search").
func (r *Registry) Register(def Definition, handler Handler, usageCtx string) error {
	var compiled *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(def.Name+".json", def.InputSchema); err != nil {
			return fmt.Errorf("toolregistry: add schema resource for %q: %w", def.Name, err)
		}
		schema, err := c.Compile(def.Name + ".json")
		if err != nil {
			return fmt.Errorf("toolregistry: compile schema for %q: %w", def.Name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{def: def, handler: handler, compiled: compiled}
	if usageCtx != "" {
		r.contexts[def.Name] = usageCtx
	}
	return nil
}

// GetDefinitions returns the definitions for the named tools, in the order
// requested. Unknown names are silently skipped - callers that need strict
// membership should check against the task's declared capabilities first.
func (r *Registry) GetDefinitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		if e, ok := r.entries[n]; ok {
			out = append(out, e.def)
		}
	}
	return out
}

// All returns every registered definition.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	return out
}

// GetContext returns the usage note registered for name, or "" if none.
func (r *Registry) GetContext(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contexts[name]
}

// Validate checks call.Input against the tool's compiled schema, if any.
func (r *Registry) Validate(call agent.ToolCall) error {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	if e.compiled == nil {
		return nil
	}
	raw, err := json.Marshal(call.Input)
	if err != nil {
		return fmt.Errorf("toolregistry: marshal call input: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("toolregistry: unmarshal call input: %w", err)
	}
	if err := e.compiled.Validate(doc); err != nil {
		return fmt.Errorf("toolregistry: validate %q input: %w", call.Name, err)
	}
	return nil
}

// Execute validates call.Input and, on success, dispatches to the
// registered handler.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (agent.ToolResult, error) {
	if err := r.Validate(call); err != nil {
		return agent.ToolResult{}, err
	}
	r.mu.RLock()
	e := r.entries[call.Name]
	r.mu.RUnlock()
	return e.handler(ctx, call)
}

// BroadExplorationNames returns the names of every registered tool marked
// Definition.BroadExploration - used by the token-budget soft-limit
// response to strip them from the next provider call (§4.1).
func (r *Registry) BroadExplorationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, e := range r.entries {
		if e.def.BroadExploration {
			out = append(out, name)
		}
	}
	return out
}
