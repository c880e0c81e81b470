// Package mode implements the mode registry: a static map[string]Mode
// initialized at process start and binding a named mode to an alternate
// execution strategy, rather than a dynamic lazy-import registration
// scheme (see DESIGN.md for the design decision).
package mode

import "github.com/agentloop/core/agent"

// Mode binds a name to an alternate system-prompt prefix and a restricted
// tool allow-list. This package only stores and looks up modes: neither
// agentrun.Agent nor the execution loop reads a Mode, so a mode's
// allow-list, prompt prefix and default intent have no effect on a run.
type Mode struct {
	Name string
	// PromptPrefix is prepended to the task's system prompt by the (external,
	// out-of-scope) prompt builder when this mode is active.
	PromptPrefix string
	// AllowedTools restricts the tool set offered to the LLM to this list.
	// Nil means "no restriction beyond the task's declared capabilities".
	AllowedTools []string
	// DefaultIntent is the intent associated with this mode, when non-empty
	// (e.g. "plan" mode is discovery-flavored). Intent inference does not
	// read it.
	DefaultIntent agent.Intent
}

// Registry holds the static set of modes available to an Agent/Orchestrator
// deployment. Custom modes register at startup only; there is no runtime
// registration API by design.
type Registry struct {
	modes map[string]Mode
}

// builtins are the five named built-in modes.
func builtins() map[string]Mode {
	return map[string]Mode{
		"execute": {
			Name:         "execute",
			PromptPrefix: "You are executing a task end to end, including making any required file changes.",
			DefaultIntent: agent.IntentAction,
		},
		"plan": {
			Name:         "plan",
			PromptPrefix: "You are producing a plan, not executing it. Do not modify any files.",
			AllowedTools: []string{"glob_search", "grep_search", "fs_list", "fs_read", "find_definition", "code_stats"},
			DefaultIntent: agent.IntentDiscovery,
		},
		"spec": {
			Name:         "spec",
			PromptPrefix: "You are drafting or revising a specification document. Do not modify source files outside the spec artifact.",
			AllowedTools: []string{"glob_search", "grep_search", "fs_list", "fs_read", "fs_write"},
			DefaultIntent: agent.IntentAction,
		},
		"debug": {
			Name:         "debug",
			PromptPrefix: "You are diagnosing a defect. Prefer reading and reproducing over editing until the root cause is confirmed.",
			DefaultIntent: agent.IntentAnalysis,
		},
		"edit": {
			Name:         "edit",
			PromptPrefix: "You are making a narrow, already-scoped code change.",
			DefaultIntent: agent.IntentAction,
		},
	}
}

// New returns a Registry preloaded with the five built-in modes, plus any
// extra modes supplied (e.g. by an embedding application at startup).
func New(extra ...Mode) *Registry {
	r := &Registry{modes: builtins()}
	for _, m := range extra {
		r.modes[m.Name] = m
	}
	return r
}

// Get returns the mode registered under name and whether it was found.
func (r *Registry) Get(name string) (Mode, bool) {
	m, ok := r.modes[name]
	return m, ok
}

// Names returns the registered mode names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.modes))
	for n := range r.modes {
		out = append(out, n)
	}
	return out
}

// ToolSet intersects the task's declared tool names with the mode's
// allow-list (if any), per §11's "composes by intersection" rule. A nil
// AllowedTools means no restriction: declared is returned unchanged.
func (m Mode) ToolSet(declared []string) []string {
	if m.AllowedTools == nil {
		return declared
	}
	allowed := make(map[string]struct{}, len(m.AllowedTools))
	for _, t := range m.AllowedTools {
		allowed[t] = struct{}{}
	}
	out := make([]string, 0, len(declared))
	for _, t := range declared {
		if _, ok := allowed[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
