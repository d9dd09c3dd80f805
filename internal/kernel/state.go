package kernel

import "strings"

// ContextTable maps a context id to its append-only prompt log. It is not
// safe for concurrent use; the Service only touches it under its task lock.
type ContextTable struct {
	logs map[string][]string
}

// NewContextTable returns an empty table.
func NewContextTable() *ContextTable {
	return &ContextTable{logs: make(map[string][]string)}
}

// Ensure creates id if it does not exist yet.
func (t *ContextTable) Ensure(id string) {
	if _, ok := t.logs[id]; !ok {
		t.logs[id] = []string{}
	}
}

// Append adds a prompt to id's log, creating the context on first use.
func (t *ContextTable) Append(id, prompt string) {
	t.logs[id] = append(t.logs[id], prompt)
}

// Prompts returns a copy of id's log and whether the context exists.
func (t *ContextTable) Prompts(id string) ([]string, bool) {
	log, ok := t.logs[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), log...), true
}

// Joined returns id's log joined by newlines.
func (t *ContextTable) Joined(id string) (string, bool) {
	log, ok := t.logs[id]
	if !ok {
		return "", false
	}
	return strings.Join(log, "\n"), true
}

// Environment is the shared key/value environment. Like ContextTable it
// relies on the Service's task lock.
type Environment struct {
	vars map[string]string
}

// NewEnvironment returns an environment seeded with a copy of initial.
func NewEnvironment(initial map[string]string) *Environment {
	vars := make(map[string]string, len(initial))
	for k, v := range initial {
		vars[k] = v
	}
	return &Environment{vars: vars}
}

// Merge applies updates over the current values.
func (e *Environment) Merge(updates map[string]string) {
	for k, v := range updates {
		e.vars[k] = v
	}
}

// Snapshot returns a copy of the current values.
func (e *Environment) Snapshot() map[string]string {
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// EnvironFromList converts os.Environ style "K=V" entries into a map.
func EnvironFromList(list []string) map[string]string {
	out := make(map[string]string, len(list))
	for _, kv := range list {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
