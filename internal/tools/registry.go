package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds every RegisteredTool by name: tools are added once at
// startup and read concurrently afterward.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]RegisteredTool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]RegisteredTool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition.Name] = t
}

// Alias registers def as a thin wrapper delegating to the already
// registered targetName, letting legacy tool names (control_all_lights,
// control_room_rolladen, ...) synthesize a scope and call through the
// unified tool's handler.
func (r *Registry) Alias(targetName string, def Tool, rewrite func(args map[string]interface{}) map[string]interface{}) error {
	r.mu.RLock()
	target, ok := r.tools[targetName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("alias target %q not registered", targetName)
	}
	handler := target.Handler
	r.Register(RegisteredTool{
		Definition: def,
		Handler: func(ctx context.Context, args map[string]interface{}) (CallToolResult, error) {
			return handler(ctx, rewrite(args))
		},
	})
	return nil
}

// ListTools returns every registered tool's descriptor, sorted by name for
// stable pagination.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Execute routes name to its handler.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (CallToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return CallToolResult{}, fmt.Errorf("unknown tool %q", name)
	}
	return t.Handler(ctx, args)
}
