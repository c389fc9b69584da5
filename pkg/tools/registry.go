package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cvpilot/cvpilot/pkg/logger"
	"github.com/cvpilot/cvpilot/pkg/providers"
)

// Registry holds the tool set for a session. It is populated during
// startup and effectively immutable afterwards; registration is
// initialization, not a user-facing runtime API.
type Registry struct {
	tools    map[string]Tool
	terminal map[string]struct{}
	mu       sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		terminal: make(map[string]struct{}),
	}
}

// Register adds a tool. A duplicate name is a programming error and is
// rejected.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// MustRegister registers or panics; used in wiring code where a
// conflict means a broken build.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Remove deletes a tool by name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.terminal, name)
}

// MarkTerminal declares names whose execution finishes the agent run.
func (r *Registry) MarkTerminal(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.terminal[name] = struct{}{}
	}
}

// IsTerminal reports whether executing name ends the run.
func (r *Registry) IsTerminal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.terminal[name]
	return ok
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name())
	}
	return names
}

// Meta returns the trigger metadata for name, if the tool declares any.
func (r *Registry) Meta(name string) (Meta, bool) {
	tool, ok := r.Get(name)
	if !ok {
		return Meta{}, false
	}
	mt, ok := tool.(MetaTool)
	if !ok {
		return Meta{}, false
	}
	return mt.Meta(), true
}

// Markers returns the analysis marker set for name, empty when the tool
// declares none.
func (r *Registry) Markers(name string) []string {
	meta, ok := r.Meta(name)
	if !ok {
		return nil
	}
	return meta.Markers
}

// IsAnalyzer reports whether name is an analyzer tool.
func (r *Registry) IsAnalyzer(name string) bool {
	meta, ok := r.Meta(name)
	return ok && meta.Analyzer
}

// Schema exports the tool definitions in the format the LLM expects:
// name, description and a JSON-schema parameters object per tool.
func (r *Registry) Schema() []providers.ToolDefinition {
	tools := r.List()
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return defs
}

// Execute dispatches a tool call. Arguments is the raw JSON object text
// from the assistant tool-call; a decode failure is a tool error, never
// a panic or a loop abort.
func (r *Registry) Execute(ctx context.Context, name, arguments string) *Result {
	args := map[string]interface{}{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			logger.WarnCF("tool", "Tool arguments are not valid JSON",
				map[string]interface{}{"tool": name, "error": err.Error()})
			return ErrorResult("invalid JSON arguments")
		}
	}
	return r.ExecuteArgs(ctx, name, args)
}

// ExecuteArgs dispatches a tool call with already-decoded arguments.
func (r *Registry) ExecuteArgs(ctx context.Context, name string, args map[string]interface{}) *Result {
	logger.InfoCF("tool", "Tool execution started",
		map[string]interface{}{"tool": name, "args": sanitizeArgs(args)})

	tool, ok := r.Get(name)
	if !ok {
		logger.ErrorCF("tool", "Tool not found", map[string]interface{}{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q not found", name))
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)
	if result == nil {
		logger.ErrorCF("tool", "Tool returned nil result", map[string]interface{}{"tool": name})
		return ErrorResult(fmt.Sprintf("tool %q returned nil result", name))
	}

	if result.IsError {
		logger.ErrorCF("tool", "Tool execution failed",
			map[string]interface{}{
				"tool":        name,
				"duration_ms": duration.Milliseconds(),
				"error":       result.ErrText,
			})
	} else {
		logger.InfoCF("tool", "Tool execution completed",
			map[string]interface{}{
				"tool":          name,
				"duration_ms":   duration.Milliseconds(),
				"result_length": len(result.Output),
			})
	}
	return result
}

// Close closes all registered tools that implement ClosableTool.
func (r *Registry) Close() error {
	r.mu.RLock()
	closers := make([]ClosableTool, 0, len(r.tools))
	for _, tool := range r.tools {
		if closer, ok := tool.(ClosableTool); ok {
			closers = append(closers, closer)
		}
	}
	r.mu.RUnlock()

	var errs []string
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", closer.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tool close failures: %s", strings.Join(errs, "; "))
	}
	return nil
}

var sensitiveArgKeyFragments = []string{
	"api_key", "apikey", "authorization", "auth", "bearer",
	"client_secret", "cookie", "password", "private", "secret", "token",
}

func sanitizeArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(args))
	for key, value := range args {
		sanitized[key] = sanitizeArgValue(key, value, 0)
	}
	return sanitized
}

func sanitizeArgValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	if isSensitiveArgKey(key) {
		return "<redacted>"
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeArgValue(k, v, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeArgValue(key, item, depth+1))
		}
		return out
	case string:
		return truncateLogString(typed)
	default:
		return value
	}
}

func isSensitiveArgKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveArgKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func truncateLogString(value string) string {
	const maxLen = 256
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated)"
}
