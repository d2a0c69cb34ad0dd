// Package tools provides the tool interface and built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/provider"
)

// Result is the outcome of one tool execution. Failures are data for the
// model to interpret, not Go errors; only the agent loop decides what to do
// with them.
type Result struct {
	OK      bool
	Content string
}

// Success builds a successful result.
func Success(content string) Result {
	return Result{OK: true, Content: content}
}

// Failure builds a failed result.
func Failure(format string, args ...any) Result {
	return Result{OK: false, Content: fmt.Sprintf(format, args...)}
}

// Tool is the interface for agent tools.
type Tool interface {
	// Name returns the tool name used in definitions and invocations.
	Name() string
	// Description returns the tool description for the LLM.
	Description() string
	// InputSchema returns the JSON schema of the tool's input object.
	InputSchema() map[string]any
	// Capabilities returns coarse capability tags (filesystem, network,
	// process) surfaced to approval callbacks.
	Capabilities() []string
	// RequiresApproval reports whether invocations must pass the approval
	// gate before executing.
	RequiresApproval() bool
	// Execute runs the tool. Failures are returned as results, never as
	// panics; input is the raw JSON argument object.
	Execute(ctx context.Context, input json.RawMessage) Result
}

// SudoAware is implemented by tools whose invocations may need elevated
// privileges. The agent routes such invocations to the sudo callback
// instead of the plain approval callback.
type SudoAware interface {
	// SudoCommand returns the privileged command and true when the input
	// describes an elevated invocation.
	SudoCommand(input json.RawMessage) (string, bool)
}

// Registry holds registered tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Defs returns all tool definitions sorted by name.
func (r *Registry) Defs() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, provider.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Run executes a tool by name. Unknown tools fail rather than error so the
// model sees the mistake and can correct itself.
func (r *Registry) Run(ctx context.Context, name string, input json.RawMessage) Result {
	t, ok := r.tools[name]
	if !ok {
		logger.Error("tool not found", "tool", name)
		return Failure("unknown tool '%s'", name)
	}
	return t.Execute(ctx, input)
}

// Names returns the names of all registered tools.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterDefaultTools registers the built-in tools.
func (r *Registry) RegisterDefaultTools(workspace string) {
	r.Register(&ReadFileTool{workspace: workspace})
	r.Register(&WriteFileTool{workspace: workspace})
	r.Register(&EditFileTool{workspace: workspace})
	r.Register(&ListDirTool{workspace: workspace})
	r.Register(&ExecTool{workspace: workspace})
	r.Register(&WebSearchTool{})
	r.Register(&WebFetchTool{})
	r.Register(&SelfBuildTool{})
}

// expandPath expands ~ to home directory and resolves the path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}
