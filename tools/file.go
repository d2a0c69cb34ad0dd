package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ============================================================================
// ReadFileTool
// ============================================================================

// ReadFileTool reads the contents of a file.
type ReadFileTool struct {
	workspace string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Capabilities() []string { return []string{"filesystem"} }

func (t *ReadFileTool) RequiresApproval() bool { return false }

// readFileArgs are the arguments for read_file.
type readFileArgs struct {
	Path string `json:"path"`
}

// Execute runs the tool.
func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a readFileArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	path := resolvePath(t.workspace, a.Path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Failure("file not found: %s", a.Path)
		}
		return Failure("%v", err)
	}

	if info.IsDir() {
		return Failure("%s is a directory, not a file", a.Path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Failure("failed to read file: %v", err)
	}

	return Success(string(content))
}

// ============================================================================
// WriteFileTool
// ============================================================================

// WriteFileTool writes content to a file.
type WriteFileTool struct {
	workspace string
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write to the file.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Capabilities() []string { return []string{"filesystem"} }

func (t *WriteFileTool) RequiresApproval() bool { return false }

// writeFileArgs are the arguments for write_file.
type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Execute runs the tool.
func (t *WriteFileTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a writeFileArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	path := resolvePath(t.workspace, a.Path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Failure("failed to create directory: %v", err)
	}

	if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
		return Failure("failed to write file: %v", err)
	}

	return Success(fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), a.Path))
}

// ============================================================================
// EditFileTool
// ============================================================================

// EditFileTool edits a file by replacing text.
type EditFileTool struct {
	workspace string
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing specific text. The old_text must match exactly (including whitespace)."
}

func (t *EditFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to edit.",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The exact text to find and replace.",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The text to replace with.",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Capabilities() []string { return []string{"filesystem"} }

func (t *EditFileTool) RequiresApproval() bool { return false }

// editFileArgs are the arguments for edit_file.
type editFileArgs struct {
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

// Execute runs the tool.
func (t *EditFileTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a editFileArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	path := resolvePath(t.workspace, a.Path)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Failure("file not found: %s", a.Path)
		}
		return Failure("failed to read file: %v", err)
	}

	contentStr := string(content)

	count := strings.Count(contentStr, a.OldText)
	if count == 0 {
		return Failure("text not found in file: %q", a.OldText)
	}
	if count > 1 {
		return Failure("text appears %d times in file, must be unique. Provide more context.", count)
	}

	newContent := strings.Replace(contentStr, a.OldText, a.NewText, 1)

	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		return Failure("failed to write file: %v", err)
	}

	return Success(fmt.Sprintf("Successfully edited %s", a.Path))
}

// ============================================================================
// ListDirTool
// ============================================================================

// ListDirTool lists the contents of a directory.
type ListDirTool struct {
	workspace string
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the directory to list.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Capabilities() []string { return []string{"filesystem"} }

func (t *ListDirTool) RequiresApproval() bool { return false }

// listDirArgs are the arguments for list_dir.
type listDirArgs struct {
	Path string `json:"path"`
}

// Execute runs the tool.
func (t *ListDirTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a listDirArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	path := resolvePath(t.workspace, a.Path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Failure("directory not found: %s", a.Path)
		}
		return Failure("%v", err)
	}

	if !info.IsDir() {
		return Failure("%s is a file, not a directory", a.Path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return Failure("failed to read directory: %v", err)
	}

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}

	if len(lines) == 0 {
		return Success("(empty directory)")
	}

	return Success(strings.Join(lines, "\n"))
}

// resolvePath expands ~ and resolves relative paths against the workspace.
func resolvePath(workspace, path string) string {
	path = expandPath(path)
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	return path
}
