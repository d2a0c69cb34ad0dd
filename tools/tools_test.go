package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRegistryRunUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Run(context.Background(), "nope", json.RawMessage(`{}`))
	if res.OK {
		t.Fatalf("expected failure for unknown tool")
	}
	if !strings.Contains(res.Content, "unknown tool") {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestRegistryDefsSorted(t *testing.T) {
	r := NewRegistry()
	r.RegisterDefaultTools(t.TempDir())

	defs := r.Defs()
	if len(defs) == 0 {
		t.Fatalf("expected default tools")
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Fatalf("defs not sorted: %s before %s", defs[i-1].Name, defs[i].Name)
		}
	}
}

func TestFileToolsRoundTrip(t *testing.T) {
	workspace := t.TempDir()
	ctx := context.Background()

	write := &WriteFileTool{workspace: workspace}
	res := write.Execute(ctx, json.RawMessage(`{"path":"notes/a.txt","content":"hello"}`))
	if !res.OK {
		t.Fatalf("write failed: %s", res.Content)
	}

	read := &ReadFileTool{workspace: workspace}
	res = read.Execute(ctx, json.RawMessage(`{"path":"notes/a.txt"}`))
	if !res.OK {
		t.Fatalf("read failed: %s", res.Content)
	}
	if res.Content != "hello" {
		t.Fatalf("got %q, want %q", res.Content, "hello")
	}

	edit := &EditFileTool{workspace: workspace}
	res = edit.Execute(ctx, json.RawMessage(`{"path":"notes/a.txt","old_text":"hello","new_text":"goodbye"}`))
	if !res.OK {
		t.Fatalf("edit failed: %s", res.Content)
	}

	content, err := os.ReadFile(filepath.Join(workspace, "notes", "a.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "goodbye" {
		t.Fatalf("got %q, want %q", string(content), "goodbye")
	}
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	workspace := t.TempDir()
	path := filepath.Join(workspace, "dup.txt")
	if err := os.WriteFile(path, []byte("x x"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	edit := &EditFileTool{workspace: workspace}
	res := edit.Execute(context.Background(), json.RawMessage(`{"path":"dup.txt","old_text":"x","new_text":"y"}`))
	if res.OK {
		t.Fatalf("expected failure for ambiguous match")
	}
}

func TestListDirTool(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "sub"), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "f.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	list := &ListDirTool{workspace: workspace}
	res := list.Execute(context.Background(), json.RawMessage(`{"path":"."}`))
	if !res.OK {
		t.Fatalf("list failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "sub/") || !strings.Contains(res.Content, "f.txt") {
		t.Fatalf("unexpected listing: %q", res.Content)
	}
}

func TestExecToolSudoDetection(t *testing.T) {
	exec := &ExecTool{}

	cmd, ok := exec.SudoCommand(json.RawMessage(`{"command":"sudo apt-get update"}`))
	if !ok {
		t.Fatalf("expected sudo detection")
	}
	if cmd != "sudo apt-get update" {
		t.Fatalf("got %q", cmd)
	}

	if _, ok := exec.SudoCommand(json.RawMessage(`{"command":"echo sudo"}`)); ok {
		t.Fatalf("plain command misdetected as sudo")
	}
}

func TestExecToolRequiresApproval(t *testing.T) {
	r := NewRegistry()
	r.RegisterDefaultTools(t.TempDir())

	tool, ok := r.Get("exec")
	if !ok {
		t.Fatalf("exec not registered")
	}
	if !tool.RequiresApproval() {
		t.Fatalf("exec must require approval")
	}

	tool, ok = r.Get("read_file")
	if !ok {
		t.Fatalf("read_file not registered")
	}
	if tool.RequiresApproval() {
		t.Fatalf("read_file must not require approval")
	}
}
