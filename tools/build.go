package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ============================================================================
// SelfBuildTool
// ============================================================================

// SelfBuildTool rebuilds the running binary from a source checkout. On
// success it signals restart readiness through the runtime context so the
// host can finish the current turn and re-exec the new binary.
type SelfBuildTool struct{}

func (t *SelfBuildTool) Name() string { return "self_build" }

func (t *SelfBuildTool) Description() string {
	return "Rebuild the bot binary from source and prepare a restart. The restart happens after the current turn completes."
}

func (t *SelfBuildTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source_dir": map[string]any{
				"type":        "string",
				"description": "Path to the source checkout. Defaults to the workspace.",
			},
		},
	}
}

func (t *SelfBuildTool) Capabilities() []string { return []string{"process", "self_update"} }

func (t *SelfBuildTool) RequiresApproval() bool { return true }

// selfBuildArgs are the arguments for self_build.
type selfBuildArgs struct {
	SourceDir string `json:"source_dir,omitempty"`
}

// Execute runs the tool.
func (t *SelfBuildTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a selfBuildArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	rt := RuntimeContextFrom(ctx)
	sourceDir := a.SourceDir
	if sourceDir == "" {
		sourceDir = rt.Workspace
	}
	if sourceDir == "" {
		return Failure("no source directory: pass source_dir or configure a workspace")
	}
	sourceDir = expandPath(sourceDir)

	binary, err := os.Executable()
	if err != nil {
		return Failure("cannot locate running binary: %v", err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	// Build to a staging path first so a failed build never clobbers the
	// running binary.
	staged := binary + ".next"
	cmd := exec.CommandContext(buildCtx, "go", "build", "-o", staged, ".")
	cmd.Dir = sourceDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Failure("build failed: %v\nOutput:\n%s", err, string(output))
	}

	if err := os.Rename(staged, binary); err != nil {
		return Failure("failed to install new binary: %v", err)
	}

	status := fmt.Sprintf("rebuilt %s from %s", binary, sourceDir)
	if rt.NotifyRestart != nil {
		rt.NotifyRestart(status)
	}

	return Success(status + "; restart pending")
}
