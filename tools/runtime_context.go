package tools

import (
	"context"
	"path/filepath"
	"strings"
)

type runtimeContextKey struct{}

// RuntimeContext carries lightweight per-run metadata for tools.
type RuntimeContext struct {
	SessionID string
	Workspace string

	// SudoPassword is set for the duration of a run only after the sudo
	// callback granted it. Never persisted.
	SudoPassword string

	// NotifyRestart is invoked by tools that replace the running binary,
	// so the host can finish the turn and re-exec.
	NotifyRestart func(status string)
}

// WithRuntimeContext injects tool runtime metadata into context.
func WithRuntimeContext(ctx context.Context, rt RuntimeContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	rt.SessionID = strings.TrimSpace(rt.SessionID)
	rt.Workspace = strings.TrimSpace(rt.Workspace)
	if rt.Workspace != "" {
		if absPath, err := filepath.Abs(rt.Workspace); err == nil {
			rt.Workspace = absPath
		}
	}
	return context.WithValue(ctx, runtimeContextKey{}, rt)
}

// RuntimeContextFrom extracts tool runtime metadata from context.
func RuntimeContextFrom(ctx context.Context) RuntimeContext {
	if ctx == nil {
		return RuntimeContext{}
	}
	rt, _ := ctx.Value(runtimeContextKey{}).(RuntimeContext)
	rt.SessionID = strings.TrimSpace(rt.SessionID)
	rt.Workspace = strings.TrimSpace(rt.Workspace)
	if rt.Workspace != "" {
		if absPath, err := filepath.Abs(rt.Workspace); err == nil {
			rt.Workspace = absPath
		}
	}
	return rt
}
