package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/adolfousier/opencrab/agent"
	"github.com/adolfousier/opencrab/config"
	"github.com/adolfousier/opencrab/provider"
	"github.com/adolfousier/opencrab/session"
	"github.com/adolfousier/opencrab/tools"
)

const defaultSystemPrompt = `You are opencrab, a helpful AI assistant with access to tools.
Use tools when they help you answer; otherwise answer directly.
Your working directory is the user's workspace.`

// runtime bundles the shared components behind agent services: one
// provider, one session store and one tool registry. Services themselves
// are cheap and may be created per session.
type runtime struct {
	cfg          *config.Config
	provider     provider.Provider
	store        *session.Store
	tools        *tools.Registry
	workspace    string
	systemPrompt string
}

// buildRuntime assembles the provider, session store and tool registry
// from config.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	factory := provider.NewFactory(cfg.ProviderCredentials(), cfg.Agent.MaxTokens, cfg.Agent.Temperature)
	p, err := factory.Create(cfg.Agent.Provider, cfg.Agent.Model)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(workspace)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	registry := tools.NewRegistry()
	registry.RegisterDefaultTools(workspace)

	return &runtime{
		cfg:          cfg,
		provider:     p,
		store:        store,
		tools:        registry,
		workspace:    workspace,
		systemPrompt: loadSystemPrompt(workspace),
	}, nil
}

// newService creates an agent service over the shared components.
func (r *runtime) newService(extra ...agent.Option) *agent.Service {
	opts := []agent.Option{
		agent.WithTools(r.tools),
		agent.WithModel(r.cfg.Agent.Model),
		agent.WithSystemPrompt(r.systemPrompt),
		agent.WithMaxTokens(r.cfg.Agent.MaxTokens),
		agent.WithTemperature(r.cfg.Agent.Temperature),
		agent.WithAutoApprove(r.cfg.Agent.AutoApproveTools),
		agent.WithMaxToolIterations(r.cfg.Agent.MaxToolIterations),
		agent.WithStreaming(r.cfg.Agent.Streaming),
		agent.WithCompaction(r.cfg.Agent.CompactRatio),
		agent.WithWorkspace(r.workspace),
	}
	opts = append(opts, extra...)
	return agent.NewService(r.provider, r.store, opts...)
}

// loadSystemPrompt assembles the system prompt from workspace files.
// SYSTEM.md replaces the built-in prompt; USER.md and MEMORY.md are
// appended when present.
func loadSystemPrompt(workspace string) string {
	prompt := defaultSystemPrompt
	if data, err := os.ReadFile(filepath.Join(workspace, "SYSTEM.md")); err == nil && strings.TrimSpace(string(data)) != "" {
		prompt = strings.TrimSpace(string(data))
	}

	var parts []string
	parts = append(parts, prompt)
	for _, extra := range []struct{ file, heading string }{
		{"USER.md", "About the user"},
		{"MEMORY.md", "Memory"},
	} {
		data, err := os.ReadFile(filepath.Join(workspace, extra.file))
		if err != nil || strings.TrimSpace(string(data)) == "" {
			continue
		}
		parts = append(parts, "# "+extra.heading+"\n\n"+strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n")
}

// terminalApproval prompts the operator for tool approval on the terminal.
func terminalApproval(_ context.Context, info agent.ToolApprovalInfo) (bool, error) {
	var approved bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Allow tool '%s'?", info.Tool)).
				Description(fmt.Sprintf("%s\nInput: %s", info.Description, truncate(string(info.Input), 300))).
				Value(&approved),
		),
	).Run()
	if err != nil {
		return false, err
	}
	return approved, nil
}

// terminalSudo prompts the operator for the sudo password on the terminal.
func terminalSudo(_ context.Context, command string) (agent.SudoResult, error) {
	var confirmed bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Run privileged command?").
				Description(truncate(command, 300)).
				Value(&confirmed),
		),
	).Run()
	if err != nil {
		return agent.SudoResult{}, err
	}
	if !confirmed {
		return agent.SudoResult{Cancelled: true}, nil
	}

	var password string
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Sudo password").
				EchoMode(huh.EchoModePassword).
				Value(&password),
		),
	).Run()
	if err != nil {
		return agent.SudoResult{}, err
	}
	return agent.SudoResult{Password: password}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
