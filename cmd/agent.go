package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/agent"
	"github.com/adolfousier/opencrab/config"
)

var (
	messageFlag  string
	providerFlag string
	modelFlag    string
	apiKeyFlag   string
	apiBaseFlag  string
	noToolsFlag  bool
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with the opencrab agent",
	Long: `Start an interactive chat session with the opencrab agent,
or send a single message with the -m flag.

Use --provider, --model, --api-key, --api-base to override config at runtime.
This allows testing different providers in parallel without editing config.yaml.

Examples:
  opencrab agent                                        # Interactive mode
  opencrab agent -m "Hello world"                       # Single message
  opencrab agent --provider anthropic --api-key sk-xxx -m "hi"
  opencrab agent --provider openrouter --model moonshotai/kimi-k2.5 -m "hi"`,
	RunE: runAgentCmd,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Send a single message")
	agentCmd.Flags().StringVar(&providerFlag, "provider", "", "Override provider (anthropic, openrouter)")
	agentCmd.Flags().StringVar(&modelFlag, "model", "", "Override model (e.g. claude-sonnet-4-5)")
	agentCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "Override API key")
	agentCmd.Flags().StringVar(&apiBaseFlag, "api-base", "", "Override API base URL")
	agentCmd.Flags().BoolVar(&noToolsFlag, "no-tools", false, "Disable tool use")
}

func runAgentCmd(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w\nRun 'opencrab onboard' to initialize", err)
	}
	applyAgentOverrides(cfg)

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	svc := rt.newService(
		agent.WithProgress(printProgress),
		agent.WithApproval(terminalApproval),
		agent.WithSudo(terminalSudo),
	)

	ctx := context.Background()

	if messageFlag != "" {
		resp, err := sendOnce(ctx, svc, "cli:oneshot", messageFlag)
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		fmt.Println(resp.Content)
		return nil
	}

	fmt.Println("opencrab interactive mode (type 'exit' or Ctrl+C to quit)")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	sessionKey := "cli:interactive"

	for {
		fmt.Print("you> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			break
		}

		resp, err := sendOnce(ctx, svc, sessionKey, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		fmt.Printf("\nopencrab> %s\n", resp.Content)
		fmt.Printf("[tokens in=%d out=%d context=%d cost=$%.4f]\n\n",
			resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.ContextTokens, resp.Cost)
	}

	return nil
}

func sendOnce(ctx context.Context, svc *agent.Service, sessionKey, text string) (*agent.Response, error) {
	if noToolsFlag {
		return svc.SendMessage(ctx, sessionKey, text)
	}
	return svc.SendMessageWithTools(ctx, sessionKey, text)
}

// printProgress renders progress events on the terminal.
func printProgress(_ string, ev agent.ProgressEvent) {
	switch ev.Kind {
	case agent.ProgressToolStarted:
		fmt.Printf("  [tool] %s %s\n", ev.Tool, truncate(string(ev.Input), 120))
	case agent.ProgressToolCompleted:
		status := "ok"
		if !ev.Success {
			status = "failed"
		}
		fmt.Printf("  [tool] %s %s: %s\n", ev.Tool, status, truncate(ev.Summary, 120))
	case agent.ProgressCompacting:
		fmt.Println("  [compacting history...]")
	case agent.ProgressRestartReady:
		fmt.Printf("  [restart ready] %s\n", ev.Status)
	}
}

// applyAgentOverrides applies CLI flag overrides to config. This enables
// parallel testing of different providers:
//
//	opencrab agent --provider anthropic --api-key sk-ant-xxx -m "hello"
//	opencrab agent --provider openrouter --api-key sk-or-xxx -m "hello"
func applyAgentOverrides(cfg *config.Config) {
	if providerFlag != "" {
		cfg.Agent.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Agent.Model = modelFlag
	}

	if apiKeyFlag == "" && apiBaseFlag == "" {
		return
	}
	pc := providerConfigFor(cfg, cfg.Agent.Provider)
	if pc == nil {
		return
	}
	if apiKeyFlag != "" {
		pc.APIKey = apiKeyFlag
	}
	if apiBaseFlag != "" {
		pc.APIBase = apiBaseFlag
	}
}

func providerConfigFor(cfg *config.Config, name string) *config.ProviderConfig {
	switch name {
	case "anthropic":
		if cfg.Providers.Anthropic == nil {
			cfg.Providers.Anthropic = &config.ProviderConfig{}
		}
		return cfg.Providers.Anthropic
	case "openrouter":
		if cfg.Providers.OpenRouter == nil {
			cfg.Providers.OpenRouter = &config.ProviderConfig{}
		}
		return cfg.Providers.OpenRouter
	}
	return nil
}
