package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/config"
	"github.com/adolfousier/opencrab/provider"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize opencrab configuration and workspace",
	Long:  `Create the opencrab configuration directory and default config file.`,
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

// providerURLs maps provider names to their API key portal URLs.
var providerURLs = map[string]string{
	"anthropic":  "https://console.anthropic.com",
	"openrouter": "https://openrouter.ai/keys",
}

func runOnboard(_ *cobra.Command, _ []string) error {
	configPath, err := config.Path()
	if err != nil {
		return err
	}
	if config.Exists() {
		fmt.Println("Config already exists at:", configPath)
		fmt.Println("To reconfigure, edit the file directly or delete it first.")
		return nil
	}

	var (
		selectedProvider string
		selectedModel    string
		apiKey           string
		configureTG      bool
	)

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose your LLM provider").
				Description("opencrab supports multiple LLM providers. Choose one to get started.").
				Options(buildProviderOptions()...).
				Value(&selectedProvider),
		),
	).Run()
	if err != nil {
		return err
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose model for "+selectedProvider).
				Description("The first option is the recommended default.").
				Options(buildModelOptions(selectedProvider)...).
				Value(&selectedModel),
		),
	).Run()
	if err != nil {
		return err
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your "+selectedProvider+" API key").
				Description("Create one at "+providerURLs[selectedProvider]).
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("API key is required")
					}
					return nil
				}).
				Value(&apiKey),
		),
	).Run()
	if err != nil {
		return err
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Configure Telegram bot?").
				Description("You can skip and configure later in config.yaml.").
				Value(&configureTG),
		),
	).Run()
	if err != nil {
		return err
	}

	var tgToken, tgAllowedIDs string
	if configureTG {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Telegram Bot Token").
					Description("Open @BotFather on Telegram, run /newbot, and paste the token here.").
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("bot token is required")
						}
						return nil
					}).
					Value(&tgToken),
				huh.NewInput().
					Title("Allowed User IDs").
					Description("Open @userinfobot for each user, paste their IDs comma-separated. Leave empty to allow all.").
					Value(&tgAllowedIDs),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	cfg := config.DefaultConfig()
	cfg.Agent.Provider = selectedProvider
	cfg.Agent.Model = selectedModel
	switch selectedProvider {
	case "anthropic":
		cfg.Providers.Anthropic = &config.ProviderConfig{APIKey: strings.TrimSpace(apiKey)}
	case "openrouter":
		cfg.Providers.OpenRouter = &config.ProviderConfig{APIKey: strings.TrimSpace(apiKey)}
	}
	if configureTG {
		cfg.Channels.Telegram = &config.TelegramChannelConfig{
			Token:      strings.TrimSpace(tgToken),
			AllowedIDs: parseAllowedIDs(tgAllowedIDs),
		}
	}

	workspace, err := cfg.WorkspacePath()
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := createBootstrapFiles(workspace); err != nil {
		return fmt.Errorf("failed to create bootstrap files: %w", err)
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Println("opencrab initialized successfully!")
	fmt.Println()
	fmt.Println("  Config:", configPath)
	fmt.Println("  Workspace:", workspace)
	fmt.Println("  Provider:", selectedProvider)
	fmt.Println("  Model:", selectedModel)
	fmt.Println()
	fmt.Println("Run 'opencrab serve' to start.")
	return nil
}

func buildProviderOptions() []huh.Option[string] {
	names := provider.SupportedProviders()
	options := make([]huh.Option[string], 0, len(names))
	for _, name := range names {
		models := provider.SupportedModels(name)
		label := name + " (" + strings.Join(models, ", ") + ")"
		options = append(options, huh.NewOption(label, name))
	}
	return options
}

func buildModelOptions(providerName string) []huh.Option[string] {
	models := provider.SupportedModels(providerName)
	options := make([]huh.Option[string], 0, len(models))
	for _, m := range models {
		options = append(options, huh.NewOption(m, m))
	}
	return options
}

func parseAllowedIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// createBootstrapFiles seeds the workspace layout: the sessions directory
// and a SYSTEM.md prompt the user can edit.
func createBootstrapFiles(workspace string) error {
	if err := os.MkdirAll(filepath.Join(workspace, "sessions"), 0755); err != nil {
		return err
	}

	systemPath := filepath.Join(workspace, "SYSTEM.md")
	if _, err := os.Stat(systemPath); err == nil {
		return nil
	}
	return os.WriteFile(systemPath, []byte(defaultSystemPrompt+"\n"), 0644)
}
