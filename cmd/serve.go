package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/channel"
	"github.com/adolfousier/opencrab/config"
	"github.com/adolfousier/opencrab/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start opencrab as a service with channel integrations",
	Long: `Start opencrab as a long-running service that listens on multiple channels.

Supported channels:
  - cli: Interactive command line (default)
  - telegram: Telegram bot (requires channels.telegram.token)
  - discord: Discord bot (requires channels.discord.token)

Examples:
  opencrab serve              # Start with CLI channel
  opencrab serve --telegram   # Start with Telegram bot
  opencrab serve --discord    # Start with Discord bot
  opencrab serve --all        # Start all configured channels`,
	RunE: runServe,
}

var (
	serveCLI      bool
	serveTelegram bool
	serveDiscord  bool
	serveAll      bool
)

func init() {
	serveCmd.Flags().BoolVar(&serveCLI, "cli", true, "Enable CLI channel (default: true)")
	serveCmd.Flags().BoolVar(&serveTelegram, "telegram", false, "Enable Telegram bot channel")
	serveCmd.Flags().BoolVar(&serveDiscord, "discord", false, "Enable Discord bot channel")
	serveCmd.Flags().BoolVar(&serveAll, "all", false, "Enable all configured channels")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	enableCLI, enableTelegram, enableDiscord, err := resolveServeTargets(cmd)
	if err != nil {
		return err
	}

	manager := channel.NewManager()
	if enableCLI {
		manager.Register(channel.NewCLIChannel())
	}
	if enableTelegram {
		if cfg.Channels == nil || cfg.Channels.Telegram == nil || cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram token not configured, skipping telegram channel")
		} else {
			manager.Register(channel.NewTelegramChannel(cfg.Channels.Telegram))
		}
	}
	if enableDiscord {
		if cfg.Channels == nil || cfg.Channels.Discord == nil || cfg.Channels.Discord.Token == "" {
			logger.Warn("discord token not configured, skipping discord channel")
		} else {
			manager.Register(channel.NewDiscordChannel(cfg.Channels.Discord))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := manager.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	logger.Info("opencrab service started", "provider", cfg.Agent.Provider, "model", cfg.Agent.Model)
	fmt.Println("opencrab is running. Press Ctrl+C to stop.")

	// Dispatcher reads from channels and drives agent sessions. Blocks
	// until ctx done.
	dispatcher := NewDispatcher(manager, rt)
	dispatcher.Run(ctx)

	if err := manager.StopAll(); err != nil {
		logger.Error("error stopping channels", "err", err)
	}

	logger.Info("opencrab service stopped")
	return nil
}

func resolveServeTargets(cmd *cobra.Command) (cli, telegram, discord bool, err error) {
	if serveAll {
		return true, true, true, nil
	}

	flags := cmd.Flags()
	cliChanged := flags.Changed("cli")
	telegramChanged := flags.Changed("telegram")
	discordChanged := flags.Changed("discord")

	// No explicit channel flags means CLI only.
	if !cliChanged && !telegramChanged && !discordChanged {
		return true, false, false, nil
	}

	if cliChanged {
		cli = serveCLI
	}
	if telegramChanged {
		telegram = serveTelegram
	}
	if discordChanged {
		discord = serveDiscord
	}

	if !cli && !telegram && !discord {
		return false, false, false, fmt.Errorf("no channels enabled; use --cli, --telegram, --discord, or --all")
	}
	return cli, telegram, discord, nil
}
