package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/channel"
	"github.com/adolfousier/opencrab/config"
	"github.com/adolfousier/opencrab/tgmd"
)

var sendCmd = &cobra.Command{
	Use:     "send",
	Short:   "Send a message to Telegram",
	GroupID: "internal",
	RunE:    runSend,
}

var (
	sendTo   string
	sendText string
)

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Telegram chat/user ID (required)")
	sendCmd.Flags().StringVar(&sendText, "text", "", "Message text (required)")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(sendCmd)
}

func runSend(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Channels == nil || cfg.Channels.Telegram == nil || cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram bot token not configured")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(sendTo), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", sendTo, err)
	}

	b, err := bot.New(cfg.Channels.Telegram.Token, bot.WithSkipGetMe())
	if err != nil {
		return fmt.Errorf("telegram bot creation failed: %w", err)
	}

	ctx := context.Background()
	for _, chunk := range channel.SplitMessage(strings.TrimSpace(sendText), channel.TelegramMaxMessageLength) {
		_, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      tgmd.Render(chunk),
			ParseMode: models.ParseModeHTML,
		})
		if sendErr != nil {
			// Retry without formatting.
			_, retryErr := b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   chunk,
			})
			if retryErr != nil {
				return fmt.Errorf("telegram send error: %w", retryErr)
			}
		}
	}

	fmt.Printf("Message sent to %s\n", sendTo)
	return nil
}
