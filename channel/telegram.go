package channel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/adolfousier/opencrab/config"
	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/tgmd"
)

const (
	telegramMessageBufferSize = 100
	TelegramMaxMessageLength  = 4096
)

// TelegramChannel implements the Channel interface for Telegram.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]bool // allowed user/chat IDs, empty = allow all
	messages   chan *Message

	b         *bot.Bot
	cancel    context.CancelFunc
	startDone chan struct{}
}

// NewTelegramChannel creates a Telegram channel from config. Returns nil
// if the channel is not configured.
func NewTelegramChannel(cfg *config.TelegramChannelConfig) Channel {
	if cfg == nil || cfg.Token == "" {
		return nil
	}

	allowedIDs := make(map[int64]bool)
	for _, id := range cfg.AllowedIDs {
		allowedIDs[id] = true
	}

	return &TelegramChannel{
		token:      cfg.Token,
		allowedIDs: allowedIDs,
		messages:   make(chan *Message, telegramMessageBufferSize),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

// Start begins polling for updates.
func (t *TelegramChannel) Start(ctx context.Context) error {
	b, err := bot.New(t.token, bot.WithDefaultHandler(t.handleUpdate))
	if err != nil {
		return fmt.Errorf("telegram bot creation failed: %w", err)
	}
	t.b = b

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram connection failed: %w", err)
	}
	logger.Info("telegram bot connected", "username", me.Username)

	startCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.startDone = make(chan struct{})

	go func() {
		defer close(t.startDone)
		t.b.Start(startCtx)
	}()

	logger.Info("telegram channel started")
	return nil
}

// Stop gracefully shuts down the channel.
func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
		<-t.startDone
	}
	close(t.messages)
	logger.Info("telegram channel stopped")
	return nil
}

// Send renders the response as Telegram HTML and sends it, splitting
// long responses across messages. If HTML sending fails the raw text is
// retried without formatting.
func (t *TelegramChannel) Send(ctx context.Context, resp *Response) error {
	if t.b == nil {
		return fmt.Errorf("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(resp.ReplyTo, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	for _, chunk := range SplitMessage(resp.Text, TelegramMaxMessageLength) {
		_, sendErr := t.b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      tgmd.Render(chunk),
			ParseMode: models.ParseModeHTML,
		})
		if sendErr != nil {
			_, retryErr := t.b.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   chunk,
			})
			if retryErr != nil {
				return fmt.Errorf("telegram send error: %w", retryErr)
			}
		}
	}

	return nil
}

func (t *TelegramChannel) Messages() <-chan *Message {
	return t.messages
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	msg := update.Message
	chat := msg.Chat

	fromID := int64(0)
	username := ""
	if msg.From != nil {
		fromID = msg.From.ID
		username = msg.From.Username
	}

	if len(t.allowedIDs) > 0 && !t.allowedIDs[chat.ID] && !t.allowedIDs[fromID] {
		logger.Warn("telegram message from unauthorized user",
			"userID", fromID, "chatID", chat.ID, "username", username)
		return
	}

	metadata := map[string]string{
		"chat_id":   strconv.FormatInt(chat.ID, 10),
		"chat_type": string(chat.Type),
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if summary, placeholder := t.mediaSummary(ctx, b, msg); summary != "" {
		metadata["media_summary"] = summary
		if text == "" {
			text = placeholder
		}
	}
	if text == "" {
		return
	}

	// Acknowledge receipt with an eyes reaction, fire and forget.
	_, _ = b.SetMessageReaction(ctx, &bot.SetMessageReactionParams{
		ChatID:    chat.ID,
		MessageID: msg.ID,
		Reaction: []models.ReactionType{{
			Type: models.ReactionTypeTypeEmoji,
			ReactionTypeEmoji: &models.ReactionTypeEmoji{
				Type:  models.ReactionTypeTypeEmoji,
				Emoji: "\U0001F440",
			},
		}},
	})

	channelMsg := &Message{
		ID:        strconv.Itoa(msg.ID),
		ChannelID: fmt.Sprintf("telegram:%d", chat.ID),
		UserID:    strconv.FormatInt(fromID, 10),
		Username:  username,
		Text:      text,
		Metadata:  metadata,
	}
	if msg.ReplyToMessage != nil {
		channelMsg.ReplyTo = strconv.Itoa(msg.ReplyToMessage.ID)
	}

	select {
	case t.messages <- channelMsg:
	default:
		logger.Warn("telegram message buffer full, dropping message")
	}
}

// mediaSummary describes any attachment on the message and returns a
// placeholder for messages with no caption.
func (t *TelegramChannel) mediaSummary(ctx context.Context, b *bot.Bot, msg *models.Message) (summary, placeholder string) {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return MediaSummary("photo",
			"file_url", t.fileURL(ctx, b, photo.FileID)), "[Photo received]"
	case msg.Document != nil:
		s := MediaSummary("document",
			"file_name", msg.Document.FileName,
			"mime_type", msg.Document.MimeType,
			"file_url", t.fileURL(ctx, b, msg.Document.FileID))
		if msg.Document.FileName != "" {
			return s, fmt.Sprintf("[Document: %s]", msg.Document.FileName)
		}
		return s, "[Document received]"
	case msg.Voice != nil:
		return MediaSummary("voice",
			"duration", fmtSeconds(msg.Voice.Duration),
			"file_url", t.fileURL(ctx, b, msg.Voice.FileID)), "[Voice message received]"
	case msg.Video != nil:
		return MediaSummary("video",
			"file_name", msg.Video.FileName,
			"mime_type", msg.Video.MimeType,
			"duration", fmtSeconds(msg.Video.Duration),
			"file_url", t.fileURL(ctx, b, msg.Video.FileID)), "[Video received]"
	case msg.Audio != nil:
		return MediaSummary("audio",
			"file_name", msg.Audio.FileName,
			"mime_type", msg.Audio.MimeType,
			"duration", fmtSeconds(msg.Audio.Duration),
			"file_url", t.fileURL(ctx, b, msg.Audio.FileID)), "[Audio received]"
	case msg.Sticker != nil:
		return MediaSummary("sticker",
			"emoji", msg.Sticker.Emoji,
			"sticker_set", msg.Sticker.SetName), "[Sticker received]"
	}
	return "", ""
}

// fileURL retrieves the download URL for a Telegram file.
func (t *TelegramChannel) fileURL(ctx context.Context, b *bot.Bot, fileID string) string {
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		logger.Warn("failed to get telegram file URL", "fileID", fileID, "err", err)
		return ""
	}
	return b.FileDownloadLink(file)
}
