package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/provider"
)

// compactKeepRecent is how many trailing messages survive compaction
// verbatim.
const compactKeepRecent = 4

const compactionPrompt = `Summarize the conversation so far for your own future reference. Preserve: decisions made, facts learned, file paths and commands used, unresolved tasks, and the user's preferences. Be concise; drop pleasantries and dead ends.`

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

// estimateTokens counts tokens with the cl100k tokenizer, falling back to a
// bytes/4 heuristic if the tokenizer is unavailable.
func estimateTokens(text string) int {
	encOnce.Do(func() {
		var err error
		enc, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			logger.Warn("tokenizer unavailable, using byte heuristic", "err", err)
		}
	})
	if enc == nil {
		return len(text) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// estimateContextTokens estimates the token size of a message history.
func estimateContextTokens(messages []provider.Message) int {
	var b strings.Builder
	for _, m := range messages {
		for _, block := range m.Content {
			b.WriteString(block.Text)
			b.WriteString(block.Content)
			b.Write(block.Input)
		}
	}
	return estimateTokens(b.String())
}

// maybeCompact compacts the session history when its estimated size crosses
// the configured share of the model's context window. No-op when compaction
// is disabled or the history is still small.
func (s *Service) maybeCompact(ctx context.Context, sessionKey string, tally *usageTally) error {
	if s.compactRatio <= 0 {
		return nil
	}
	window := s.provider.ContextWindow(s.model)
	if window <= 0 {
		return nil
	}
	messages, err := s.store.Messages(sessionKey)
	if err != nil {
		return err
	}
	if len(messages) <= compactKeepRecent {
		return nil
	}
	if float64(estimateContextTokens(messages)) < s.compactRatio*float64(window) {
		return nil
	}
	return s.compact(ctx, sessionKey, messages, tally)
}

// Compact forces history compaction for a session regardless of size.
func (s *Service) Compact(ctx context.Context, sessionKey string) error {
	messages, err := s.store.Messages(sessionKey)
	if err != nil {
		return err
	}
	if len(messages) <= compactKeepRecent {
		return fmt.Errorf("session too short to compact (%d messages)", len(messages))
	}
	var tally usageTally
	return s.compact(ctx, sessionKey, messages, &tally)
}

// compact asks the provider to summarize older history, then replaces it
// with the summary plus the most recent messages.
func (s *Service) compact(ctx context.Context, sessionKey string, messages []provider.Message, tally *usageTally) error {
	s.emit(sessionKey, CompactingEvent())
	logger.Info("compacting session history", "session", sessionKey, "messages", len(messages))

	cut := len(messages) - compactKeepRecent
	older := messages[:cut]
	recent := messages[cut:]

	// Keep tool results paired with their tool calls: a tail that starts
	// with an orphaned tool result moves the cut earlier.
	for cut > 0 && recent[0].Role == provider.RoleTool {
		cut--
		older = messages[:cut]
		recent = messages[cut:]
	}
	if cut == 0 {
		return fmt.Errorf("nothing to summarize: history up to the kept tail is all tool results")
	}

	resp, err := s.provider.Complete(ctx, &provider.Request{
		Model:     s.model,
		System:    compactionPrompt,
		Messages:  append(append([]provider.Message{}, older...), provider.UserMessage("Summarize the conversation above.")),
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("summarization call: %w", err)
	}
	tally.record(s.provider, s.model, resp.Usage)

	summary := resp.TextContent()
	if strings.TrimSpace(summary) == "" {
		return fmt.Errorf("summarization returned no text")
	}

	compacted := append(
		[]provider.Message{provider.UserMessage("[Conversation summary]\n\n" + summary)},
		recent...,
	)
	if err := s.store.ReplaceMessages(sessionKey, compacted); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}

	s.emit(sessionKey, CompactionSummaryEvent(summary))
	logger.Info("session history compacted", "session", sessionKey, "kept", len(compacted))
	return nil
}
