package agent

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/adolfousier/opencrab/provider"
)

func summaryResponse(id, summary string, input, output int) *provider.Response {
	return &provider.Response{
		ID:         id,
		Model:      "test-model",
		Content:    []provider.ContentBlock{provider.TextBlock(summary)},
		StopReason: provider.StopEndTurn,
		Usage:      provider.Usage{InputTokens: input, OutputTokens: output},
	}
}

func seedMessages(t *testing.T, svc *Service, sessionKey string, msgs ...provider.Message) {
	t.Helper()
	for _, m := range msgs {
		if err := svc.store.AppendMessage(sessionKey, m); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
}

func TestCompactReplacesOlderHistory(t *testing.T) {
	const summary = "User asked about config paths. Decided on ~/.opencrab."
	p := &scriptedProvider{responses: []*provider.Response{summaryResponse("msg-sum", summary, 40, 12)}}

	var events []ProgressEvent
	svc, store := newTestService(t, p, WithProgress(func(_ string, ev ProgressEvent) {
		events = append(events, ev)
	}))
	seedMessages(t, svc, "s1",
		provider.UserMessage("first question"),
		provider.AssistantMessage(provider.TextBlock("first answer")),
		provider.UserMessage("second question"),
		provider.AssistantMessage(provider.TextBlock("second answer")),
		provider.UserMessage("third question"),
		provider.AssistantMessage(provider.TextBlock("third answer")),
	)

	if err := svc.Compact(context.Background(), "s1"); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != compactKeepRecent+1 {
		t.Fatalf("persisted %d messages, want %d (summary + recent)", len(msgs), compactKeepRecent+1)
	}
	if msgs[0].Role != provider.RoleUser || !strings.HasPrefix(msgs[0].Content[0].Text, "[Conversation summary]\n\n") {
		t.Fatalf("msgs[0] = %+v, want user message with summary prefix", msgs[0])
	}
	if !strings.Contains(msgs[0].Content[0].Text, summary) {
		t.Fatalf("summary text missing from %q", msgs[0].Content[0].Text)
	}
	wantTail := []string{"second question", "second answer", "third question", "third answer"}
	for i, want := range wantTail {
		if got := msgs[i+1].Content[0].Text; got != want {
			t.Fatalf("msgs[%d] = %q, want %q", i+1, got, want)
		}
	}

	var sawCompacting bool
	var summaryEvent string
	for _, ev := range events {
		switch ev.Kind {
		case ProgressCompacting:
			sawCompacting = true
		case ProgressCompactionSummary:
			summaryEvent = ev.Status
		}
	}
	if !sawCompacting {
		t.Fatalf("no Compacting event emitted")
	}
	if summaryEvent != summary {
		t.Fatalf("CompactionSummary status = %q, want %q", summaryEvent, summary)
	}

	// The summarization call sees only the older half plus the instruction.
	if got := len(p.requests[0].Messages); got != 3 {
		t.Fatalf("summarization request carried %d messages, want 3", got)
	}
}

func TestToolLoopCompactionCountsSummaryUsage(t *testing.T) {
	p := &scriptedProvider{
		window: 100,
		responses: []*provider.Response{
			summaryResponse("msg-sum", "earlier discussion condensed", 7, 3),
			textResponse("msg-2", 10, 5),
		},
	}
	svc, store := newTestService(t, p, WithCompaction(0.5))

	filler := strings.Repeat("alpha beta gamma delta ", 16)
	seedMessages(t, svc, "s1",
		provider.UserMessage(filler),
		provider.AssistantMessage(provider.TextBlock(filler)),
		provider.UserMessage(filler),
		provider.AssistantMessage(provider.TextBlock(filler)),
		provider.UserMessage(filler),
	)

	resp, err := svc.SendMessageWithTools(context.Background(), "s1", "wrap up")
	if err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}

	if resp.Usage.InputTokens != 17 || resp.Usage.OutputTokens != 8 {
		t.Fatalf("usage = %+v, want 17/8 (summarization call included)", resp.Usage)
	}
	wantCost := (7*0.001 + 3*0.002) + (10*0.001 + 5*0.002)
	if math.Abs(resp.Cost-wantCost) > 1e-9 {
		t.Fatalf("cost = %v, want %v (summarization call included)", resp.Cost, wantCost)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	// Summary plus the kept tail, then the assistant reply.
	if len(msgs) != compactKeepRecent+2 {
		t.Fatalf("persisted %d messages, want %d", len(msgs), compactKeepRecent+2)
	}
	if !strings.HasPrefix(msgs[0].Content[0].Text, "[Conversation summary]\n\n") {
		t.Fatalf("msgs[0] = %q, want summary prefix", msgs[0].Content[0].Text)
	}
	if last := msgs[len(msgs)-1]; last.Role != provider.RoleAssistant || last.Content[0].Text != "final answer" {
		t.Fatalf("last message = %+v, want final assistant reply", last)
	}
}

func TestCompactKeepsToolResultsPaired(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{summaryResponse("msg-sum", "opening exchange condensed", 10, 4)}}
	svc, store := newTestService(t, p)
	seedMessages(t, svc, "s1",
		provider.UserMessage("run the tool"),
		provider.AssistantMessage(provider.ToolUseBlock("toolu_1", "test_tool", []byte(`{}`))),
		provider.ToolResultMessage("toolu_1", "tool ran", false),
		provider.AssistantMessage(provider.TextBlock("done")),
		provider.UserMessage("thanks"),
		provider.AssistantMessage(provider.TextBlock("anytime")),
	)

	if err := svc.Compact(context.Background(), "s1"); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	// The cut moves back past the orphaned tool result, so the tool call and
	// its result survive together.
	if len(msgs) != 6 {
		t.Fatalf("persisted %d messages, want 6", len(msgs))
	}
	if msgs[1].Role != provider.RoleAssistant || msgs[1].Content[0].Type != provider.BlockToolUse {
		t.Fatalf("msgs[1] = %+v, want the tool call", msgs[1])
	}
	if msgs[2].Role != provider.RoleTool || msgs[2].Content[0].ToolUseID != "toolu_1" {
		t.Fatalf("msgs[2] = %+v, want the paired tool result", msgs[2])
	}
}

func TestCompactRefusesAllToolResultPrefix(t *testing.T) {
	p := &scriptedProvider{}
	svc, store := newTestService(t, p)
	seedMessages(t, svc, "s1",
		provider.ToolResultMessage("toolu_1", "first result", false),
		provider.ToolResultMessage("toolu_2", "second result", false),
		provider.ToolResultMessage("toolu_3", "third result", false),
		provider.AssistantMessage(provider.TextBlock("done")),
		provider.UserMessage("thanks"),
		provider.AssistantMessage(provider.TextBlock("anytime")),
	)

	err := svc.Compact(context.Background(), "s1")
	if err == nil || !strings.Contains(err.Error(), "nothing to summarize") {
		t.Fatalf("Compact() error = %v, want refusal", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times, want 0", p.calls)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("history changed: %d messages, want 6 untouched", len(msgs))
	}
}

func TestCompactTooShort(t *testing.T) {
	p := &scriptedProvider{}
	svc, _ := newTestService(t, p)
	seedMessages(t, svc, "s1",
		provider.UserMessage("hello"),
		provider.AssistantMessage(provider.TextBlock("hi")),
	)

	if err := svc.Compact(context.Background(), "s1"); err == nil {
		t.Fatalf("Compact() succeeded on a short session, want error")
	}
	if p.calls != 0 {
		t.Fatalf("provider called %d times, want 0", p.calls)
	}
}
