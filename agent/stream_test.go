package agent

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/adolfousier/opencrab/provider"
)

func textStreamEvents(chunks ...string) []provider.StreamEvent {
	events := []provider.StreamEvent{
		{Type: provider.EventMessageStart, MessageID: "msg-1", Model: "test-model", Role: provider.RoleAssistant, Usage: provider.Usage{InputTokens: 10}},
		{Type: provider.EventContentBlockStart, Index: 0, Block: provider.ContentBlock{Type: provider.BlockText}},
	}
	for _, c := range chunks {
		events = append(events, provider.StreamEvent{
			Type: provider.EventContentBlockDelta, Index: 0,
			Delta: provider.Delta{Type: provider.DeltaText, Text: c},
		})
	}
	events = append(events,
		provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0},
		provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: provider.StopEndTurn, Usage: provider.Usage{OutputTokens: 7}},
		provider.StreamEvent{Type: provider.EventMessageStop},
	)
	return events
}

func TestReconstructTextRoundTrip(t *testing.T) {
	stream := provider.NewEventStream(textStreamEvents("Hello", ", ", "world")...)

	var chunks []string
	resp, _, err := ReconstructResponse(stream, func(ev ProgressEvent) {
		if ev.Kind == ProgressStreamingChunk {
			chunks = append(chunks, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("ReconstructResponse() error = %v", err)
	}

	if len(resp.Content) != 1 || resp.Content[0].Type != provider.BlockText {
		t.Fatalf("Content = %+v, want single text block", resp.Content)
	}
	if got, want := resp.Content[0].Text, "Hello, world"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
	if resp.StopReason != provider.StopEndTurn {
		t.Fatalf("StopReason = %q, want %q", resp.StopReason, provider.StopEndTurn)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected StreamingChunk events")
	}
	if got := strings.Join(chunks, ""); got != "Hello, world" {
		t.Fatalf("chunk concatenation = %q, want %q", got, "Hello, world")
	}
	if resp.ID != "msg-1" || resp.Model != "test-model" {
		t.Fatalf("identity = %q/%q, want msg-1/test-model", resp.ID, resp.Model)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 7 {
		t.Fatalf("usage = %+v, want 10/7", resp.Usage)
	}
}

func TestReconstructToolUseFromJSONFragments(t *testing.T) {
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-2", Model: "test-model", Role: provider.RoleAssistant},
		provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: provider.ContentBlock{Type: provider.BlockToolUse, ID: "toolu_1", Name: "test_tool"}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, Delta: provider.Delta{Type: provider.DeltaInputJSON, PartialJSON: `{"mess`}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, Delta: provider.Delta{Type: provider.DeltaInputJSON, PartialJSON: `age":"test"}`}},
		provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0},
		provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: provider.StopToolUse},
		provider.StreamEvent{Type: provider.EventMessageStop},
	)

	resp, _, err := ReconstructResponse(stream, nil)
	if err != nil {
		t.Fatalf("ReconstructResponse() error = %v", err)
	}

	uses := resp.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("ToolUses() = %+v, want one block", uses)
	}
	if uses[0].Name != "test_tool" {
		t.Fatalf("Name = %q, want test_tool", uses[0].Name)
	}
	var input map[string]string
	if err := json.Unmarshal(uses[0].Input, &input); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if input["message"] != "test" {
		t.Fatalf("input = %+v, want message=test", input)
	}
}

func TestReconstructInvalidToolJSONYieldsEmptyInput(t *testing.T) {
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-3", Model: "test-model", Role: provider.RoleAssistant},
		provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: provider.ContentBlock{Type: provider.BlockToolUse, ID: "toolu_2", Name: "broken"}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, Delta: provider.Delta{Type: provider.DeltaInputJSON, PartialJSON: `{"unterminated`}},
		provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0},
		provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: provider.StopToolUse},
		provider.StreamEvent{Type: provider.EventMessageStop},
	)

	resp, _, err := ReconstructResponse(stream, nil)
	if err != nil {
		t.Fatalf("ReconstructResponse() error = %v, want block-level recovery", err)
	}
	uses := resp.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("ToolUses() = %+v, want one block", uses)
	}
	if string(uses[0].Input) != "{}" {
		t.Fatalf("Input = %q, want {}", string(uses[0].Input))
	}
}

func TestReconstructTruncatedStream(t *testing.T) {
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-4", Model: "test-model", Role: provider.RoleAssistant},
		provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: provider.ContentBlock{Type: provider.BlockText}},
	)

	_, _, err := ReconstructResponse(stream, nil)
	if !errors.Is(err, provider.ErrStreamTruncated) {
		t.Fatalf("error = %v, want ErrStreamTruncated", err)
	}
}

func TestReconstructUnknownBlockIndex(t *testing.T) {
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-5", Model: "test-model", Role: provider.RoleAssistant},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 3, Delta: provider.Delta{Type: provider.DeltaText, Text: "orphan"}},
	)

	_, _, err := ReconstructResponse(stream, nil)
	if !errors.Is(err, provider.ErrStreamProtocol) {
		t.Fatalf("error = %v, want ErrStreamProtocol", err)
	}
}

func TestReconstructSeparatesReasoning(t *testing.T) {
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-6", Model: "test-model", Role: provider.RoleAssistant},
		provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: provider.ContentBlock{Type: provider.BlockText}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, Delta: provider.Delta{Type: provider.DeltaThinking, Thinking: "pondering"}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, Delta: provider.Delta{Type: provider.DeltaText, Text: "answer"}},
		provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0},
		provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: provider.StopEndTurn},
		provider.StreamEvent{Type: provider.EventMessageStop},
	)

	var reasoningChunks []string
	resp, reasoning, err := ReconstructResponse(stream, func(ev ProgressEvent) {
		if ev.Kind == ProgressReasoningChunk {
			reasoningChunks = append(reasoningChunks, ev.Text)
		}
	})
	if err != nil {
		t.Fatalf("ReconstructResponse() error = %v", err)
	}
	if reasoning != "pondering" {
		t.Fatalf("reasoning = %q, want pondering", reasoning)
	}
	if len(reasoningChunks) != 1 || reasoningChunks[0] != "pondering" {
		t.Fatalf("reasoning chunks = %+v", reasoningChunks)
	}
	if resp.Content[0].Text != "answer" {
		t.Fatalf("text = %q, want answer (reasoning must not leak into content)", resp.Content[0].Text)
	}
}

func TestReconstructDropsThinkingOnlyBlock(t *testing.T) {
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-8", Model: "test-model", Role: provider.RoleAssistant},
		provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: provider.ContentBlock{Type: "thinking"}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, Delta: provider.Delta{Type: provider.DeltaThinking, Thinking: "weighing options"}},
		provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0},
		provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 1, Block: provider.ContentBlock{Type: provider.BlockText}},
		provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 1, Delta: provider.Delta{Type: provider.DeltaText, Text: "answer"}},
		provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 1},
		provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: provider.StopEndTurn},
		provider.StreamEvent{Type: provider.EventMessageStop},
	)

	resp, reasoning, err := ReconstructResponse(stream, nil)
	if err != nil {
		t.Fatalf("ReconstructResponse() error = %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("Content = %+v, want only the text block", resp.Content)
	}
	if resp.Content[0].Type != provider.BlockText || resp.Content[0].Text != "answer" {
		t.Fatalf("Content[0] = %+v, want text block with answer", resp.Content[0])
	}
	if reasoning != "weighing options" {
		t.Fatalf("reasoning = %q, want weighing options", reasoning)
	}
}

func TestReconstructMidStreamFailure(t *testing.T) {
	wantErr := errors.New("connection reset")
	stream := provider.NewEventStream(
		provider.StreamEvent{Type: provider.EventMessageStart, MessageID: "msg-7", Model: "test-model", Role: provider.RoleAssistant},
	).Fail(wantErr)

	_, _, err := ReconstructResponse(stream, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
}
