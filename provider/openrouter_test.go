package provider

import (
	"testing"

	openai "github.com/openai/openai-go/v3"
)

func textChunk(text string) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:    "chatcmpl-1",
		Model: "test-model",
		Choices: []openai.ChatCompletionChunkChoice{{
			Delta: openai.ChatCompletionChunkChoiceDelta{Content: text},
		}},
	}
}

func toolChunk(toolIndex int64, id, name, args string) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:    "chatcmpl-1",
		Model: "test-model",
		Choices: []openai.ChatCompletionChunkChoice{{
			Delta: openai.ChatCompletionChunkChoiceDelta{
				ToolCalls: []openai.ChatCompletionChunkChoiceDeltaToolCall{{
					Index:    toolIndex,
					ID:       id,
					Function: openai.ChatCompletionChunkChoiceDeltaToolCallFunction{Name: name, Arguments: args},
				}},
			},
		}},
	}
}

func collectEvents(s *openRouterStream, chunks ...openai.ChatCompletionChunk) []StreamEvent {
	for _, c := range chunks {
		s.translate(c)
	}
	s.finalize()
	return s.queue
}

func TestOpenRouterStreamTextAfterToolCallKeepsOwnIndex(t *testing.T) {
	s := &openRouterStream{toolBlocks: map[int64]int{}}
	events := collectEvents(s,
		toolChunk(0, "call_1", "test_tool", `{"x":1}`),
		textChunk("here is the answer"),
	)

	textIdx := -1
	toolIdx := -1
	for _, ev := range events {
		if ev.Type != EventContentBlockStart {
			continue
		}
		switch ev.Block.Type {
		case BlockText:
			textIdx = ev.Index
		case BlockToolUse:
			toolIdx = ev.Index
		}
	}
	if toolIdx != 0 {
		t.Fatalf("tool block index = %d, want 0", toolIdx)
	}
	if textIdx != 1 {
		t.Fatalf("text block index = %d, want 1", textIdx)
	}

	for _, ev := range events {
		if ev.Type == EventContentBlockDelta && ev.Delta.Type == DeltaText {
			if ev.Index != textIdx {
				t.Fatalf("text delta index = %d, want %d (the text block's index)", ev.Index, textIdx)
			}
		}
	}
}

func TestOpenRouterStreamEventSequence(t *testing.T) {
	s := &openRouterStream{toolBlocks: map[int64]int{}}
	events := collectEvents(s,
		textChunk("Hello, "),
		textChunk("world"),
		toolChunk(0, "call_1", "test_tool", `{"mess`),
		toolChunk(0, "", "", `age":"hi"}`),
	)

	if events[0].Type != EventMessageStart {
		t.Fatalf("first event = %s, want %s", events[0].Type, EventMessageStart)
	}
	last := events[len(events)-1]
	if last.Type != EventMessageStop {
		t.Fatalf("last event = %s, want %s", last.Type, EventMessageStop)
	}

	var text string
	var argJSON string
	stops := 0
	for _, ev := range events {
		switch ev.Type {
		case EventContentBlockDelta:
			switch ev.Delta.Type {
			case DeltaText:
				text += ev.Delta.Text
			case DeltaInputJSON:
				argJSON += ev.Delta.PartialJSON
			}
		case EventContentBlockStop:
			stops++
		}
	}
	if text != "Hello, world" {
		t.Fatalf("text = %q, want %q", text, "Hello, world")
	}
	if argJSON != `{"message":"hi"}` {
		t.Fatalf("tool args = %q, want %q", argJSON, `{"message":"hi"}`)
	}
	if stops != 2 {
		t.Fatalf("block stops = %d, want 2", stops)
	}
}
