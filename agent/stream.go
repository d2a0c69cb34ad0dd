package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/provider"
)

// blockState is the accumulation buffer for one content block, keyed by the
// stream index. Text and tool input accumulate separately; tool input stays
// an unparsed string until the block closes.
type blockState struct {
	shell     provider.ContentBlock
	text      strings.Builder
	inputJSON strings.Builder
	final     provider.ContentBlock
	closed    bool
}

// ReconstructResponse drains a provider event stream into one complete
// Response, emitting progress through emit as data arrives. The returned
// reasoning string is the concatenated thinking content, which never enters
// the content blocks.
//
// A stream that ends before message_stop fails with ErrStreamTruncated. An
// event referencing a block index never opened fails with ErrStreamProtocol.
func ReconstructResponse(stream provider.Stream, emit func(ProgressEvent)) (*provider.Response, string, error) {
	if emit == nil {
		emit = func(ProgressEvent) {}
	}

	resp := &provider.Response{}
	blocks := map[int]*blockState{}
	var reasoning strings.Builder
	stopped := false

	for !stopped {
		ev, err := stream.Recv()
		if err == io.EOF {
			return nil, "", fmt.Errorf("%w: stream ended before message_stop", provider.ErrStreamTruncated)
		}
		if err != nil {
			return nil, "", err
		}

		switch ev.Type {
		case provider.EventMessageStart:
			resp.ID = ev.MessageID
			resp.Model = ev.Model
			resp.Usage.InputTokens = ev.Usage.InputTokens
			resp.Usage.OutputTokens = ev.Usage.OutputTokens

		case provider.EventContentBlockStart:
			blocks[ev.Index] = &blockState{shell: ev.Block}

		case provider.EventContentBlockDelta:
			b, ok := blocks[ev.Index]
			if !ok {
				return nil, "", fmt.Errorf("%w: delta for unopened block index %d", provider.ErrStreamProtocol, ev.Index)
			}
			switch ev.Delta.Type {
			case provider.DeltaText:
				b.text.WriteString(ev.Delta.Text)
				emit(StreamingChunkEvent(ev.Delta.Text))
			case provider.DeltaInputJSON:
				b.inputJSON.WriteString(ev.Delta.PartialJSON)
			case provider.DeltaThinking:
				reasoning.WriteString(ev.Delta.Thinking)
				emit(ReasoningChunkEvent(ev.Delta.Thinking))
			default:
				return nil, "", fmt.Errorf("%w: unknown delta type %q", provider.ErrStreamProtocol, ev.Delta.Type)
			}

		case provider.EventContentBlockStop:
			b, ok := blocks[ev.Index]
			if !ok {
				return nil, "", fmt.Errorf("%w: stop for unopened block index %d", provider.ErrStreamProtocol, ev.Index)
			}
			b.final = finalizeBlock(b)
			b.closed = true

		case provider.EventMessageDelta:
			resp.StopReason = ev.StopReason
			if ev.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = ev.Usage.OutputTokens
			}
			if ev.Usage.InputTokens > 0 {
				resp.Usage.InputTokens = ev.Usage.InputTokens
			}

		case provider.EventMessageStop:
			stopped = true

		default:
			return nil, "", fmt.Errorf("%w: unknown event type %q", provider.ErrStreamProtocol, ev.Type)
		}
	}

	indices := make([]int, 0, len(blocks))
	for idx := range blocks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		b := blocks[idx]
		if !b.closed {
			b.final = finalizeBlock(b)
		}
		// A block that carried only thinking deltas yields no content; its
		// text already lives in the reasoning string.
		if b.shell.Type != provider.BlockText && b.shell.Type != provider.BlockToolUse && b.text.Len() == 0 {
			continue
		}
		resp.Content = append(resp.Content, b.final)
	}

	if resp.StopReason == "" {
		resp.StopReason = provider.StopEndTurn
	}
	return resp, reasoning.String(), nil
}

// finalizeBlock closes one accumulation buffer into a content block. Tool
// input that fails to parse yields an empty input object instead of failing
// the whole response.
func finalizeBlock(b *blockState) provider.ContentBlock {
	switch b.shell.Type {
	case provider.BlockToolUse:
		raw := strings.TrimSpace(b.inputJSON.String())
		if raw == "" {
			raw = "{}"
		}
		if !json.Valid([]byte(raw)) {
			logger.Warn(
				"tool input is not valid JSON, using empty input",
				"tool", b.shell.Name,
				"toolUseID", b.shell.ID,
				"len", len(raw),
			)
			raw = "{}"
		}
		return provider.ToolUseBlock(b.shell.ID, b.shell.Name, json.RawMessage(raw))
	default:
		return provider.TextBlock(b.text.String())
	}
}
