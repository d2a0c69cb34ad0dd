package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/adolfousier/opencrab/logger"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

const anthropicDefaultModel = "claude-sonnet-4-5"

func init() {
	Register("anthropic", Registration{
		Models:  []string{"claude-opus-4-6", "claude-sonnet-4-5", "claude-haiku-4-5"},
		EnvKey:  "ANTHROPIC_API_KEY",
		EnvBase: "ANTHROPIC_API_BASE",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return NewAnthropicProvider(apiKey, apiBase, model, maxTokens, temperature)
		},
	})
}

// AnthropicProvider implements the Provider interface using the Anthropic
// Messages API.
type AnthropicProvider struct {
	model       string
	maxTokens   int
	temperature float64
	client      anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *AnthropicProvider {
	if model == "" {
		model = anthropicDefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicProvider{
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      anthropic.NewClient(opts...),
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.model }

func (p *AnthropicProvider) SupportedModels() []string {
	return SupportedModels("anthropic")
}

func (p *AnthropicProvider) ContextWindow(model string) int {
	return catalogWindow(model, 200000)
}

func (p *AnthropicProvider) Cost(model string, inputTokens, outputTokens int) float64 {
	return catalogCost(model, inputTokens, outputTokens)
}

// Complete sends a single-shot completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	params := p.buildParams(req)

	logger.Info(
		"anthropic request",
		"provider", "anthropic",
		"model", params.Model,
		"toolCount", len(req.Tools),
		"messageCount", len(req.Messages),
	)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("anthropic request error", "provider", "anthropic", "err", err)
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	resp := &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: fromAnthropicStopReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, TextBlock(b.Text))
		case anthropic.ToolUseBlock:
			resp.Content = append(resp.Content, ToolUseBlock(b.ID, b.Name, json.RawMessage(b.Input)))
		}
	}

	logger.Info(
		"anthropic response",
		"provider", "anthropic",
		"model", resp.Model,
		"stopReason", resp.StopReason,
		"hasToolUse", resp.HasToolUse(),
		"inputTokens", resp.Usage.InputTokens,
		"outputTokens", resp.Usage.OutputTokens,
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// Stream sends a completion request and returns its event stream. SDK
// events map one-to-one onto the provider-neutral event types.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	params := p.buildParams(req)

	logger.Info(
		"anthropic stream request",
		"provider", "anthropic",
		"model", params.Model,
		"toolCount", len(req.Tools),
		"messageCount", len(req.Messages),
	)

	raw := p.client.Messages.NewStreaming(ctx, params)
	if err := raw.Err(); err != nil {
		logger.Error("anthropic stream error", "provider", "anthropic", "err", err)
		return nil, fmt.Errorf("anthropic stream failed: %w", err)
	}
	return &anthropicStream{raw: raw}, nil
}

// anthropicStream adapts the SDK's SSE stream to the Stream interface.
type anthropicStream struct {
	raw *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (StreamEvent, error) {
	for s.raw.Next() {
		event := s.raw.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			return StreamEvent{
				Type:      EventMessageStart,
				MessageID: ev.Message.ID,
				Model:     string(ev.Message.Model),
				Role:      RoleAssistant,
				Usage: Usage{
					InputTokens:  int(ev.Message.Usage.InputTokens),
					OutputTokens: int(ev.Message.Usage.OutputTokens),
				},
			}, nil
		case anthropic.ContentBlockStartEvent:
			shell := ContentBlock{Type: BlockText}
			if ev.ContentBlock.Type == "tool_use" {
				shell = ContentBlock{Type: BlockToolUse, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			}
			return StreamEvent{Type: EventContentBlockStart, Index: int(ev.Index), Block: shell}, nil
		case anthropic.ContentBlockDeltaEvent:
			delta := Delta{}
			switch ev.Delta.Type {
			case "text_delta":
				delta = Delta{Type: DeltaText, Text: ev.Delta.Text}
			case "input_json_delta":
				delta = Delta{Type: DeltaInputJSON, PartialJSON: ev.Delta.PartialJSON}
			case "thinking_delta":
				delta = Delta{Type: DeltaThinking, Thinking: ev.Delta.Thinking}
			default:
				// Signature deltas and future kinds carry nothing we buffer.
				continue
			}
			return StreamEvent{Type: EventContentBlockDelta, Index: int(ev.Index), Delta: delta}, nil
		case anthropic.ContentBlockStopEvent:
			return StreamEvent{Type: EventContentBlockStop, Index: int(ev.Index)}, nil
		case anthropic.MessageDeltaEvent:
			return StreamEvent{
				Type:       EventMessageDelta,
				StopReason: fromAnthropicStopReason(string(ev.Delta.StopReason)),
				Usage:      Usage{OutputTokens: int(ev.Usage.OutputTokens)},
			}, nil
		case anthropic.MessageStopEvent:
			return StreamEvent{Type: EventMessageStop}, nil
		}
	}
	if err := s.raw.Err(); err != nil {
		return StreamEvent{}, fmt.Errorf("anthropic stream failed: %w", err)
	}
	return StreamEvent{}, io.EOF
}

func (s *anthropicStream) Close() error { return s.raw.Close() }

// buildParams converts the neutral Request to Anthropic message params.
func (p *AnthropicProvider) buildParams(req *Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	if temp != 0 {
		params.Temperature = anthropic.Float(temp)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toAnthropicTool(t))
	}
	return params
}

// toAnthropicMessages converts neutral messages to SDK params. Tool result
// messages become user-role messages per the Messages API.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(b.Text))
			case BlockToolUse:
				var input any
				if len(b.Input) > 0 {
					_ = json.Unmarshal(b.Input, &input)
				}
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{ID: b.ID, Name: b.Name, Input: input},
				})
			case BlockToolResult:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{
							{OfText: &anthropic.TextBlockParam{Text: b.Content}},
						},
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			// User and tool-result messages both travel as user role.
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// toAnthropicTool converts a neutral tool definition to SDK params.
func toAnthropicTool(t ToolDef) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	if props, ok := t.InputSchema["properties"]; ok {
		schema.Properties = props
	}
	if required, ok := t.InputSchema["required"]; ok {
		schema.ExtraFields = map[string]any{"required": required}
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		},
	}
}

// fromAnthropicStopReason maps API stop reasons to the neutral type.
func fromAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence":
		return StopStopSequence
	default:
		return StopEndTurn
	}
}
