package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/adolfousier/opencrab/logger"
	openai "github.com/openai/openai-go/v3"
	oaioption "github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"
)

const (
	openRouterAPIBase      = "https://openrouter.ai/api/v1"
	openRouterDefaultModel = "anthropic/claude-opus-4-6"
	sdkMaxRetries          = 2
)

func init() {
	Register("openrouter", Registration{
		Models: []string{
			"anthropic/claude-opus-4-6",
			"openai/gpt-5.2",
			"openai/gpt-5.2-mini",
			"google/gemini-3-pro",
			"moonshotai/kimi-k2.5",
			"deepseek/deepseek-v3.3",
			"minimax/minimax-m2.5",
			"z-ai/glm-5",
		},
		EnvKey:  "OPENROUTER_API_KEY",
		EnvBase: "OPENROUTER_API_BASE",
		Constructor: func(apiKey, apiBase, model string, maxTokens int, temperature float64) Provider {
			return NewOpenRouterProvider(apiKey, apiBase, model, maxTokens, temperature)
		},
	})
}

// OpenRouterProvider implements the Provider interface for OpenRouter and
// other OpenAI-compatible chat completion APIs.
type OpenRouterProvider struct {
	model       string
	maxTokens   int
	temperature float64
	client      openai.Client
}

// NewOpenRouterProvider creates a new OpenRouter provider.
func NewOpenRouterProvider(apiKey, apiBase, model string, maxTokens int, temperature float64) *OpenRouterProvider {
	if model == "" {
		model = openRouterDefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	baseURL := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if baseURL == "" {
		baseURL = openRouterAPIBase
	}
	client := openai.NewClient(
		oaioption.WithAPIKey(apiKey),
		oaioption.WithBaseURL(baseURL),
		oaioption.WithMaxRetries(sdkMaxRetries),
	)
	return &OpenRouterProvider{
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client:      client,
	}
}

func (p *OpenRouterProvider) Name() string         { return "openrouter" }
func (p *OpenRouterProvider) DefaultModel() string { return p.model }

func (p *OpenRouterProvider) SupportedModels() []string {
	return SupportedModels("openrouter")
}

func (p *OpenRouterProvider) ContextWindow(model string) int {
	return catalogWindow(model, 128000)
}

func (p *OpenRouterProvider) Cost(model string, inputTokens, outputTokens int) float64 {
	return catalogCost(model, inputTokens, outputTokens)
}

// Complete sends a single-shot chat completion request.
func (p *OpenRouterProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	params := p.buildParams(req)

	logger.Info(
		"openrouter request",
		"provider", "openrouter",
		"model", params.Model,
		"toolCount", len(req.Tools),
		"messageCount", len(req.Messages),
	)

	chatResp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.Error("openrouter request error", "provider", "openrouter", "err", err)
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		logger.Error("openrouter no choices", "provider", "openrouter")
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	resp := &Response{
		ID:         chatResp.ID,
		Model:      chatResp.Model,
		StopReason: fromOpenAIFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  int(chatResp.Usage.PromptTokens),
			OutputTokens: int(chatResp.Usage.CompletionTokens),
		},
	}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.Content = append(resp.Content, ToolUseBlock(
			tc.ID, tc.Function.Name, json.RawMessage(tc.Function.Arguments),
		))
	}

	logger.Info(
		"openrouter response",
		"provider", "openrouter",
		"model", resp.Model,
		"finishReason", choice.FinishReason,
		"hasToolUse", resp.HasToolUse(),
		"inputTokens", resp.Usage.InputTokens,
		"outputTokens", resp.Usage.OutputTokens,
		"latencyMs", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// Stream sends a chat completion request and translates the chunk stream
// into the provider-neutral event sequence.
func (p *OpenRouterProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	logger.Info(
		"openrouter stream request",
		"provider", "openrouter",
		"model", params.Model,
		"toolCount", len(req.Tools),
		"messageCount", len(req.Messages),
	)

	raw := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := raw.Err(); err != nil {
		logger.Error("openrouter stream error", "provider", "openrouter", "err", err)
		return nil, fmt.Errorf("openrouter stream failed: %w", err)
	}
	return &openRouterStream{raw: raw, toolBlocks: map[int64]int{}}, nil
}

// openRouterStream translates chat completion chunks into stream events.
// Chat deltas carry no explicit block boundaries, so block starts and stops
// are synthesized: text and tool calls each claim the next free block index
// when their first delta arrives.
type openRouterStream struct {
	raw   *ssestream.Stream[openai.ChatCompletionChunk]
	queue []StreamEvent

	started    bool
	textOpen   bool
	textIdx    int
	nextIndex  int
	toolBlocks map[int64]int // chunk tool index -> block index
	openBlocks []int

	finish string
	usage  Usage
	done   bool
}

func (s *openRouterStream) Recv() (StreamEvent, error) {
	for len(s.queue) == 0 {
		if s.done {
			return StreamEvent{}, io.EOF
		}
		if !s.raw.Next() {
			if err := s.raw.Err(); err != nil {
				return StreamEvent{}, fmt.Errorf("openrouter stream failed: %w", err)
			}
			s.finalize()
			continue
		}
		s.translate(s.raw.Current())
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, nil
}

func (s *openRouterStream) Close() error { return s.raw.Close() }

func (s *openRouterStream) push(ev StreamEvent) { s.queue = append(s.queue, ev) }

func (s *openRouterStream) translate(chunk openai.ChatCompletionChunk) {
	if !s.started {
		s.started = true
		s.push(StreamEvent{
			Type:      EventMessageStart,
			MessageID: chunk.ID,
			Model:     chunk.Model,
			Role:      RoleAssistant,
		})
	}
	if chunk.Usage.TotalTokens > 0 {
		s.usage = Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if !s.textOpen {
			s.textOpen = true
			s.textIdx = s.nextIndex
			s.nextIndex++
			s.openBlocks = append(s.openBlocks, s.textIdx)
			s.push(StreamEvent{Type: EventContentBlockStart, Index: s.textIdx, Block: ContentBlock{Type: BlockText}})
		}
		s.push(StreamEvent{
			Type:  EventContentBlockDelta,
			Index: s.textIdx,
			Delta: Delta{Type: DeltaText, Text: choice.Delta.Content},
		})
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx, ok := s.toolBlocks[tc.Index]
		if !ok {
			idx = s.nextIndex
			s.nextIndex++
			s.toolBlocks[tc.Index] = idx
			s.openBlocks = append(s.openBlocks, idx)
			s.push(StreamEvent{
				Type:  EventContentBlockStart,
				Index: idx,
				Block: ContentBlock{Type: BlockToolUse, ID: tc.ID, Name: tc.Function.Name},
			})
		}
		if tc.Function.Arguments != "" {
			s.push(StreamEvent{
				Type:  EventContentBlockDelta,
				Index: idx,
				Delta: Delta{Type: DeltaInputJSON, PartialJSON: tc.Function.Arguments},
			})
		}
	}

	if choice.FinishReason != "" {
		s.finish = choice.FinishReason
	}
}

// finalize closes open blocks in index order and emits the message tail.
func (s *openRouterStream) finalize() {
	s.done = true
	sort.Ints(s.openBlocks)
	for _, idx := range s.openBlocks {
		s.push(StreamEvent{Type: EventContentBlockStop, Index: idx})
	}
	s.push(StreamEvent{
		Type:       EventMessageDelta,
		StopReason: fromOpenAIFinishReason(s.finish),
		Usage:      s.usage,
	})
	s.push(StreamEvent{Type: EventMessageStop})
}

// buildParams converts the neutral Request to chat completion params.
func (p *OpenRouterProvider) buildParams(req *Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(model),
		Messages:  toOpenAIChatMessages(req.System, req.Messages),
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temperature
	}
	if temp != 0 {
		params.Temperature = openai.Float(temp)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toOpenAIChatTool(t))
	}
	return params
}

// toOpenAIChatMessages converts neutral messages to chat completion params.
// Block-structured messages flatten into the chat shape: assistant text plus
// tool_calls, and one tool-role message per tool result.
func toOpenAIChatMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			var parts []string
			for _, b := range m.Content {
				if b.Type == BlockText && b.Text != "" {
					parts = append(parts, b.Text)
				}
			}
			if len(parts) > 0 {
				out = append(out, openai.UserMessage(strings.Join(parts, "\n\n")))
			}
		case RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			var parts []string
			for _, b := range m.Content {
				switch b.Type {
				case BlockText:
					if b.Text != "" {
						parts = append(parts, b.Text)
					}
				case BlockToolUse:
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: b.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      b.Name,
								Arguments: string(b.Input),
							},
						},
					})
				}
			}
			if len(parts) > 0 {
				assistant.Content.OfString = openai.String(strings.Join(parts, "\n\n"))
			}
			if len(parts) > 0 || len(assistant.ToolCalls) > 0 {
				out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
			}
		case RoleTool:
			for _, b := range m.Content {
				if b.Type == BlockToolResult {
					out = append(out, openai.ToolMessage(b.Content, b.ToolUseID))
				}
			}
		}
	}
	return out
}

// toOpenAIChatTool converts a neutral tool definition to chat params.
func toOpenAIChatTool(t ToolDef) openai.ChatCompletionToolUnionParam {
	def := shared.FunctionDefinitionParam{
		Name:       t.Name,
		Parameters: shared.FunctionParameters(t.InputSchema),
	}
	if t.Description != "" {
		def.Description = openai.String(t.Description)
	}
	return openai.ChatCompletionFunctionTool(def)
}

// fromOpenAIFinishReason maps chat finish reasons to the neutral type.
func fromOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
