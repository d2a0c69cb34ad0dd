package agent

import (
	"context"
	"fmt"

	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/provider"
	"github.com/adolfousier/opencrab/session"
	"github.com/adolfousier/opencrab/tools"
)

// hardIterationCeiling bounds a loop configured as unlimited. A provider
// that never stops requesting tools would otherwise run up unbounded cost.
const hardIterationCeiling = 1000

// Service drives the tool loop for one configured provider. A Service is
// safe for concurrent use across sessions; callers must not run two loops
// for the same session key at once.
type Service struct {
	provider provider.Provider
	store    *session.Store
	tools    *tools.Registry

	model             string
	systemPrompt      string
	maxTokens         int
	temperature       float64
	autoApprove       bool
	maxToolIterations int
	streaming         bool
	compactRatio      float64
	workspace         string

	progressFn  ProgressFunc
	approvalFn  ApprovalFunc
	sudoFn      SudoFunc
	queuePollFn QueuePollFunc
}

// Option configures a Service.
type Option func(*Service)

// WithTools sets the tool registry.
func WithTools(reg *tools.Registry) Option {
	return func(s *Service) { s.tools = reg }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// WithSystemPrompt sets the system prompt sent on every provider call.
func WithSystemPrompt(prompt string) Option {
	return func(s *Service) { s.systemPrompt = prompt }
}

// WithMaxTokens caps the response size of each provider call.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// WithAutoApprove approves every tool invocation without consulting the
// approval callback. Privileged commands still require the sudo callback.
func WithAutoApprove(v bool) Option {
	return func(s *Service) { s.autoApprove = v }
}

// WithMaxToolIterations caps tool-execution iterations per send. Zero means
// unlimited, bounded only by a hard safety ceiling.
func WithMaxToolIterations(n int) Option {
	return func(s *Service) { s.maxToolIterations = n }
}

// WithStreaming selects streamed provider calls with live chunk events.
func WithStreaming(v bool) Option {
	return func(s *Service) { s.streaming = v }
}

// WithCompaction enables history compaction once the estimated context
// exceeds ratio of the model's context window. Zero disables.
func WithCompaction(ratio float64) Option {
	return func(s *Service) { s.compactRatio = ratio }
}

// WithWorkspace sets the workspace directory surfaced to tools.
func WithWorkspace(dir string) Option {
	return func(s *Service) { s.workspace = dir }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Service) { s.progressFn = fn }
}

// WithApproval sets the approval callback.
func WithApproval(fn ApprovalFunc) Option {
	return func(s *Service) { s.approvalFn = fn }
}

// WithSudo sets the sudo confirmation callback.
func WithSudo(fn SudoFunc) Option {
	return func(s *Service) { s.sudoFn = fn }
}

// WithQueuePoll sets the injected-message poll capability.
func WithQueuePoll(fn QueuePollFunc) Option {
	return func(s *Service) { s.queuePollFn = fn }
}

// NewService creates a Service.
func NewService(p provider.Provider, store *session.Store, opts ...Option) *Service {
	s := &Service{
		provider: p,
		store:    store,
		tools:    tools.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.model == "" {
		s.model = p.DefaultModel()
	}
	return s
}

// emit delivers one progress event. Fire and forget.
func (s *Service) emit(sessionKey string, ev ProgressEvent) {
	if s.progressFn != nil {
		s.progressFn(sessionKey, ev)
	}
}

// SendMessage runs a single provider exchange without tools and returns the
// reply. The user message is persisted before the call, the assistant reply
// after it.
func (s *Service) SendMessage(ctx context.Context, sessionKey, text string) (*Response, error) {
	if err := s.store.AppendMessage(sessionKey, provider.UserMessage(text)); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	var tally usageTally
	resp, _, err := s.callProvider(ctx, sessionKey, nil)
	if err != nil {
		return nil, err
	}
	tally.record(s.provider, s.model, resp.Usage)
	s.emit(sessionKey, TokenCountEvent(resp.Usage.InputTokens))

	if err := s.store.AppendMessage(sessionKey, provider.Message{Role: provider.RoleAssistant, Content: resp.Content}); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	return s.finalResponse(resp, &tally), nil
}

// SendMessageWithTools runs the full tool loop: provider call, approved tool
// execution, injected-message pickup, until the provider stops requesting
// tools or the iteration cap is hit.
func (s *Service) SendMessageWithTools(ctx context.Context, sessionKey, text string) (*Response, error) {
	if err := s.store.AppendMessage(sessionKey, provider.UserMessage(text)); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	sess, err := s.store.Get(sessionKey)
	if err != nil {
		return nil, err
	}

	limit := s.maxToolIterations
	if limit <= 0 || limit > hardIterationCeiling {
		limit = hardIterationCeiling
	}
	toolDefs := s.tools.Defs()

	var tally usageTally
	var last *provider.Response
	iterations := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.maybeCompact(ctx, sessionKey, &tally); err != nil {
			logger.Warn("compaction failed, continuing with full history", "session", sessionKey, "err", err)
		}

		resp, reasoning, err := s.callProvider(ctx, sessionKey, toolDefs)
		if err != nil {
			return nil, err
		}
		last = resp
		tally.record(s.provider, s.model, resp.Usage)
		s.emit(sessionKey, TokenCountEvent(resp.Usage.InputTokens))

		if err := s.store.AppendMessage(sessionKey, provider.Message{Role: provider.RoleAssistant, Content: resp.Content}); err != nil {
			return nil, fmt.Errorf("persist assistant message: %w", err)
		}

		if resp.StopReason != provider.StopToolUse || !resp.HasToolUse() {
			break
		}
		if iterations >= limit {
			logger.Warn(
				"tool iteration cap reached, stopping with last response",
				"session", sessionKey,
				"iterations", iterations,
			)
			break
		}
		iterations++

		if text := resp.TextContent(); text != "" {
			s.emit(sessionKey, IntermediateTextEvent(text, reasoning))
		}

		for _, use := range resp.ToolUses() {
			if err := s.runToolUse(ctx, sessionKey, sess.ID, use); err != nil {
				return nil, err
			}
		}

		// One queue poll per iteration boundary, never mid-execution.
		if s.queuePollFn != nil {
			if injected, ok := s.queuePollFn(); ok {
				logger.Info("injecting queued message", "session", sessionKey)
				if err := s.store.AppendMessage(sessionKey, provider.UserMessage(injected)); err != nil {
					return nil, fmt.Errorf("persist injected message: %w", err)
				}
			}
		}
	}

	return s.finalResponse(last, &tally), nil
}

// callProvider issues one provider call with the full persisted history.
func (s *Service) callProvider(ctx context.Context, sessionKey string, toolDefs []provider.ToolDef) (*provider.Response, string, error) {
	messages, err := s.store.Messages(sessionKey)
	if err != nil {
		return nil, "", err
	}
	req := &provider.Request{
		Model:       s.model,
		System:      s.systemPrompt,
		Messages:    messages,
		Tools:       toolDefs,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	s.emit(sessionKey, ThinkingEvent())

	if !s.streaming {
		resp, err := s.provider.Complete(ctx, req)
		return resp, "", err
	}

	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer stream.Close()
	return ReconstructResponse(stream, func(ev ProgressEvent) {
		s.emit(sessionKey, ev)
	})
}

// runToolUse gates, executes and records one tool invocation. Tool failures
// fold back into the conversation; only persistence failures are fatal.
func (s *Service) runToolUse(ctx context.Context, sessionKey, sessionID string, use provider.ContentBlock) error {
	tool, ok := s.tools.Get(use.Name)
	if !ok {
		logger.Error("tool not found", "tool", use.Name)
		s.emit(sessionKey, ToolCompletedEvent(use.Name, use.Input, false, "unknown tool"))
		return s.appendToolResult(sessionKey, use.ID, fmt.Sprintf("unknown tool '%s'", use.Name), true)
	}

	outcome := s.approveToolUse(ctx, sessionID, tool, use.Input)
	if !outcome.approved {
		logger.Info("tool not executed", "tool", use.Name, "reason", outcome.reason)
		return s.appendToolResult(sessionKey, use.ID, "Tool execution denied: "+outcome.reason, true)
	}

	s.emit(sessionKey, ToolStartedEvent(use.Name, use.Input))

	rctx := tools.WithRuntimeContext(ctx, tools.RuntimeContext{
		SessionID:    sessionID,
		Workspace:    s.workspace,
		SudoPassword: outcome.sudoPassword,
		NotifyRestart: func(status string) {
			s.emit(sessionKey, RestartReadyEvent(status))
		},
	})
	result := tool.Execute(rctx, use.Input)

	s.emit(sessionKey, ToolCompletedEvent(use.Name, use.Input, result.OK, summarize(result.Content)))
	return s.appendToolResult(sessionKey, use.ID, result.Content, !result.OK)
}

// appendToolResult persists one tool-result message before the loop
// continues.
func (s *Service) appendToolResult(sessionKey, toolUseID, content string, isError bool) error {
	if err := s.store.AppendMessage(sessionKey, provider.ToolResultMessage(toolUseID, content, isError)); err != nil {
		return fmt.Errorf("persist tool result: %w", err)
	}
	return nil
}

// finalResponse assembles the aggregate returned to the caller.
func (s *Service) finalResponse(last *provider.Response, tally *usageTally) *Response {
	model := last.Model
	if model == "" {
		model = s.model
	}
	return &Response{
		MessageID:     last.ID,
		Content:       last.TextContent(),
		StopReason:    last.StopReason,
		Usage:         tally.total(),
		ContextTokens: tally.contextTokens,
		Cost:          tally.cost,
		Model:         model,
	}
}

// summarize shortens tool output for progress events.
func summarize(content string) string {
	const max = 200
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
