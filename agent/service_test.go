package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/adolfousier/opencrab/provider"
	"github.com/adolfousier/opencrab/session"
	"github.com/adolfousier/opencrab/tools"
)

// scriptedProvider replays canned responses. When repeatLast is set, the
// final response repeats forever, simulating a model that never stops
// requesting tools.
type scriptedProvider struct {
	mu         sync.Mutex
	responses  []*provider.Response
	repeatLast bool
	window     int
	calls      int
	requests   []*provider.Request
}

func (p *scriptedProvider) Complete(_ context.Context, req *provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	idx := p.calls
	if idx >= len(p.responses) {
		if !p.repeatLast || len(p.responses) == 0 {
			return nil, errors.New("scripted provider exhausted")
		}
		idx = len(p.responses) - 1
	}
	p.calls++
	resp := *p.responses[idx]
	return &resp, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	events := []provider.StreamEvent{
		{Type: provider.EventMessageStart, MessageID: resp.ID, Model: resp.Model, Role: provider.RoleAssistant, Usage: provider.Usage{InputTokens: resp.Usage.InputTokens}},
	}
	for i, block := range resp.Content {
		switch block.Type {
		case provider.BlockText:
			events = append(events,
				provider.StreamEvent{Type: provider.EventContentBlockStart, Index: i, Block: provider.ContentBlock{Type: provider.BlockText}},
				provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: i, Delta: provider.Delta{Type: provider.DeltaText, Text: block.Text}},
				provider.StreamEvent{Type: provider.EventContentBlockStop, Index: i},
			)
		case provider.BlockToolUse:
			events = append(events,
				provider.StreamEvent{Type: provider.EventContentBlockStart, Index: i, Block: provider.ContentBlock{Type: provider.BlockToolUse, ID: block.ID, Name: block.Name}},
				provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: i, Delta: provider.Delta{Type: provider.DeltaInputJSON, PartialJSON: string(block.Input)}},
				provider.StreamEvent{Type: provider.EventContentBlockStop, Index: i},
			)
		}
	}
	events = append(events,
		provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: resp.StopReason, Usage: provider.Usage{OutputTokens: resp.Usage.OutputTokens}},
		provider.StreamEvent{Type: provider.EventMessageStop},
	)
	return provider.NewEventStream(events...), nil
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) DefaultModel() string      { return "test-model" }
func (p *scriptedProvider) SupportedModels() []string { return []string{"test-model"} }
func (p *scriptedProvider) ContextWindow(string) int {
	if p.window > 0 {
		return p.window
	}
	return 200000
}

func (p *scriptedProvider) Cost(_ string, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*0.001 + float64(outputTokens)*0.002
}

// recordingTool counts executions and always succeeds.
type recordingTool struct {
	name             string
	requiresApproval bool

	mu     sync.Mutex
	inputs []json.RawMessage
}

func (t *recordingTool) Name() string                { return t.name }
func (t *recordingTool) Description() string         { return "records invocations" }
func (t *recordingTool) Capabilities() []string      { return []string{"test"} }
func (t *recordingTool) RequiresApproval() bool      { return t.requiresApproval }
func (t *recordingTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *recordingTool) Execute(_ context.Context, input json.RawMessage) tools.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputs = append(t.inputs, input)
	return tools.Success("tool ran")
}

func (t *recordingTool) executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inputs)
}

func textResponse(id string, input, output int) *provider.Response {
	return &provider.Response{
		ID:         id,
		Model:      "test-model",
		Content:    []provider.ContentBlock{provider.TextBlock("final answer")},
		StopReason: provider.StopEndTurn,
		Usage:      provider.Usage{InputTokens: input, OutputTokens: output},
	}
}

func toolUseResponse(id string, input, output int) *provider.Response {
	return &provider.Response{
		ID:    id,
		Model: "test-model",
		Content: []provider.ContentBlock{
			provider.TextBlock("let me check"),
			provider.ToolUseBlock("toolu_"+id, "test_tool", json.RawMessage(`{"message":"test"}`)),
		},
		StopReason: provider.StopToolUse,
		Usage:      provider.Usage{InputTokens: input, OutputTokens: output},
	}
}

func newTestService(t *testing.T, p provider.Provider, opts ...Option) (*Service, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	reg := tools.NewRegistry()
	reg.Register(&recordingTool{name: "test_tool"})
	base := []Option{WithTools(reg), WithAutoApprove(true)}
	return NewService(p, store, append(base, opts...)...), store
}

func TestSendMessageSingleCallTokens(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{textResponse("msg-1", 10, 5)}}
	svc, store := newTestService(t, p)

	resp, err := svc.SendMessage(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("usage = %+v, want 10/5", resp.Usage)
	}
	if resp.ContextTokens != resp.Usage.InputTokens {
		t.Fatalf("context_tokens = %d, want %d (single call)", resp.ContextTokens, resp.Usage.InputTokens)
	}
	if resp.Content != "final answer" {
		t.Fatalf("content = %q", resp.Content)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
}

func TestToolLoopUsageAccumulation(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	svc, _ := newTestService(t, p)

	resp, err := svc.SendMessageWithTools(context.Background(), "s1", "do the thing")
	if err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}

	if resp.Usage.InputTokens != 25 {
		t.Fatalf("usage.input_tokens = %d, want 25 (summed)", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 45 {
		t.Fatalf("usage.output_tokens = %d, want 45 (summed)", resp.Usage.OutputTokens)
	}
	if resp.ContextTokens != 15 {
		t.Fatalf("context_tokens = %d, want 15 (last call only)", resp.ContextTokens)
	}

	wantCost := (10*0.001 + 20*0.002) + (15*0.001 + 25*0.002)
	if math.Abs(resp.Cost-wantCost) > 1e-9 {
		t.Fatalf("cost = %v, want %v (per-call, summed)", resp.Cost, wantCost)
	}
	if resp.MessageID != "msg-2" {
		t.Fatalf("MessageID = %q, want msg-2", resp.MessageID)
	}
}

func TestToolLoopPersistsInOrder(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	svc, store := newTestService(t, p)

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "go"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	wantRoles := []provider.Role{provider.RoleUser, provider.RoleAssistant, provider.RoleTool, provider.RoleAssistant}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("persisted %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Fatalf("msgs[%d].Role = %q, want %q", i, msgs[i].Role, want)
		}
	}
	if msgs[2].Content[0].ToolUseID != "toolu_msg-1" {
		t.Fatalf("tool result not tagged with originating call: %+v", msgs[2].Content[0])
	}
}

func TestQueueInjection(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	mailbox := NewMailbox()
	mailbox.Offer("user follow-up")
	svc, store := newTestService(t, p, WithQueuePoll(mailbox.PollFunc()))

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "original"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	var userTexts []string
	for _, m := range msgs {
		if m.Role == provider.RoleUser {
			userTexts = append(userTexts, m.Content[0].Text)
		}
	}
	if len(userTexts) != 2 || userTexts[0] != "original" || userTexts[1] != "user follow-up" {
		t.Fatalf("user messages = %v, want [original, user follow-up]", userTexts)
	}
	if mailbox.Len() != 0 {
		t.Fatalf("mailbox should be drained, has %d", mailbox.Len())
	}
}

func TestEmptyQueueNoSpuriousInjection(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	mailbox := NewMailbox()
	svc, store := newTestService(t, p, WithQueuePoll(mailbox.PollFunc()))

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "only one"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	users := 0
	for _, m := range msgs {
		if m.Role == provider.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("user messages = %d, want exactly 1", users)
	}
}

func TestApprovalDenialSkipsExecution(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	tool := &recordingTool{name: "test_tool", requiresApproval: true}
	reg := tools.NewRegistry()
	reg.Register(tool)

	var completedEvents int
	svc := NewService(p, store,
		WithTools(reg),
		WithApproval(func(context.Context, ToolApprovalInfo) (bool, error) { return false, nil }),
		WithProgress(func(_ string, ev ProgressEvent) {
			if ev.Kind == ProgressToolCompleted {
				completedEvents++
			}
		}),
	)

	resp, err := svc.SendMessageWithTools(context.Background(), "s1", "try it")
	if err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}
	if tool.executions() != 0 {
		t.Fatalf("tool executed %d times, want 0", tool.executions())
	}
	if completedEvents != 0 {
		t.Fatalf("ToolCompleted events = %d, want 0 for denied tool", completedEvents)
	}
	if resp.StopReason != provider.StopEndTurn {
		t.Fatalf("loop did not reach done: %q", resp.StopReason)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	var denial string
	for _, m := range msgs {
		if m.Role == provider.RoleTool {
			denial = m.Content[0].Content
		}
	}
	if !strings.Contains(denial, "denied") {
		t.Fatalf("denial not recorded in context: %q", denial)
	}
}

func TestMissingApprovalCallbackFailsClosed(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	tool := &recordingTool{name: "test_tool", requiresApproval: true}
	reg := tools.NewRegistry()
	reg.Register(tool)
	svc := NewService(p, store, WithTools(reg))

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "try it"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}
	if tool.executions() != 0 {
		t.Fatalf("tool executed without any approval path, want fail-closed denial")
	}
}

func TestIterationCapBoundsLoop(t *testing.T) {
	p := &scriptedProvider{
		responses:  []*provider.Response{toolUseResponse("msg-1", 10, 20)},
		repeatLast: true,
	}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	tool := &recordingTool{name: "test_tool"}
	reg := tools.NewRegistry()
	reg.Register(tool)
	svc := NewService(p, store, WithTools(reg), WithAutoApprove(true), WithMaxToolIterations(3))

	resp, err := svc.SendMessageWithTools(context.Background(), "s1", "loop forever")
	if err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}
	if tool.executions() != 3 {
		t.Fatalf("tool executed %d times, want 3 (cap)", tool.executions())
	}
	if resp.StopReason != provider.StopToolUse {
		t.Fatalf("StopReason = %q, want the capped response's stop reason", resp.StopReason)
	}
}

func TestUnknownToolReportedAsFailure(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{
			ID:    "msg-1",
			Model: "test-model",
			Content: []provider.ContentBlock{
				provider.ToolUseBlock("toolu_x", "no_such_tool", json.RawMessage(`{}`)),
			},
			StopReason: provider.StopToolUse,
			Usage:      provider.Usage{InputTokens: 5, OutputTokens: 5},
		},
		textResponse("msg-2", 6, 6),
	}}
	svc, store := newTestService(t, p)

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "go"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v (unknown tool must not be fatal)", err)
	}

	msgs, err := store.Messages("s1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Role == provider.RoleTool && m.Content[0].IsError {
			found = true
			if !strings.Contains(m.Content[0].Content, "unknown tool") {
				t.Fatalf("failure content = %q", m.Content[0].Content)
			}
		}
	}
	if !found {
		t.Fatalf("no error tool result recorded for unknown tool")
	}
}

func TestStreamingLoopEmitsChunks(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		toolUseResponse("msg-1", 10, 20),
		textResponse("msg-2", 15, 25),
	}}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	reg := tools.NewRegistry()
	reg.Register(&recordingTool{name: "test_tool"})

	var chunks []string
	svc := NewService(p, store,
		WithTools(reg),
		WithAutoApprove(true),
		WithStreaming(true),
		WithProgress(func(_ string, ev ProgressEvent) {
			if ev.Kind == ProgressStreamingChunk {
				chunks = append(chunks, ev.Text)
			}
		}),
	)

	resp, err := svc.SendMessageWithTools(context.Background(), "s1", "stream it")
	if err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}
	if resp.Usage.InputTokens != 25 || resp.Usage.OutputTokens != 45 {
		t.Fatalf("streamed usage = %+v, want 25/45", resp.Usage)
	}
	if !strings.Contains(strings.Join(chunks, ""), "final answer") {
		t.Fatalf("chunks = %v, want final answer text streamed", chunks)
	}
}

func TestSudoRoutedToolReceivesCredential(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{
			ID:    "msg-1",
			Model: "test-model",
			Content: []provider.ContentBlock{
				provider.ToolUseBlock("toolu_s", "sudo_tool", json.RawMessage(`{"command":"sudo ls"}`)),
			},
			StopReason: provider.StopToolUse,
			Usage:      provider.Usage{InputTokens: 5, OutputTokens: 5},
		},
		textResponse("msg-2", 6, 6),
	}}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	tool := &sudoProbeTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	svc := NewService(p, store,
		WithTools(reg),
		WithAutoApprove(true),
		WithSudo(func(_ context.Context, command string) (SudoResult, error) {
			if command != "sudo ls" {
				t.Fatalf("sudo callback got %q", command)
			}
			return SudoResult{Password: "hunter2"}, nil
		}),
	)

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "elevate"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}
	if tool.sawPassword != "hunter2" {
		t.Fatalf("tool saw password %q, want hunter2", tool.sawPassword)
	}
}

func TestSudoCancellationDenies(t *testing.T) {
	p := &scriptedProvider{responses: []*provider.Response{
		{
			ID:    "msg-1",
			Model: "test-model",
			Content: []provider.ContentBlock{
				provider.ToolUseBlock("toolu_s", "sudo_tool", json.RawMessage(`{"command":"sudo rm -rf /tmp/x"}`)),
			},
			StopReason: provider.StopToolUse,
			Usage:      provider.Usage{InputTokens: 5, OutputTokens: 5},
		},
		textResponse("msg-2", 6, 6),
	}}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	tool := &sudoProbeTool{}
	reg := tools.NewRegistry()
	reg.Register(tool)
	svc := NewService(p, store,
		WithTools(reg),
		WithAutoApprove(true),
		WithSudo(func(context.Context, string) (SudoResult, error) {
			return SudoResult{Cancelled: true}, nil
		}),
	)

	if _, err := svc.SendMessageWithTools(context.Background(), "s1", "elevate"); err != nil {
		t.Fatalf("SendMessageWithTools() error = %v", err)
	}
	if tool.executed {
		t.Fatalf("tool executed despite sudo cancellation")
	}
}

// sudoProbeTool records the sudo password visible through its runtime
// context.
type sudoProbeTool struct {
	executed    bool
	sawPassword string
}

func (t *sudoProbeTool) Name() string           { return "sudo_tool" }
func (t *sudoProbeTool) Description() string    { return "needs sudo" }
func (t *sudoProbeTool) Capabilities() []string { return []string{"process"} }
func (t *sudoProbeTool) RequiresApproval() bool { return true }

func (t *sudoProbeTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *sudoProbeTool) SudoCommand(input json.RawMessage) (string, bool) {
	var a struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &a); err != nil {
		return "", false
	}
	if strings.HasPrefix(a.Command, "sudo") {
		return a.Command, true
	}
	return "", false
}

func (t *sudoProbeTool) Execute(ctx context.Context, _ json.RawMessage) tools.Result {
	t.executed = true
	t.sawPassword = tools.RuntimeContextFrom(ctx).SudoPassword
	return tools.Success("done")
}
