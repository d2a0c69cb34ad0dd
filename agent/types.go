// Package agent implements the tool loop and streaming response assembly.
package agent

import (
	"context"
	"encoding/json"

	"github.com/adolfousier/opencrab/provider"
)

// ProgressKind identifies one observable moment during a run.
type ProgressKind string

const (
	ProgressThinking          ProgressKind = "thinking"
	ProgressToolStarted       ProgressKind = "tool_started"
	ProgressToolCompleted     ProgressKind = "tool_completed"
	ProgressIntermediateText  ProgressKind = "intermediate_text"
	ProgressStreamingChunk    ProgressKind = "streaming_chunk"
	ProgressReasoningChunk    ProgressKind = "reasoning_chunk"
	ProgressCompacting        ProgressKind = "compacting"
	ProgressCompactionSummary ProgressKind = "compaction_summary"
	ProgressRestartReady      ProgressKind = "restart_ready"
	ProgressTokenCount        ProgressKind = "token_count"
)

// ProgressEvent is a fire-and-forget notification about run progress. Which
// fields are set depends on Kind. Events are never persisted.
type ProgressEvent struct {
	Kind ProgressKind

	// Tool events.
	Tool    string
	Input   json.RawMessage
	Success bool
	Summary string

	// Text events. Reasoning accompanies IntermediateText when the provider
	// emitted separate thinking content.
	Text      string
	Reasoning string

	// RestartReady and CompactionSummary.
	Status string

	// TokenCount: current context size in tokens.
	Tokens int
}

// ThinkingEvent signals that a provider call is in flight.
func ThinkingEvent() ProgressEvent {
	return ProgressEvent{Kind: ProgressThinking}
}

// ToolStartedEvent signals an approved tool invocation about to execute.
func ToolStartedEvent(tool string, input json.RawMessage) ProgressEvent {
	return ProgressEvent{Kind: ProgressToolStarted, Tool: tool, Input: input}
}

// ToolCompletedEvent signals a finished tool invocation.
func ToolCompletedEvent(tool string, input json.RawMessage, success bool, summary string) ProgressEvent {
	return ProgressEvent{Kind: ProgressToolCompleted, Tool: tool, Input: input, Success: success, Summary: summary}
}

// IntermediateTextEvent carries assistant text that accompanies tool calls,
// distinct from the final reply.
func IntermediateTextEvent(text, reasoning string) ProgressEvent {
	return ProgressEvent{Kind: ProgressIntermediateText, Text: text, Reasoning: reasoning}
}

// StreamingChunkEvent carries one raw text delta from a live stream.
func StreamingChunkEvent(text string) ProgressEvent {
	return ProgressEvent{Kind: ProgressStreamingChunk, Text: text}
}

// ReasoningChunkEvent carries one raw thinking delta from a live stream.
func ReasoningChunkEvent(text string) ProgressEvent {
	return ProgressEvent{Kind: ProgressReasoningChunk, Text: text}
}

// CompactingEvent signals that history compaction has started.
func CompactingEvent() ProgressEvent {
	return ProgressEvent{Kind: ProgressCompacting}
}

// CompactionSummaryEvent carries the summary that replaced older history.
func CompactionSummaryEvent(summary string) ProgressEvent {
	return ProgressEvent{Kind: ProgressCompactionSummary, Status: summary}
}

// RestartReadyEvent signals that a rebuilt binary awaits a restart.
func RestartReadyEvent(status string) ProgressEvent {
	return ProgressEvent{Kind: ProgressRestartReady, Status: status}
}

// TokenCountEvent reports the context size of the latest provider call.
func TokenCountEvent(tokens int) ProgressEvent {
	return ProgressEvent{Kind: ProgressTokenCount, Tokens: tokens}
}

// ToolApprovalInfo describes one pending tool invocation for the approval
// callback.
type ToolApprovalInfo struct {
	SessionID    string
	Tool         string
	Description  string
	Input        json.RawMessage
	Capabilities []string
}

// SudoResult is the sudo callback's decision: a credential, or cancellation.
type SudoResult struct {
	Password  string
	Cancelled bool
}

// Callback capabilities. Each is independently optional; absence degrades
// per the approval and queue contracts rather than failing the loop.
type (
	// ProgressFunc receives progress events. It must not block.
	ProgressFunc func(sessionID string, ev ProgressEvent)

	// ApprovalFunc decides whether a tool invocation may execute. It may
	// block indefinitely on human input.
	ApprovalFunc func(ctx context.Context, info ToolApprovalInfo) (bool, error)

	// SudoFunc obtains a credential for a privileged command. It may block
	// on human input.
	SudoFunc func(ctx context.Context, command string) (SudoResult, error)

	// QueuePollFunc returns a pending injected message, consuming it.
	// It must return immediately.
	QueuePollFunc func() (string, bool)
)

// Response is the final aggregate of one send. Usage sums every provider
// call of the run; ContextTokens reflects only the last call.
type Response struct {
	MessageID     string
	Content       string
	StopReason    provider.StopReason
	Usage         provider.Usage
	ContextTokens int
	Cost          float64
	Model         string
}
