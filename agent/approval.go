package agent

import (
	"context"
	"encoding/json"

	"github.com/adolfousier/opencrab/logger"
	"github.com/adolfousier/opencrab/tools"
)

// approvalOutcome is the approval gate's decision for one tool invocation.
// Denial and cancellation both mean "not executed"; reason tells them apart
// in the recorded tool result.
type approvalOutcome struct {
	approved     bool
	reason       string
	sudoPassword string
}

func approved() approvalOutcome { return approvalOutcome{approved: true} }

func denied(reason string) approvalOutcome { return approvalOutcome{reason: reason} }

// approveToolUse decides whether one tool invocation may execute. Policy
// order: privileged invocations always need a credential from the sudo
// callback; otherwise auto-approve allows everything, tools that declare no
// approval requirement pass, and the rest go to the approval callback. A
// missing callback denies (fail closed).
func (s *Service) approveToolUse(ctx context.Context, sessionID string, tool tools.Tool, input json.RawMessage) approvalOutcome {
	if sudoer, ok := tool.(tools.SudoAware); ok {
		if command, isSudo := sudoer.SudoCommand(input); isSudo {
			return s.approveSudo(ctx, command)
		}
	}

	if s.autoApprove {
		return approved()
	}
	if !tool.RequiresApproval() {
		return approved()
	}

	if s.approvalFn == nil {
		logger.Warn("tool requires approval but no approval callback is configured", "tool", tool.Name())
		return denied("no approval callback configured")
	}

	ok, err := s.approvalFn(ctx, ToolApprovalInfo{
		SessionID:    sessionID,
		Tool:         tool.Name(),
		Description:  tool.Description(),
		Input:        input,
		Capabilities: tool.Capabilities(),
	})
	if err != nil {
		logger.Error("approval callback failed", "tool", tool.Name(), "err", err)
		return denied("approval callback failed: " + err.Error())
	}
	if !ok {
		return denied("denied by approval callback")
	}
	return approved()
}

// approveSudo obtains a credential for a privileged command. Cancellation
// and failure both deny.
func (s *Service) approveSudo(ctx context.Context, command string) approvalOutcome {
	if s.sudoFn == nil {
		logger.Warn("sudo command requested but no sudo callback is configured", "command", command)
		return denied("no sudo callback configured")
	}
	res, err := s.sudoFn(ctx, command)
	if err != nil {
		logger.Error("sudo callback failed", "err", err)
		return denied("sudo confirmation failed: " + err.Error())
	}
	if res.Cancelled {
		return denied("sudo confirmation cancelled")
	}
	out := approved()
	out.sudoPassword = res.Password
	return out
}
