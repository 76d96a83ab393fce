package tool

import (
	"context"
)

// ApprovalRequest describes a pending side-effect awaiting a decision.
type ApprovalRequest struct {
	RequestID  string
	ActionType string
	Args       map[string]interface{}
}

// ApprovalService decides whether a gated tool call may proceed. Decide
// blocks until a decision arrives or the context expires; the executor
// applies the definition's approval timeout through the context.
type ApprovalService interface {
	Decide(ctx context.Context, req ApprovalRequest) (bool, error)
}

// AutoApprover approves or denies every request unconditionally. Useful for
// unattended runs and tests.
type AutoApprover struct {
	Approve bool
}

// Decide returns the configured verdict immediately.
func (a AutoApprover) Decide(context.Context, ApprovalRequest) (bool, error) {
	return a.Approve, nil
}

// ChannelApprover resolves each request from a decisions channel, pairing
// an interactive approver (CLI prompt, web UI) with the executor.
type ChannelApprover struct {
	Decisions <-chan bool
}

// Decide blocks for the next decision or context expiry.
func (c ChannelApprover) Decide(ctx context.Context, _ ApprovalRequest) (bool, error) {
	select {
	case approved, ok := <-c.Decisions:
		if !ok {
			return false, nil
		}
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
