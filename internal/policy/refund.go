// Package policy computes refund eligibility for a cancellation from the
// booking's timestamps and the current time. It decides an amount only; the
// payment orchestrator decides refund-vs-release based on whether funds were
// actually captured.
package policy

import "time"

const (
	// GracePeriod after creation during which cancellation always refunds
	// in full, regardless of how close the start time is.
	GracePeriod = 10 * time.Minute
	// AdvanceCutoff before the start time; cancelling earlier than this
	// refunds in full, later refunds nothing.
	AdvanceCutoff = 60 * time.Minute
)

type Reason string

const (
	ReasonGraceRefund   Reason = "grace_refund"
	ReasonAdvanceRefund Reason = "advance_refund"
	ReasonLateNoRefund  Reason = "late_no_refund"
	// ReasonAuthorizationReleased is recorded when the payment was only
	// authorized and the authorization was canceled; no funds ever moved.
	ReasonAuthorizationReleased Reason = "authorization_released"
)

type Outcome struct {
	Amount float64
	Reason Reason
}

// Evaluate returns the refund amount owed for a cancellation at now.
func Evaluate(now, createdAt, startAt time.Time, totalAmount float64) Outcome {
	if !now.After(createdAt.Add(GracePeriod)) {
		return Outcome{Amount: totalAmount, Reason: ReasonGraceRefund}
	}
	if !now.After(startAt.Add(-AdvanceCutoff)) {
		return Outcome{Amount: totalAmount, Reason: ReasonAdvanceRefund}
	}
	return Outcome{Amount: 0, Reason: ReasonLateNoRefund}
}
