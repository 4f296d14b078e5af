package models

import "time"

// PendingOrder wraps an order waiting to be delivered to the remote order
// service, together with its retry bookkeeping.
type PendingOrder struct {
	ID            string     `json:"id"`
	Order         Order      `json:"order"`
	CreatedAt     time.Time  `json:"created_at"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// RecordFailure bumps the attempt counter and remembers the failure.
func (p *PendingOrder) RecordFailure(err error, at time.Time) {
	p.Attempts++
	p.LastError = err.Error()
	p.LastAttemptAt = &at
}

// FailedOrder is a pending order that reached the attempt ceiling. It is
// kept for manual review and never retried automatically.
type FailedOrder struct {
	PendingOrder
	FailedAt       time.Time `json:"failed_at"`
	FailureMessage string    `json:"failure_message"`
}

// Quarantine converts a pending order into its terminal failed form.
func (p PendingOrder) Quarantine(at time.Time) FailedOrder {
	msg := p.LastError
	if msg == "" {
		msg = "retry limit exceeded"
	}
	return FailedOrder{
		PendingOrder:   p,
		FailedAt:       at,
		FailureMessage: msg,
	}
}
