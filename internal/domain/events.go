/**
 * @description
 * This file defines the event payloads the dunning-service exchanges over
 * RabbitMQ: incoming payment lifecycle events and outgoing directive and
 * status events consumed by the executor services.
 */
package domain

import "time"

// PaymentEvent is published by the transaction service when a subscription
// charge fails or recovers.
type PaymentEvent struct {
	AccountID     string    `json:"account_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	AttemptNumber int       `json:"attempt_number"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DirectiveEvent carries one action directive to its external executor.
// Executors are expected to deduplicate per (account_id, stage_threshold).
type DirectiveEvent struct {
	EventID        string          `json:"event_id"`
	AccountID      string          `json:"account_id"`
	StageThreshold int             `json:"stage_threshold"`
	Urgency        Urgency         `json:"urgency"`
	Directive      ActionDirective `json:"directive"`
	Failure        FailureMetadata `json:"failure"`
	EmittedAt      time.Time       `json:"emitted_at"`
}

// StatusEvent announces a billing-status change for an account, including
// the transition back to current when an escalation is cleared.
type StatusEvent struct {
	EventID       string        `json:"event_id"`
	AccountID     string        `json:"account_id"`
	BillingStatus BillingStatus `json:"billing_status"`
	Cleared       bool          `json:"cleared"`
	EmittedAt     time.Time     `json:"emitted_at"`
}
