/**
 * @description
 * This file defines the core domain models for the dunning-service.
 * It contains the escalation stage table row, the enums describing actions,
 * urgency and restrictions, and the value objects exchanged with the
 * escalation engine (input, directives, recovery options, result).
 */
package domain

import "time"

// Action identifies what a stage of the escalation ladder does when reached.
type Action string

const (
	ActionNotifyReminder     Action = "notify_reminder"
	ActionNotifyWarning      Action = "notify_warning"
	ActionRestrictService    Action = "restrict_service"
	ActionNotifyFinalWarning Action = "notify_final_warning"
	ActionSuspendAccount     Action = "suspend_account"
	ActionDeleteAccount      Action = "delete_account"
)

// Actions returns every defined stage action, in escalation order.
func Actions() []Action {
	return []Action{
		ActionNotifyReminder,
		ActionNotifyWarning,
		ActionRestrictService,
		ActionNotifyFinalWarning,
		ActionSuspendAccount,
		ActionDeleteAccount,
	}
}

// Urgency grades how pressing a stage is. Stages must never de-escalate
// urgency as the ladder progresses.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
	UrgencyFinal    Urgency = "final"
)

// RestrictionFlag names a single account capability that a restriction
// stage switches off. The flags map to features of the main application.
type RestrictionFlag string

const (
	RestrictionDisableLeadCreation   RestrictionFlag = "disable_lead_creation"
	RestrictionDisableInvoiceSending RestrictionFlag = "disable_invoice_sending"
	RestrictionReadOnlyDashboards    RestrictionFlag = "read_only_dashboards"
	RestrictionDisableDataExport     RestrictionFlag = "disable_data_export"
)

// BillingStatus is the account-level status projected from the resolved stage.
type BillingStatus string

const (
	BillingStatusCurrent    BillingStatus = "current"
	BillingStatusOverdue    BillingStatus = "overdue"
	BillingStatusRestricted BillingStatus = "restricted"
	BillingStatusSuspended  BillingStatus = "suspended"
	BillingStatusDeleted    BillingStatus = "deleted"
)

// StageDefinition is one row of the immutable escalation stage table.
// A stage carries either a grace period (days until the next re-check) or,
// for restriction stages, the set of capabilities to switch off.
type StageDefinition struct {
	MinDaysElapsed  int               `json:"min_days_elapsed"`
	Action          Action            `json:"action"`
	Urgency         Urgency           `json:"urgency"`
	GracePeriodDays *int              `json:"grace_period_days,omitempty"`
	Restrictions    []RestrictionFlag `json:"restrictions,omitempty"`
}

// FailureMetadata is the payment-failure context carried alongside an
// escalation. The engine passes it through untouched.
type FailureMetadata struct {
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	AttemptNumber int    `json:"attempt_number"`
	Reason        string `json:"reason,omitempty"`
}

// EscalationInput is the per-evaluation value object handed to the engine.
// Now is injected by the caller so the engine never reads the clock itself.
type EscalationInput struct {
	AccountID string
	TriggerAt time.Time
	Now       time.Time
	Failure   FailureMetadata
}

// DirectiveKind identifies the concrete side effect a directive describes.
type DirectiveKind string

const (
	DirectiveNotifyEmail     DirectiveKind = "notify_email"
	DirectiveRestrictService DirectiveKind = "restrict_service"
	DirectiveSuspendAccount  DirectiveKind = "suspend_account"
	DirectiveDeleteAccount   DirectiveKind = "delete_account"
)

// ActionDirective describes one side effect for an external executor.
// Directives perform no I/O themselves; order within a stage is part of the
// contract (a restriction precedes its notification).
type ActionDirective struct {
	Kind              DirectiveKind     `json:"kind"`
	EmailTemplate     string            `json:"email_template,omitempty"`
	Restrictions      []RestrictionFlag `json:"restrictions,omitempty"`
	DataRetentionDays *int              `json:"data_retention_days,omitempty"`
}

// RecoveryOption is a single remediation path offered to the account.
type RecoveryOption struct {
	Available       bool `json:"available"`
	DiscountPercent int  `json:"discount_percent,omitempty"`
}

// RecoveryOptions groups the remediation paths for a resolved stage.
type RecoveryOptions struct {
	PaymentRetry   RecoveryOption `json:"payment_retry"`
	ContactSupport RecoveryOption `json:"contact_support"`
	DowngradePlan  RecoveryOption `json:"downgrade_plan"`
}

// EscalationResult is the engine's output, immutable once built. The caller
// persists it and executes the directives; the engine keeps no state.
type EscalationResult struct {
	AccountID        string            `json:"account_id"`
	ResolvedStage    StageDefinition   `json:"resolved_stage"`
	DaysElapsed      int               `json:"days_elapsed"`
	Actions          []ActionDirective `json:"actions"`
	BillingStatus    BillingStatus     `json:"billing_status"`
	Recovery         RecoveryOptions   `json:"recovery"`
	NextEvaluationAt time.Time         `json:"next_evaluation_at"`
	Failure          FailureMetadata   `json:"failure"`
}

// EscalationState is the persisted escalation row for an account. The
// trigger timestamp is set by the first payment failure and never moves
// until the escalation is cleared by a successful payment.
type EscalationState struct {
	AccountID        string          `json:"account_id"`
	TriggerAt        time.Time       `json:"trigger_at"`
	Failure          FailureMetadata `json:"failure"`
	BillingStatus    BillingStatus   `json:"billing_status"`
	StageThreshold   int             `json:"stage_threshold"`
	NextEvaluationAt time.Time       `json:"next_evaluation_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// EscalationStatus is a DTO for API responses when a client asks for an
// account's dunning state.
type EscalationStatus struct {
	Active           bool            `json:"active"`
	BillingStatus    BillingStatus   `json:"billing_status"`
	DaysElapsed      int             `json:"days_elapsed,omitempty"`
	StageAction      Action          `json:"stage_action,omitempty"`
	Urgency          Urgency         `json:"urgency,omitempty"`
	Recovery         RecoveryOptions `json:"recovery"`
	NextEvaluationAt *time.Time      `json:"next_evaluation_at,omitempty"`
}
