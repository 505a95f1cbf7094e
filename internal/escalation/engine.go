/**
 * @description
 * The escalation engine: a pure, stateless evaluator that turns
 * (account, first-failure timestamp, now) into an immutable escalation
 * result. It performs no I/O and reads no ambient clock, so re-evaluating
 * the same inputs always yields the same result and concurrent use needs
 * no locking.
 */
package escalation

import (
	"fmt"
	"time"

	"github.com/transfa/dunning-service/internal/domain"
)

// A stage with a zero grace period still re-checks after one day, so the
// scheduler never enters a tight re-evaluation loop.
const minReEvaluationDays = 1

// Engine evaluates escalations against a validated stage table.
type Engine struct {
	table StageTable
}

// NewEngine creates an engine over the given stage table.
func NewEngine(table StageTable) Engine {
	return Engine{table: table}
}

// Table returns the engine's stage table.
func (e Engine) Table() StageTable {
	return e.table
}

// Evaluate is the sole entry point of the engine. It resolves the stage
// for the elapsed time since the trigger, derives the directive list and
// recovery offers, and projects the account's billing status. Invalid
// input returns an *InvalidInputError and no partial result.
func (e Engine) Evaluate(input domain.EscalationInput) (domain.EscalationResult, error) {
	if input.AccountID == "" {
		return domain.EscalationResult{}, &InvalidInputError{Field: "accountId"}
	}
	if input.TriggerAt.IsZero() {
		return domain.EscalationResult{}, &InvalidInputError{Field: "triggerTimestamp"}
	}
	if input.Now.IsZero() {
		return domain.EscalationResult{}, &InvalidInputError{Field: "now"}
	}

	daysElapsed := elapsedDays(input.TriggerAt, input.Now)
	stage := resolve(e.table, daysElapsed)

	return domain.EscalationResult{
		AccountID:        input.AccountID,
		ResolvedStage:    stage,
		DaysElapsed:      daysElapsed,
		Actions:          dispatch(stage),
		BillingStatus:    projectBillingStatus(stage.Action),
		Recovery:         calculateRecovery(stage, daysElapsed),
		NextEvaluationAt: nextEvaluationAt(input.Now, stage),
		Failure:          input.Failure,
	}, nil
}

// projectBillingStatus maps a stage action to the account-level billing
// status. The switch is total over the action enum; an unmapped action is
// a definition bug surfaced by the exhaustiveness test, never a silent
// default.
func projectBillingStatus(action domain.Action) domain.BillingStatus {
	switch action {
	case domain.ActionNotifyReminder, domain.ActionNotifyWarning, domain.ActionNotifyFinalWarning:
		return domain.BillingStatusOverdue
	case domain.ActionRestrictService:
		return domain.BillingStatusRestricted
	case domain.ActionSuspendAccount:
		return domain.BillingStatusSuspended
	case domain.ActionDeleteAccount:
		return domain.BillingStatusDeleted
	default:
		panic(fmt.Sprintf("escalation: no billing status projection for action %q", action))
	}
}

// nextEvaluationAt schedules the re-check: now plus the stage's grace
// period, floored at one day. Restriction stages carry no grace period and
// re-check daily.
func nextEvaluationAt(now time.Time, stage domain.StageDefinition) time.Time {
	graceDays := minReEvaluationDays
	if stage.GracePeriodDays != nil && *stage.GracePeriodDays > minReEvaluationDays {
		graceDays = *stage.GracePeriodDays
	}
	return now.AddDate(0, 0, graceDays)
}
