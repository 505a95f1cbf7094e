package escalation

import (
	"fmt"

	"github.com/transfa/dunning-service/internal/domain"
)

// Data-retention windows carried on irreversible directives so the
// executor never has to infer them.
const (
	suspendRetentionDays = 30
	deleteRetentionDays  = 0
)

// Email template keys understood by the notification service.
const (
	templatePaymentReminder   = "payment_reminder"
	templatePaymentWarning    = "payment_warning"
	templateServiceRestricted = "service_restricted"
	templateFinalWarning      = "final_warning"
	templateAccountSuspended  = "account_suspended"
	templateAccountDeleted    = "account_deleted"
)

// dispatch maps a resolved stage to its ordered directive list. The
// restriction, suspension or deletion directive always precedes the
// corresponding notification: a notification must never fire for a state
// change that was not applied.
func dispatch(stage domain.StageDefinition) []domain.ActionDirective {
	switch stage.Action {
	case domain.ActionNotifyReminder:
		return []domain.ActionDirective{
			{Kind: domain.DirectiveNotifyEmail, EmailTemplate: templatePaymentReminder},
		}
	case domain.ActionNotifyWarning:
		return []domain.ActionDirective{
			{Kind: domain.DirectiveNotifyEmail, EmailTemplate: templatePaymentWarning},
		}
	case domain.ActionRestrictService:
		return []domain.ActionDirective{
			{Kind: domain.DirectiveRestrictService, Restrictions: stage.Restrictions},
			{Kind: domain.DirectiveNotifyEmail, EmailTemplate: templateServiceRestricted},
		}
	case domain.ActionNotifyFinalWarning:
		return []domain.ActionDirective{
			{Kind: domain.DirectiveNotifyEmail, EmailTemplate: templateFinalWarning},
		}
	case domain.ActionSuspendAccount:
		return []domain.ActionDirective{
			{Kind: domain.DirectiveSuspendAccount, DataRetentionDays: days(suspendRetentionDays)},
			{Kind: domain.DirectiveNotifyEmail, EmailTemplate: templateAccountSuspended},
		}
	case domain.ActionDeleteAccount:
		return []domain.ActionDirective{
			{Kind: domain.DirectiveDeleteAccount, DataRetentionDays: days(deleteRetentionDays)},
			{Kind: domain.DirectiveNotifyEmail, EmailTemplate: templateAccountDeleted},
		}
	default:
		// Unreachable for a validated table; a new action added without a
		// mapping here must fail loudly, not default.
		panic(fmt.Sprintf("escalation: no directive mapping for action %q", stage.Action))
	}
}
