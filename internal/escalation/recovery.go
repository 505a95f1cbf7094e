package escalation

import "github.com/transfa/dunning-service/internal/domain"

// Recovery discount policy: no discount through the first week overdue,
// then a single step to a fixed percentage. Deliberately a step function,
// not a sliding scale, so the offer schedule stays auditable.
const (
	recoveryDiscountPercent   = 50
	recoveryDiscountAfterDays = 7
)

// calculateRecovery derives the remediation paths offered at a stage.
// Retry and downgrade close once the terminal stage is reached; the support
// channel is the universal escape hatch and is never gated.
func calculateRecovery(stage domain.StageDefinition, daysElapsed int) domain.RecoveryOptions {
	terminal := stage.Action == domain.ActionDeleteAccount

	retry := domain.RecoveryOption{Available: !terminal}
	if retry.Available && daysElapsed > recoveryDiscountAfterDays {
		retry.DiscountPercent = recoveryDiscountPercent
	}

	return domain.RecoveryOptions{
		PaymentRetry:   retry,
		ContactSupport: domain.RecoveryOption{Available: true},
		DowngradePlan:  domain.RecoveryOption{Available: !terminal},
	}
}
