package escalation

import (
	"time"

	"github.com/transfa/dunning-service/internal/domain"
)

// elapsedDays computes whole days between the trigger timestamp and now.
// A future trigger (clock skew) clamps to zero rather than failing.
func elapsedDays(triggerAt, now time.Time) int {
	d := int(now.Sub(triggerAt) / (24 * time.Hour))
	if d < 0 {
		return 0
	}
	return d
}

// resolve selects the single applicable stage: the last one whose threshold
// does not exceed the elapsed days. Elapsed days beyond the final threshold
// stay pinned at the terminal stage; the ladder never wraps or resets.
func resolve(table StageTable, daysElapsed int) domain.StageDefinition {
	if daysElapsed < 0 {
		daysElapsed = 0
	}
	stage := table.stages[0]
	for _, s := range table.stages[1:] {
		if s.MinDaysElapsed > daysElapsed {
			break
		}
		stage = s
	}
	return stage
}
