/**
 * @description
 * The escalation stage table: an ordered, immutable ladder of dunning
 * stages keyed by minimum elapsed days since the first payment failure.
 * Tables are validated once at construction and are read-only afterwards;
 * a malformed table is a startup failure, never a per-account fallback.
 */
package escalation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/transfa/dunning-service/internal/domain"
)

var urgencyRank = map[domain.Urgency]int{
	domain.UrgencyLow:      1,
	domain.UrgencyMedium:   2,
	domain.UrgencyHigh:     3,
	domain.UrgencyCritical: 4,
	domain.UrgencyFinal:    5,
}

var knownActions = func() map[domain.Action]bool {
	m := make(map[domain.Action]bool)
	for _, a := range domain.Actions() {
		m[a] = true
	}
	return m
}()

// StageTable is a validated, immutable sequence of escalation stages.
// The zero value is not usable; construct one with NewStageTable,
// LoadStageTable or DefaultStageTable.
type StageTable struct {
	stages []domain.StageDefinition
}

// NewStageTable validates the given stages and returns an immutable table.
// It fails with a *ConfigurationError when the ladder is empty, does not
// start at day zero, has non-increasing thresholds, de-escalates urgency,
// or mixes up grace periods and restriction sets.
func NewStageTable(stages []domain.StageDefinition) (StageTable, error) {
	if len(stages) == 0 {
		return StageTable{}, &ConfigurationError{Reason: "stage table must not be empty"}
	}
	if stages[0].MinDaysElapsed != 0 {
		return StageTable{}, &ConfigurationError{Reason: "first stage must start at day 0"}
	}

	prevThreshold := -1
	prevUrgency := 0
	for i, stage := range stages {
		if stage.MinDaysElapsed <= prevThreshold {
			return StageTable{}, &ConfigurationError{
				Reason: fmt.Sprintf("stage %d: thresholds must be strictly increasing (got %d after %d)", i, stage.MinDaysElapsed, prevThreshold),
			}
		}
		if !knownActions[stage.Action] {
			return StageTable{}, &ConfigurationError{
				Reason: fmt.Sprintf("stage %d: unknown action %q", i, stage.Action),
			}
		}
		rank, ok := urgencyRank[stage.Urgency]
		if !ok {
			return StageTable{}, &ConfigurationError{
				Reason: fmt.Sprintf("stage %d: unknown urgency %q", i, stage.Urgency),
			}
		}
		if rank < prevUrgency {
			return StageTable{}, &ConfigurationError{
				Reason: fmt.Sprintf("stage %d: urgency %q de-escalates", i, stage.Urgency),
			}
		}

		if stage.Action == domain.ActionRestrictService {
			if len(stage.Restrictions) == 0 {
				return StageTable{}, &ConfigurationError{
					Reason: fmt.Sprintf("stage %d: restriction stage requires a non-empty restriction set", i),
				}
			}
			if stage.GracePeriodDays != nil {
				return StageTable{}, &ConfigurationError{
					Reason: fmt.Sprintf("stage %d: restriction stage must not carry a grace period", i),
				}
			}
		} else {
			if stage.GracePeriodDays == nil || *stage.GracePeriodDays < 0 {
				return StageTable{}, &ConfigurationError{
					Reason: fmt.Sprintf("stage %d: grace period must be present and non-negative", i),
				}
			}
			if len(stage.Restrictions) != 0 {
				return StageTable{}, &ConfigurationError{
					Reason: fmt.Sprintf("stage %d: only restriction stages may carry restrictions", i),
				}
			}
		}

		prevThreshold = stage.MinDaysElapsed
		prevUrgency = rank
	}

	copied := make([]domain.StageDefinition, len(stages))
	copy(copied, stages)
	return StageTable{stages: copied}, nil
}

// LoadStageTable reads a JSON stage ladder from the given path and
// validates it. Used when STAGE_TABLE_PATH overrides the shipped default.
func LoadStageTable(path string) (StageTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StageTable{}, &ConfigurationError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	var stages []domain.StageDefinition
	if err := json.Unmarshal(raw, &stages); err != nil {
		return StageTable{}, &ConfigurationError{Reason: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return NewStageTable(stages)
}

// Stages returns a copy of the ladder, keeping the table immutable.
func (t StageTable) Stages() []domain.StageDefinition {
	copied := make([]domain.StageDefinition, len(t.stages))
	copy(copied, t.stages)
	return copied
}

// Len reports the number of stages.
func (t StageTable) Len() int {
	return len(t.stages)
}

func days(n int) *int {
	return &n
}

// DefaultStageTable returns the shipped dunning ladder. The thresholds,
// grace periods and retention windows are product defaults and can be
// overridden with a JSON table via STAGE_TABLE_PATH.
func DefaultStageTable() StageTable {
	table, err := NewStageTable([]domain.StageDefinition{
		{MinDaysElapsed: 0, Action: domain.ActionNotifyReminder, Urgency: domain.UrgencyLow, GracePeriodDays: days(4)},
		{MinDaysElapsed: 4, Action: domain.ActionNotifyWarning, Urgency: domain.UrgencyMedium, GracePeriodDays: days(3)},
		{MinDaysElapsed: 7, Action: domain.ActionRestrictService, Urgency: domain.UrgencyHigh, Restrictions: []domain.RestrictionFlag{
			domain.RestrictionDisableLeadCreation,
			domain.RestrictionDisableInvoiceSending,
			domain.RestrictionReadOnlyDashboards,
		}},
		{MinDaysElapsed: 14, Action: domain.ActionNotifyFinalWarning, Urgency: domain.UrgencyCritical, GracePeriodDays: days(1)},
		{MinDaysElapsed: 15, Action: domain.ActionSuspendAccount, Urgency: domain.UrgencyCritical, GracePeriodDays: days(30)},
		{MinDaysElapsed: 45, Action: domain.ActionDeleteAccount, Urgency: domain.UrgencyFinal, GracePeriodDays: days(0)},
	})
	if err != nil {
		// The default ladder is compiled in; failing to validate it is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return table
}
