/**
 * @description
 * Scheduled job logic for the dunning-service. The evaluation job walks
 * every escalation whose re-check deadline has passed and advances it.
 */
package app

import (
	"context"
	"log/slog"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service Service
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service Service, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, logger: logger}
}

// ProcessDueEscalations evaluates every due escalation. Safe to run
// overlapping or late: evaluation is idempotent and the action ledger
// suppresses duplicate directives.
func (j *Jobs) ProcessDueEscalations() {
	j.logger.Info("starting escalation evaluation job")
	ctx := context.Background()

	run, err := j.service.EvaluateDue(ctx)
	if err != nil {
		j.logger.Error("escalation evaluation job failed", "error", err)
		return
	}

	j.logger.Info("escalation evaluation job finished", "checked", run.Checked, "advanced", run.Advanced, "errors", run.Errors)
}
