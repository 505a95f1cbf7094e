/**
 * @description
 * This file implements the data access layer for the dunning-service.
 * It contains all the SQL queries and logic for interacting with the
 * escalations table and the per-stage action execution ledger.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/dunning-service/internal/domain"
)

// ErrEscalationNotFound is returned when an account has no active escalation.
var ErrEscalationNotFound = errors.New("escalation not found")

// Repository handles database operations for escalations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetEscalationByAccountID retrieves the active escalation for an account.
func (r *Repository) GetEscalationByAccountID(ctx context.Context, accountID string) (*domain.EscalationState, error) {
	var state domain.EscalationState
	query := `
        SELECT account_id, trigger_at, amount, currency, attempt_number, failure_reason,
               billing_status, stage_threshold, next_evaluation_at, updated_at
        FROM escalations
        WHERE account_id = $1
    `
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&state.AccountID,
		&state.TriggerAt,
		&state.Failure.Amount,
		&state.Failure.Currency,
		&state.Failure.AttemptNumber,
		&state.Failure.Reason,
		&state.BillingStatus,
		&state.StageThreshold,
		&state.NextEvaluationAt,
		&state.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEscalationNotFound
		}
		return nil, err
	}
	return &state, nil
}

// RecordFailure inserts an escalation row for the account's first payment
// failure, or refreshes the failure metadata on repeat failures. The
// trigger timestamp is only ever written on insert: repeat failures never
// move it, which keeps re-evaluation idempotent.
func (r *Repository) RecordFailure(ctx context.Context, state *domain.EscalationState) error {
	query := `
        INSERT INTO escalations (account_id, trigger_at, amount, currency, attempt_number,
                                 failure_reason, billing_status, stage_threshold, next_evaluation_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (account_id) DO UPDATE SET
            amount = EXCLUDED.amount,
            currency = EXCLUDED.currency,
            attempt_number = EXCLUDED.attempt_number,
            failure_reason = EXCLUDED.failure_reason,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		state.AccountID,
		state.TriggerAt,
		state.Failure.Amount,
		state.Failure.Currency,
		state.Failure.AttemptNumber,
		state.Failure.Reason,
		state.BillingStatus,
		state.StageThreshold,
		state.NextEvaluationAt,
	)
	return err
}

// UpdateEvaluation persists the projection of an evaluation: the resolved
// stage threshold, the billing status and the re-check deadline.
func (r *Repository) UpdateEvaluation(ctx context.Context, accountID string, status domain.BillingStatus, stageThreshold int, nextEvaluationAt time.Time) error {
	query := `
        UPDATE escalations
        SET billing_status = $2, stage_threshold = $3, next_evaluation_at = $4, updated_at = NOW()
        WHERE account_id = $1
    `
	tag, err := r.db.Exec(ctx, query, accountID, status, stageThreshold, nextEvaluationAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEscalationNotFound
	}
	return nil
}

// ListDueEscalations returns escalations whose re-check deadline has
// passed, oldest first. Deleted accounts are terminal and never re-listed.
func (r *Repository) ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]domain.EscalationState, error) {
	query := `
        SELECT account_id, trigger_at, amount, currency, attempt_number, failure_reason,
               billing_status, stage_threshold, next_evaluation_at, updated_at
        FROM escalations
        WHERE next_evaluation_at <= $1 AND billing_status <> 'deleted'
        ORDER BY next_evaluation_at ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.EscalationState
	for rows.Next() {
		var state domain.EscalationState
		if err := rows.Scan(
			&state.AccountID,
			&state.TriggerAt,
			&state.Failure.Amount,
			&state.Failure.Currency,
			&state.Failure.AttemptNumber,
			&state.Failure.Reason,
			&state.BillingStatus,
			&state.StageThreshold,
			&state.NextEvaluationAt,
			&state.UpdatedAt,
		); err != nil {
			return nil, err
		}
		due = append(due, state)
	}
	return due, rows.Err()
}

// ClearEscalation removes an account's escalation and its action ledger
// after a successful payment. Clearing an account with no escalation is a
// no-op, so payment-recovered events can be replayed safely.
func (r *Repository) ClearEscalation(ctx context.Context, accountID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM escalation_actions WHERE account_id = $1`, accountID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM escalations WHERE account_id = $1`, accountID)
	return err
}

// HasActionExecution reports whether a directive kind was already published
// for the given account and stage.
func (r *Repository) HasActionExecution(ctx context.Context, accountID string, stageThreshold int, kind domain.DirectiveKind) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS (
            SELECT 1 FROM escalation_actions
            WHERE account_id = $1 AND stage_threshold = $2 AND action_kind = $3
        )
    `
	if err := r.db.QueryRow(ctx, query, accountID, stageThreshold, kind).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// RecordActionExecution marks a directive kind as published for the given
// account and stage. The insert is idempotent.
func (r *Repository) RecordActionExecution(ctx context.Context, accountID string, stageThreshold int, kind domain.DirectiveKind) error {
	query := `
        INSERT INTO escalation_actions (account_id, stage_threshold, action_kind)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id, stage_threshold, action_kind) DO NOTHING
    `
	_, err := r.db.Exec(ctx, query, accountID, stageThreshold, kind)
	return err
}
