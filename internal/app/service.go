/**
 * @description
 * Core business logic for the dunning-service. The Service orchestrates the
 * pure escalation engine against persisted escalation state, publishes
 * action directives for the executor services, and enforces the
 * once-per-(account, stage) publication contract.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/escalation"
	"github.com/transfa/dunning-service/internal/store"
)

// Routing keys for outgoing events on the dunning topic exchange.
const (
	routingKeyNotify   = "dunning.notify"
	routingKeyRestrict = "dunning.restrict"
	routingKeySuspend  = "dunning.suspend"
	routingKeyDelete   = "dunning.delete"
	routingKeyStatus   = "dunning.status"
)

const dueBatchLimit = 500

// Repository defines the database operations the service needs.
type Repository interface {
	GetEscalationByAccountID(ctx context.Context, accountID string) (*domain.EscalationState, error)
	RecordFailure(ctx context.Context, state *domain.EscalationState) error
	UpdateEvaluation(ctx context.Context, accountID string, status domain.BillingStatus, stageThreshold int, nextEvaluationAt time.Time) error
	ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]domain.EscalationState, error)
	ClearEscalation(ctx context.Context, accountID string) error
	HasActionExecution(ctx context.Context, accountID string, stageThreshold int, kind domain.DirectiveKind) (bool, error)
	RecordActionExecution(ctx context.Context, accountID string, stageThreshold int, kind domain.DirectiveKind) error
}

// EventProducer defines the interface for publishing dunning events.
type EventProducer interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// AccountLocker serializes evaluation per account across replicas.
type AccountLocker interface {
	Acquire(ctx context.Context, accountID string) (token string, acquired bool, err error)
	Release(ctx context.Context, accountID, token string) error
}

// ErrEvaluationInProgress is returned when another evaluation already holds
// the account lock.
var ErrEvaluationInProgress = errors.New("evaluation already in progress for account")

// EvaluationRunResult summarizes one pass over the due escalations.
// Advanced counts accounts whose resolved stage moved past the persisted
// threshold during the run.
type EvaluationRunResult struct {
	Checked  int `json:"checked"`
	Advanced int `json:"advanced"`
	Errors   int `json:"errors"`
}

// Service provides the business logic for dunning management.
type Service struct {
	repo     Repository
	engine   escalation.Engine
	producer EventProducer
	locker   AccountLocker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new dunning service. The locker is optional: a nil
// locker means single-instance deployment with no cross-replica guard.
func NewService(repo Repository, engine escalation.Engine, producer EventProducer, locker AccountLocker, logger *slog.Logger) Service {
	return Service{
		repo:     repo,
		engine:   engine,
		producer: producer,
		locker:   locker,
		logger:   logger,
		now:      time.Now,
	}
}

// HandlePaymentFailure records a failed subscription charge and evaluates
// the escalation immediately. The first failure starts the escalation
// clock; repeat failures only refresh the failure metadata.
func (s Service) HandlePaymentFailure(ctx context.Context, event domain.PaymentEvent) error {
	if event.AccountID == "" {
		return &escalation.InvalidInputError{Field: "accountId"}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	state := &domain.EscalationState{
		AccountID: event.AccountID,
		TriggerAt: occurredAt,
		Failure: domain.FailureMetadata{
			Amount:        event.Amount,
			Currency:      event.Currency,
			AttemptNumber: event.AttemptNumber,
			Reason:        event.Reason,
		},
		BillingStatus:    domain.BillingStatusOverdue,
		StageThreshold:   0,
		NextEvaluationAt: occurredAt,
	}
	if err := s.repo.RecordFailure(ctx, state); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	_, err := s.Evaluate(ctx, event.AccountID)
	return err
}

// HandlePaymentRecovered clears the escalation after a successful payment
// and announces the transition back to current. Replayed events for
// accounts without an escalation are a no-op.
func (s Service) HandlePaymentRecovered(ctx context.Context, event domain.PaymentEvent) error {
	if event.AccountID == "" {
		return &escalation.InvalidInputError{Field: "accountId"}
	}

	if err := s.repo.ClearEscalation(ctx, event.AccountID); err != nil {
		return fmt.Errorf("clear escalation: %w", err)
	}

	status := domain.StatusEvent{
		EventID:       uuid.NewString(),
		AccountID:     event.AccountID,
		BillingStatus: domain.BillingStatusCurrent,
		Cleared:       true,
		EmittedAt:     s.now().UTC(),
	}
	if err := s.producer.Publish(ctx, routingKeyStatus, status); err != nil {
		// The account state is already cleared; the status event is
		// informational and safe to lose.
		s.logger.Error("failed to publish cleared status", "account_id", event.AccountID, "error", err)
	}
	return nil
}

// Evaluate runs the escalation engine for one account, persists the
// projection, and publishes each directive at most once per stage.
// Duplicate invocations are safe: the engine is pure and the action ledger
// suppresses re-publication.
func (s Service) Evaluate(ctx context.Context, accountID string) (*domain.EscalationResult, error) {
	if accountID == "" {
		return nil, &escalation.InvalidInputError{Field: "accountId"}
	}

	if s.locker != nil {
		token, acquired, err := s.locker.Acquire(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrEvaluationInProgress
		}
		defer func() {
			if err := s.locker.Release(ctx, accountID, token); err != nil {
				s.logger.Error("failed to release account lock", "account_id", accountID, "error", err)
			}
		}()
	}

	state, err := s.repo.GetEscalationByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.Evaluate(domain.EscalationInput{
		AccountID: accountID,
		TriggerAt: state.TriggerAt,
		Now:       s.now().UTC(),
		Failure:   state.Failure,
	})
	if err != nil {
		return nil, err
	}

	// Directives go out before the projection is persisted: a broker
	// failure leaves next_evaluation_at unchanged, so the account stays
	// due and the next run retries from the ledger.
	if err := s.publishDirectives(ctx, result); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateEvaluation(ctx, accountID, result.BillingStatus, result.ResolvedStage.MinDaysElapsed, result.NextEvaluationAt); err != nil {
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}

	return &result, nil
}

// publishDirectives walks the directive list in order. Publication stops at
// the first failure so a later directive (the notification) never goes out
// before an earlier one (the restriction); the next evaluation run resumes
// from the ledger. Publishing precedes the ledger write, so delivery is
// at-least-once and executors deduplicate per (account, stage).
func (s Service) publishDirectives(ctx context.Context, result domain.EscalationResult) error {
	stageThreshold := result.ResolvedStage.MinDaysElapsed
	for _, directive := range result.Actions {
		done, err := s.repo.HasActionExecution(ctx, result.AccountID, stageThreshold, directive.Kind)
		if err != nil {
			return fmt.Errorf("check action ledger: %w", err)
		}
		if done {
			continue
		}

		event := domain.DirectiveEvent{
			EventID:        uuid.NewString(),
			AccountID:      result.AccountID,
			StageThreshold: stageThreshold,
			Urgency:        result.ResolvedStage.Urgency,
			Directive:      directive,
			Failure:        result.Failure,
			EmittedAt:      s.now().UTC(),
		}
		if err := s.producer.Publish(ctx, routingKeyFor(directive.Kind), event); err != nil {
			return fmt.Errorf("publish %s directive: %w", directive.Kind, err)
		}
		if err := s.repo.RecordActionExecution(ctx, result.AccountID, stageThreshold, directive.Kind); err != nil {
			return fmt.Errorf("record action execution: %w", err)
		}
	}
	return nil
}

// GetStatus returns the account's dunning state with recovery options for
// the billing UI. It evaluates the engine read-only and persists nothing.
func (s Service) GetStatus(ctx context.Context, accountID string) (*domain.EscalationStatus, error) {
	if accountID == "" {
		return nil, &escalation.InvalidInputError{Field: "accountId"}
	}

	state, err := s.repo.GetEscalationByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrEscalationNotFound) {
			// No active escalation: the account is current.
			return &domain.EscalationStatus{
				Active:        false,
				BillingStatus: domain.BillingStatusCurrent,
				Recovery: domain.RecoveryOptions{
					ContactSupport: domain.RecoveryOption{Available: true},
				},
			}, nil
		}
		return nil, err
	}

	result, err := s.engine.Evaluate(domain.EscalationInput{
		AccountID: accountID,
		TriggerAt: state.TriggerAt,
		Now:       s.now().UTC(),
		Failure:   state.Failure,
	})
	if err != nil {
		return nil, err
	}

	return &domain.EscalationStatus{
		Active:           true,
		BillingStatus:    result.BillingStatus,
		DaysElapsed:      result.DaysElapsed,
		StageAction:      result.ResolvedStage.Action,
		Urgency:          result.ResolvedStage.Urgency,
		Recovery:         result.Recovery,
		NextEvaluationAt: &result.NextEvaluationAt,
	}, nil
}

// EvaluateDue processes every escalation whose re-check deadline has
// passed. Accounts are evaluated sequentially: directive application must
// stay single-writer per account.
func (s Service) EvaluateDue(ctx context.Context) (EvaluationRunResult, error) {
	var run EvaluationRunResult

	due, err := s.repo.ListDueEscalations(ctx, s.now().UTC(), dueBatchLimit)
	if err != nil {
		return run, fmt.Errorf("list due escalations: %w", err)
	}

	for _, state := range due {
		run.Checked++
		result, err := s.Evaluate(ctx, state.AccountID)
		if err != nil {
			run.Errors++
			s.logger.Error("failed to evaluate escalation", "account_id", state.AccountID, "error", err)
			continue
		}
		if result.ResolvedStage.MinDaysElapsed > state.StageThreshold {
			run.Advanced++
		}
	}
	return run, nil
}

func routingKeyFor(kind domain.DirectiveKind) string {
	switch kind {
	case domain.DirectiveRestrictService:
		return routingKeyRestrict
	case domain.DirectiveSuspendAccount:
		return routingKeySuspend
	case domain.DirectiveDeleteAccount:
		return routingKeyDelete
	default:
		return routingKeyNotify
	}
}
