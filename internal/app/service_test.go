package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/escalation"
	"github.com/transfa/dunning-service/internal/store"
)

var fixedNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

type updateCall struct {
	accountID string
	status    domain.BillingStatus
	threshold int
	next      time.Time
}

type serviceRepoStub struct {
	states   map[string]*domain.EscalationState
	getErr   map[string]error
	executed map[string]bool
	recorded []string
	updates  []updateCall
	cleared  []string
}

func newServiceRepoStub() *serviceRepoStub {
	return &serviceRepoStub{
		states:   make(map[string]*domain.EscalationState),
		getErr:   make(map[string]error),
		executed: make(map[string]bool),
	}
}

func ledgerKey(accountID string, threshold int, kind domain.DirectiveKind) string {
	return fmt.Sprintf("%s|%d|%s", accountID, threshold, kind)
}

func (s *serviceRepoStub) GetEscalationByAccountID(ctx context.Context, accountID string) (*domain.EscalationState, error) {
	if err, ok := s.getErr[accountID]; ok {
		return nil, err
	}
	state, ok := s.states[accountID]
	if !ok {
		return nil, store.ErrEscalationNotFound
	}
	return state, nil
}

func (s *serviceRepoStub) RecordFailure(ctx context.Context, state *domain.EscalationState) error {
	if existing, ok := s.states[state.AccountID]; ok {
		// Repeat failure: metadata refreshes, the trigger never moves.
		existing.Failure = state.Failure
		return nil
	}
	copied := *state
	s.states[state.AccountID] = &copied
	return nil
}

func (s *serviceRepoStub) UpdateEvaluation(ctx context.Context, accountID string, status domain.BillingStatus, stageThreshold int, nextEvaluationAt time.Time) error {
	state, ok := s.states[accountID]
	if !ok {
		return store.ErrEscalationNotFound
	}
	state.BillingStatus = status
	state.StageThreshold = stageThreshold
	state.NextEvaluationAt = nextEvaluationAt
	s.updates = append(s.updates, updateCall{accountID: accountID, status: status, threshold: stageThreshold, next: nextEvaluationAt})
	return nil
}

func (s *serviceRepoStub) ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]domain.EscalationState, error) {
	var due []domain.EscalationState
	for _, state := range s.states {
		if !state.NextEvaluationAt.After(now) {
			due = append(due, *state)
		}
	}
	return due, nil
}

func (s *serviceRepoStub) ClearEscalation(ctx context.Context, accountID string) error {
	delete(s.states, accountID)
	s.cleared = append(s.cleared, accountID)
	return nil
}

func (s *serviceRepoStub) HasActionExecution(ctx context.Context, accountID string, stageThreshold int, kind domain.DirectiveKind) (bool, error) {
	return s.executed[ledgerKey(accountID, stageThreshold, kind)], nil
}

func (s *serviceRepoStub) RecordActionExecution(ctx context.Context, accountID string, stageThreshold int, kind domain.DirectiveKind) error {
	key := ledgerKey(accountID, stageThreshold, kind)
	s.executed[key] = true
	s.recorded = append(s.recorded, key)
	return nil
}

type publishedEvent struct {
	routingKey string
	payload    interface{}
}

type producerStub struct {
	published []publishedEvent
	failOn    string
}

func (p *producerStub) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	if p.failOn != "" && routingKey == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func newTestService(repo *serviceRepoStub, producer *producerStub) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, escalation.NewEngine(escalation.DefaultStageTable()), producer, nil, logger)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func overdueState(accountID string, daysOverdue int) *domain.EscalationState {
	return &domain.EscalationState{
		AccountID:        accountID,
		TriggerAt:        fixedNow.AddDate(0, 0, -daysOverdue),
		Failure:          domain.FailureMetadata{Amount: 4900, Currency: "USD", AttemptNumber: 1, Reason: "card_declined"},
		BillingStatus:    domain.BillingStatusOverdue,
		NextEvaluationAt: fixedNow,
	}
}

func TestHandlePaymentFailure_StartsEscalation(t *testing.T) {
	repo := newServiceRepoStub()
	producer := &producerStub{}
	svc := newTestService(repo, producer)

	event := domain.PaymentEvent{
		AccountID:     "acct_1",
		Amount:        4900,
		Currency:      "USD",
		AttemptNumber: 1,
		Reason:        "card_declined",
		OccurredAt:    fixedNow,
	}
	if err := svc.HandlePaymentFailure(context.Background(), event); err != nil {
		t.Fatalf("HandlePaymentFailure returned error: %v", err)
	}

	state, ok := repo.states["acct_1"]
	if !ok {
		t.Fatal("expected escalation state to be recorded")
	}
	if !state.TriggerAt.Equal(fixedNow) {
		t.Fatalf("expected trigger at %v, got %v", fixedNow, state.TriggerAt)
	}
	if state.BillingStatus != domain.BillingStatusOverdue || state.StageThreshold != 0 {
		t.Fatalf("unexpected projection: %+v", state)
	}
	if want := fixedNow.AddDate(0, 0, 4); !state.NextEvaluationAt.Equal(want) {
		t.Fatalf("expected next evaluation %v, got %v", want, state.NextEvaluationAt)
	}

	if len(producer.published) != 1 || producer.published[0].routingKey != "dunning.notify" {
		t.Fatalf("expected one reminder publication, got %+v", producer.published)
	}
	directive, ok := producer.published[0].payload.(domain.DirectiveEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", producer.published[0].payload)
	}
	if directive.Directive.EmailTemplate != "payment_reminder" {
		t.Fatalf("expected payment_reminder template, got %q", directive.Directive.EmailTemplate)
	}
}

func TestHandlePaymentFailure_RepeatFailureKeepsTriggerAndEscalates(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 10)
	producer := &producerStub{}
	svc := newTestService(repo, producer)

	event := domain.PaymentEvent{AccountID: "acct_1", Amount: 4900, Currency: "USD", AttemptNumber: 3, Reason: "card_declined", OccurredAt: fixedNow}
	if err := svc.HandlePaymentFailure(context.Background(), event); err != nil {
		t.Fatalf("HandlePaymentFailure returned error: %v", err)
	}

	state := repo.states["acct_1"]
	if !state.TriggerAt.Equal(fixedNow.AddDate(0, 0, -10)) {
		t.Fatalf("repeat failure moved the trigger: %v", state.TriggerAt)
	}
	if state.Failure.AttemptNumber != 3 {
		t.Fatalf("expected refreshed attempt number, got %d", state.Failure.AttemptNumber)
	}
	if state.BillingStatus != domain.BillingStatusRestricted || state.StageThreshold != 7 {
		t.Fatalf("expected restriction stage projection, got %+v", state)
	}

	// Restriction must be published before its notification.
	if len(producer.published) != 2 {
		t.Fatalf("expected 2 publications, got %d", len(producer.published))
	}
	if producer.published[0].routingKey != "dunning.restrict" || producer.published[1].routingKey != "dunning.notify" {
		t.Fatalf("unexpected publication order: %+v", producer.published)
	}
}

func TestEvaluate_SkipsAlreadyPublishedDirectives(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 10)
	repo.executed[ledgerKey("acct_1", 7, domain.DirectiveRestrictService)] = true
	repo.executed[ledgerKey("acct_1", 7, domain.DirectiveNotifyEmail)] = true
	producer := &producerStub{}
	svc := newTestService(repo, producer)

	result, err := svc.Evaluate(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if result.ResolvedStage.MinDaysElapsed != 7 {
		t.Fatalf("expected threshold 7, got %d", result.ResolvedStage.MinDaysElapsed)
	}
	if len(producer.published) != 0 {
		t.Fatalf("expected no re-publication, got %+v", producer.published)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected the projection to still be persisted, got %d updates", len(repo.updates))
	}
}

func TestEvaluate_StopsPublishingOnBrokerFailure(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 10)
	producer := &producerStub{failOn: "dunning.restrict"}
	svc := newTestService(repo, producer)

	if _, err := svc.Evaluate(context.Background(), "acct_1"); err == nil {
		t.Fatal("expected publish error")
	}
	if len(producer.published) != 0 {
		t.Fatalf("notification must not be published before the restriction, got %+v", producer.published)
	}
	if len(repo.recorded) != 0 {
		t.Fatalf("failed publication must not be recorded in the ledger, got %v", repo.recorded)
	}
	if len(repo.updates) != 0 {
		t.Fatalf("projection must not be persisted when publication fails, got %+v", repo.updates)
	}
}

func TestEvaluate_BrokerFailureKeepsAccountDue(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 20)
	producer := &producerStub{failOn: "dunning.suspend"}
	svc := newTestService(repo, producer)

	if _, err := svc.Evaluate(context.Background(), "acct_1"); err == nil {
		t.Fatal("expected publish error")
	}

	// The suspend stage carries a 30-day grace period. Advancing the
	// re-check deadline despite the failed publication would leave the
	// suspend directive stranded until that deadline passes.
	state := repo.states["acct_1"]
	if !state.NextEvaluationAt.Equal(fixedNow) {
		t.Fatalf("re-check deadline moved to %v despite failed publication", state.NextEvaluationAt)
	}
	due, err := repo.ListDueEscalations(context.Background(), fixedNow, 500)
	if err != nil {
		t.Fatalf("ListDueEscalations returned error: %v", err)
	}
	if len(due) != 1 || due[0].AccountID != "acct_1" {
		t.Fatalf("account must stay due for retry, got %+v", due)
	}

	// The retry succeeds once the broker is back.
	producer.failOn = ""
	if _, err := svc.Evaluate(context.Background(), "acct_1"); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if len(producer.published) != 2 || producer.published[0].routingKey != "dunning.suspend" {
		t.Fatalf("expected suspend then notify on retry, got %+v", producer.published)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected the projection to be persisted on retry, got %+v", repo.updates)
	}
}

func TestEvaluate_UnknownAccount(t *testing.T) {
	svc := newTestService(newServiceRepoStub(), &producerStub{})

	_, err := svc.Evaluate(context.Background(), "acct_missing")
	if !errors.Is(err, store.ErrEscalationNotFound) {
		t.Fatalf("expected ErrEscalationNotFound, got %v", err)
	}
}

func TestHandlePaymentRecovered_ClearsEscalation(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 10)
	producer := &producerStub{}
	svc := newTestService(repo, producer)

	event := domain.PaymentEvent{AccountID: "acct_1", OccurredAt: fixedNow}
	if err := svc.HandlePaymentRecovered(context.Background(), event); err != nil {
		t.Fatalf("HandlePaymentRecovered returned error: %v", err)
	}

	if len(repo.cleared) != 1 || repo.cleared[0] != "acct_1" {
		t.Fatalf("expected escalation to be cleared, got %v", repo.cleared)
	}
	if len(producer.published) != 1 || producer.published[0].routingKey != "dunning.status" {
		t.Fatalf("expected a cleared status event, got %+v", producer.published)
	}
	status, ok := producer.published[0].payload.(domain.StatusEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", producer.published[0].payload)
	}
	if !status.Cleared || status.BillingStatus != domain.BillingStatusCurrent {
		t.Fatalf("unexpected status event: %+v", status)
	}
}

func TestGetStatus_NoEscalationMeansCurrent(t *testing.T) {
	svc := newTestService(newServiceRepoStub(), &producerStub{})

	status, err := svc.GetStatus(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if status.Active || status.BillingStatus != domain.BillingStatusCurrent {
		t.Fatalf("expected inactive current status, got %+v", status)
	}
	if !status.Recovery.ContactSupport.Available {
		t.Fatal("support must be available even without an escalation")
	}
}

func TestGetStatus_ActiveEscalationIsReadOnly(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 10)
	producer := &producerStub{}
	svc := newTestService(repo, producer)

	status, err := svc.GetStatus(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if !status.Active || status.BillingStatus != domain.BillingStatusRestricted {
		t.Fatalf("expected active restricted status, got %+v", status)
	}
	if status.Recovery.PaymentRetry.DiscountPercent != 50 {
		t.Fatalf("expected 50%% discount, got %d", status.Recovery.PaymentRetry.DiscountPercent)
	}
	if len(repo.updates) != 0 || len(producer.published) != 0 {
		t.Fatal("GetStatus must not persist or publish")
	}
}

type lockerStub struct {
	held     bool
	acquired []string
	released []string
}

func (l *lockerStub) Acquire(ctx context.Context, accountID string) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	l.acquired = append(l.acquired, accountID)
	return "token-1", true, nil
}

func (l *lockerStub) Release(ctx context.Context, accountID, token string) error {
	l.released = append(l.released, accountID)
	return nil
}

func TestEvaluate_HeldLockRejectsConcurrentEvaluation(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 10)
	locker := &lockerStub{held: true}
	svc := newTestService(repo, &producerStub{})
	svc.locker = locker

	_, err := svc.Evaluate(context.Background(), "acct_1")
	if !errors.Is(err, ErrEvaluationInProgress) {
		t.Fatalf("expected ErrEvaluationInProgress, got %v", err)
	}
	if len(repo.updates) != 0 {
		t.Fatal("a rejected evaluation must not persist anything")
	}
}

func TestEvaluate_ReleasesLockAfterRun(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_1"] = overdueState("acct_1", 2)
	locker := &lockerStub{}
	svc := newTestService(repo, &producerStub{})
	svc.locker = locker

	if _, err := svc.Evaluate(context.Background(), "acct_1"); err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(locker.acquired) != 1 || len(locker.released) != 1 {
		t.Fatalf("expected one acquire and one release, got %+v", locker)
	}
}

func TestEvaluateDue_CountsErrors(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_ok"] = overdueState("acct_ok", 5)
	repo.states["acct_bad"] = overdueState("acct_bad", 5)
	repo.getErr["acct_bad"] = errors.New("connection reset")
	producer := &producerStub{}
	svc := newTestService(repo, producer)

	run, err := svc.EvaluateDue(context.Background())
	if err != nil {
		t.Fatalf("EvaluateDue returned error: %v", err)
	}
	if run.Checked != 2 {
		t.Fatalf("expected 2 checked, got %d", run.Checked)
	}
	if run.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", run.Errors)
	}
	if len(repo.updates) != 1 || repo.updates[0].accountID != "acct_ok" {
		t.Fatalf("expected only the healthy account to be updated, got %+v", repo.updates)
	}
}

func TestEvaluateDue_CountsAdvancedStages(t *testing.T) {
	repo := newServiceRepoStub()
	repo.states["acct_moved"] = overdueState("acct_moved", 5)

	held := overdueState("acct_held", 5)
	held.StageThreshold = 4
	repo.states["acct_held"] = held

	svc := newTestService(repo, &producerStub{})

	run, err := svc.EvaluateDue(context.Background())
	if err != nil {
		t.Fatalf("EvaluateDue returned error: %v", err)
	}
	if run.Checked != 2 {
		t.Fatalf("expected 2 checked, got %d", run.Checked)
	}
	// Only the account whose persisted threshold was behind day 5's stage
	// counts as advanced.
	if run.Advanced != 1 {
		t.Fatalf("expected 1 advanced, got %d", run.Advanced)
	}
}
