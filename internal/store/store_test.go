package store_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/store"
)

// fakePersistence scripts backend behavior for store tests.
type fakePersistence struct {
	mu         sync.Mutex
	contracts  map[string]domain.Contract
	nextID     string
	failNext   error
	failMint   error
	mints      []domain.CreditEntry
	mintCalls  int
	statusGate chan struct{} // when set, SetContractStatus blocks until closed
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{contracts: map[string]domain.Contract{}, nextID: "c-1"}
}

func (f *fakePersistence) takeFailure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakePersistence) CreateContract(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	if err := f.takeFailure(); err != nil {
		return domain.Contract{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.nextID
	c.CreatedAt = "2026-03-10T12:00:00Z"
	c.UpdatedAt = c.CreatedAt
	f.contracts[c.ID] = c
	return c, nil
}

func (f *fakePersistence) UpdateContract(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	if err := f.takeFailure(); err != nil {
		return domain.Contract{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[c.ID] = c
	return c, nil
}

func (f *fakePersistence) SetContractStatus(ctx context.Context, id, status string) (domain.Contract, error) {
	if f.statusGate != nil {
		<-f.statusGate
	}
	if err := f.takeFailure(); err != nil {
		return domain.Contract{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.contracts[id]
	c.Status = status
	if status == domain.StatusCompleted {
		ts := "2026-03-10T12:00:00Z"
		c.CompletedAt = &ts
	}
	f.contracts[id] = c
	return c, nil
}

func (f *fakePersistence) SubmitProof(ctx context.Context, id string, payload engine.ProofPayload, ref string) (domain.Contract, error) {
	if err := f.takeFailure(); err != nil {
		return domain.Contract{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.contracts[id]
	c.Status = engine.StatusAfterProofSubmission(c.ProofRequired)
	if payload.Kind == engine.ProofText {
		note := payload.Note
		c.ProofNote = &note
	} else {
		c.ProofAttachment = &ref
	}
	f.contracts[id] = c
	return c, nil
}

func (f *fakePersistence) DeleteContract(ctx context.Context, id string) error {
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contracts, id)
	return nil
}

func (f *fakePersistence) MintCredit(ctx context.Context, performerID string, amount, streakDays int, sourceContractID string) (domain.CreditEntry, error) {
	f.mu.Lock()
	f.mintCalls++
	err := f.failMint
	f.failMint = nil
	f.mu.Unlock()
	if err != nil {
		return domain.CreditEntry{}, err
	}
	entry := domain.CreditEntry{
		ID:               "m-1",
		ActorID:          performerID,
		Amount:           amount,
		Kind:             domain.LedgerMint,
		SourceContractID: &sourceContractID,
		StreakDays:       streakDays,
	}
	f.mu.Lock()
	f.mints = append(f.mints, entry)
	f.mu.Unlock()
	return entry, nil
}

func (f *fakePersistence) FetchVisibleContracts(ctx context.Context) ([]domain.Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]domain.Contract, 0, len(f.contracts))
	for _, c := range f.contracts {
		list = append(list, c)
	}
	return list, nil
}

func seeded(t *testing.T, actorID string, c domain.Contract) (*store.ContractStore, *fakePersistence) {
	t.Helper()
	fake := newFakePersistence()
	if c.ID != "" {
		fake.contracts[c.ID] = c
	}
	s := store.New(store.Options{
		ActorID:     actorID,
		Persistence: fake,
		Policy:      config.Default().Settlement.Streak,
	})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return s, fake
}

func strPtr(v string) *string { return &v }

func TestCreateReplacesTemporaryID(t *testing.T) {
	s, _ := seeded(t, "alice", domain.Contract{})
	c, err := s.Create(context.Background(), store.CreateOptions{Title: "Mow the lawn", RewardAmount: 5})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if strings.HasPrefix(c.ID, "local-") {
		t.Fatalf("temporary id leaked: %s", c.ID)
	}
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != c.ID {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestCreateFailureRemovesLocalCopy(t *testing.T) {
	s, fake := seeded(t, "alice", domain.Contract{})
	fake.failNext = errors.New("boom")
	_, err := s.Create(context.Background(), store.CreateOptions{Title: "Mow the lawn"})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if len(s.Snapshot()) != 0 {
		t.Fatalf("optimistic copy must be discarded")
	}
}

func TestEditRollsBackOnFailure(t *testing.T) {
	base := domain.Contract{ID: "c-1", IssuerID: "alice", Title: "Original", Status: domain.StatusPending, RewardKind: domain.RewardCredit}
	s, fake := seeded(t, "alice", base)
	fake.failNext = errors.New("backend down")

	_, err := s.Edit(context.Background(), "c-1", store.EditOptions{Title: strPtr("Changed")})
	if err == nil {
		t.Fatalf("expected failure")
	}
	got, _ := s.Get("c-1")
	if got.Title != "Original" {
		t.Fatalf("rollback failed: %+v", got)
	}
	if s.InFlight("c-1") {
		t.Fatalf("in-flight mark not cleared")
	}
}

func TestStatusChangeRollsBackOnFailure(t *testing.T) {
	performer := "bob"
	base := domain.Contract{ID: "c-1", IssuerID: "alice", PerformerID: &performer, Title: "t", Status: domain.StatusPending, RewardKind: domain.RewardCredit, RewardAmount: 5}
	s, fake := seeded(t, "bob", base)
	fake.failNext = errors.New("backend down")

	_, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusCompleted)
	if err == nil {
		t.Fatalf("expected failure")
	}
	got, ok := s.Get("c-1")
	if !ok {
		t.Fatalf("contract dropped from cache")
	}
	if !reflect.DeepEqual(got, base) {
		t.Fatalf("cache diverged from snapshot:\n got %+v\nwant %+v", got, base)
	}
	if s.InFlight("c-1") {
		t.Fatalf("in-flight mark not cleared")
	}
	if fake.mintCalls != 0 {
		t.Fatalf("mint attempted after failed status change")
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	performer := "bob"
	base := domain.Contract{ID: "c-1", IssuerID: "alice", PerformerID: &performer, Title: "t", Status: domain.StatusPending, RewardKind: domain.RewardCredit}
	s, fake := seeded(t, "bob", base)

	fake.statusGate = make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		_, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusInProgress)
		firstDone <- err
	}()
	// wait until the first submission is marked in flight
	for !s.InFlight("c-1") {
		time.Sleep(time.Millisecond)
	}
	_, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusInProgress)
	var serr *store.Error
	if !errors.As(err, &serr) || serr.Category != store.CategoryValidation {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	close(fake.statusGate)
	if err := <-firstDone; err != nil {
		t.Fatalf("first submission: %v", err)
	}
}

func TestLocalEvaluatorBlocksBadTransition(t *testing.T) {
	base := domain.Contract{ID: "c-1", IssuerID: "alice", Title: "t", Status: domain.StatusPending, RewardKind: domain.RewardCredit}
	s, fake := seeded(t, "mallory", base)
	_, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusCompleted)
	var serr *store.Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected store error, got %v", err)
	}
	if serr.Category != store.CategoryAuthorization {
		t.Fatalf("category: %s", serr.Category)
	}
	if fake.mintCalls != 0 {
		t.Fatalf("backend must not be called")
	}
}

func TestApprovalMintsCredits(t *testing.T) {
	performer := "bob"
	base := domain.Contract{
		ID: "c-1", IssuerID: "alice", PerformerID: &performer,
		Title: "t", Status: domain.StatusReview, ProofRequired: true,
		ProofNote: strPtr("done"), RewardKind: domain.RewardCredit, RewardAmount: 7,
	}
	s, fake := seeded(t, "alice", base)
	c, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusCompleted)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if c.Status != domain.StatusCompleted {
		t.Fatalf("status: %s", c.Status)
	}
	if len(fake.mints) != 1 || fake.mints[0].Amount != 7 || fake.mints[0].ActorID != "bob" {
		t.Fatalf("mints: %+v", fake.mints)
	}
}

func TestRejectionMintsNothing(t *testing.T) {
	performer := "bob"
	base := domain.Contract{
		ID: "c-1", IssuerID: "alice", PerformerID: &performer,
		Title: "t", Status: domain.StatusReview, ProofRequired: true,
		ProofNote: strPtr("done"), RewardKind: domain.RewardCredit, RewardAmount: 7,
	}
	s, fake := seeded(t, "alice", base)
	if _, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusRejected); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if fake.mintCalls != 0 {
		t.Fatalf("rejection must not mint")
	}
}

func TestMintFailureIsPartialSettlement(t *testing.T) {
	performer := "bob"
	base := domain.Contract{
		ID: "c-1", IssuerID: "alice", PerformerID: &performer,
		Title: "t", Status: domain.StatusReview, ProofRequired: true,
		ProofNote: strPtr("done"), RewardKind: domain.RewardCredit, RewardAmount: 7,
	}
	s, fake := seeded(t, "alice", base)
	fake.failMint = errors.New("ledger unavailable")

	c, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusCompleted)
	var serr *store.Error
	if !errors.As(err, &serr) || serr.Category != store.CategoryPartialSettlement {
		t.Fatalf("expected partial settlement, got %v", err)
	}
	// the committed status survives the mint failure
	if c.Status != domain.StatusCompleted {
		t.Fatalf("status rolled back: %s", c.Status)
	}
	got, _ := s.Get("c-1")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("local status rolled back: %s", got.Status)
	}
	if ids := s.PendingMints(); len(ids) != 1 || ids[0] != "c-1" {
		t.Fatalf("pending mints: %v", ids)
	}

	// retry persists only the mint
	if err := s.RetryMint(context.Background(), "c-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(fake.mints) != 1 || fake.mints[0].Amount != 7 {
		t.Fatalf("mints after retry: %+v", fake.mints)
	}
	if len(s.PendingMints()) != 0 {
		t.Fatalf("pending mint not cleared")
	}
}

func TestProofSubmissionFastPathSettles(t *testing.T) {
	performer := "bob"
	base := domain.Contract{
		ID: "c-1", IssuerID: "alice", PerformerID: &performer,
		Title: "t", Status: domain.StatusInProgress,
		RewardKind: domain.RewardCredit, RewardAmount: 3,
	}
	s, fake := seeded(t, "bob", base)
	cfg := config.Default()
	c, err := s.SubmitProof(context.Background(), "c-1", engine.ProofPayload{Kind: "text", Note: "done"}, "", cfg)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c.Status != domain.StatusCompleted {
		t.Fatalf("fast path status: %s", c.Status)
	}
	if len(fake.mints) != 1 || fake.mints[0].Amount != 3 {
		t.Fatalf("mints: %+v", fake.mints)
	}
}

func TestSubmitProofValidatesBeforeBackend(t *testing.T) {
	performer := "bob"
	base := domain.Contract{
		ID: "c-1", IssuerID: "alice", PerformerID: &performer,
		Title: "t", Status: domain.StatusInProgress, ProofRequired: true,
		RewardKind: domain.RewardCredit,
	}
	s, _ := seeded(t, "bob", base)
	_, err := s.SubmitProof(context.Background(), "c-1", engine.ProofPayload{Kind: "text", Note: "  "}, "", config.Default())
	var serr *store.Error
	if !errors.As(err, &serr) || serr.Category != store.CategoryValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteRestoresOnFailure(t *testing.T) {
	base := domain.Contract{ID: "c-1", IssuerID: "alice", Title: "t", Status: domain.StatusPending, RewardKind: domain.RewardCredit}
	s, fake := seeded(t, "alice", base)
	fake.failNext = errors.New("backend down")
	if err := s.Delete(context.Background(), "c-1"); err == nil {
		t.Fatalf("expected failure")
	}
	if _, ok := s.Get("c-1"); !ok {
		t.Fatalf("contract must be restored after failed delete")
	}
}

func TestNotificationReplacesLocalCopy(t *testing.T) {
	base := domain.Contract{ID: "c-1", IssuerID: "alice", Title: "t", Status: domain.StatusPending, RewardKind: domain.RewardCredit}
	s, _ := seeded(t, "alice", base)
	changed := base
	changed.Status = domain.StatusInProgress
	s.OnContractChanged(changed)
	got, _ := s.Get("c-1")
	if got.Status != domain.StatusInProgress {
		t.Fatalf("notification ignored: %+v", got)
	}
}

func TestStreakPassedToSettlement(t *testing.T) {
	performer := "bob"
	base := domain.Contract{
		ID: "c-1", IssuerID: "alice", PerformerID: &performer,
		Title: "t", Status: domain.StatusReview, ProofRequired: true,
		ProofNote: strPtr("done"), RewardKind: domain.RewardCredit, RewardAmount: 100,
	}
	fake := newFakePersistence()
	fake.contracts[base.ID] = base
	s := store.New(store.Options{
		ActorID:     "alice",
		Persistence: fake,
		Streaks: func(ctx context.Context, performerID string) (int, error) {
			return 3, nil
		},
		Policy: config.StreakPolicy{MinDays: 3, BonusPercentPerDay: 10, MaxBonusPercent: 50},
	})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := s.ChangeStatus(context.Background(), "c-1", domain.StatusCompleted); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(fake.mints) != 1 || fake.mints[0].Amount != 110 || fake.mints[0].StreakDays != 3 {
		t.Fatalf("mints: %+v", fake.mints)
	}
}
