// Package store keeps a client-side working set of contracts and applies
// changes optimistically: mutate the local copy first, persist, then
// replace the local copy with the authoritative result, rolling back the
// local mutation if persistence fails.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/engine/auth"
	"bountyline/internal/repo"
)

// Error categories. Every store operation that fails returns an *Error
// carrying exactly one of these.
const (
	CategoryValidation        = "validation"
	CategoryAuthorization     = "authorization"
	CategoryTransient         = "transient"
	CategoryPartialSettlement = "partial_settlement"
	CategoryUnexpected        = "unexpected"
)

// Error is the store's classified failure. PartialSettlement errors carry
// the contract whose status committed but whose mint did not; RetryMint
// re-attempts just the mint.
type Error struct {
	Category   string
	Message    string
	ContractID string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Category
}

func (e *Error) Unwrap() error { return e.Err }

// Persistence is the store's backend: either the local engine or a remote
// server via the SDK client.
type Persistence interface {
	CreateContract(ctx context.Context, c domain.Contract) (domain.Contract, error)
	UpdateContract(ctx context.Context, c domain.Contract) (domain.Contract, error)
	SetContractStatus(ctx context.Context, id, status string) (domain.Contract, error)
	SubmitProof(ctx context.Context, id string, payload engine.ProofPayload, attachmentRef string) (domain.Contract, error)
	DeleteContract(ctx context.Context, id string) error
	MintCredit(ctx context.Context, performerID string, amount, streakDays int, sourceContractID string) (domain.CreditEntry, error)
	FetchVisibleContracts(ctx context.Context) ([]domain.Contract, error)
}

// StreakFunc resolves the performer's current consecutive-day streak so it
// can be handed to the settlement calculator explicitly.
type StreakFunc func(ctx context.Context, performerID string) (int, error)

// Options configures a ContractStore.
type Options struct {
	ActorID     string
	Persistence Persistence
	Streaks     StreakFunc // optional; nil means no streak bonuses
	Policy      config.StreakPolicy
}

type pendingMint struct {
	PerformerID string
	Amount      int
	StreakDays  int
}

type ContractStore struct {
	mu        sync.Mutex
	actorID   string
	persist   Persistence
	streaks   StreakFunc
	policy    config.StreakPolicy
	contracts map[string]domain.Contract
	inflight  map[string]bool
	mints     map[string]pendingMint
}

func New(opts Options) *ContractStore {
	return &ContractStore{
		actorID:   opts.ActorID,
		persist:   opts.Persistence,
		streaks:   opts.Streaks,
		policy:    opts.Policy,
		contracts: make(map[string]domain.Contract),
		inflight:  make(map[string]bool),
		mints:     make(map[string]pendingMint),
	}
}

// Refresh replaces the working set wholesale with the backend's view.
// Local copies are discarded; last write wins.
func (s *ContractStore) Refresh(ctx context.Context) error {
	list, err := s.persist.FetchVisibleContracts(ctx)
	if err != nil {
		return s.classify(err, "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts = make(map[string]domain.Contract, len(list))
	for _, c := range list {
		s.contracts[c.ID] = c
	}
	return nil
}

// OnContractChanged folds a single externally-changed contract into the
// working set, used by notification handlers.
func (s *ContractStore) OnContractChanged(c domain.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ID] = c
}

// Snapshot returns the working set ordered by creation time.
func (s *ContractStore) Snapshot() []domain.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]domain.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Get returns the local copy of a contract.
func (s *ContractStore) Get(id string) (domain.Contract, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	return c, ok
}

// InFlight reports whether a submission for the contract is outstanding.
func (s *ContractStore) InFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[id]
}

// PendingMints lists contract ids whose settlement failed and awaits retry.
func (s *ContractStore) PendingMints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.mints))
	for id := range s.mints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// begin marks the contract busy and returns its snapshot. A second
// submission for the same contract while one is outstanding is refused.
func (s *ContractStore) begin(id string) (domain.Contract, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return domain.Contract{}, &Error{
			Category:   CategoryValidation,
			Message:    "a change for this contract is already in flight",
			ContractID: id,
		}
	}
	c, ok := s.contracts[id]
	if !ok {
		return domain.Contract{}, &Error{
			Category:   CategoryValidation,
			Message:    "unknown contract",
			ContractID: id,
		}
	}
	s.inflight[id] = true
	return c, nil
}

func (s *ContractStore) applyLocal(c domain.Contract) {
	s.mu.Lock()
	s.contracts[c.ID] = c
	s.mu.Unlock()
}

// finish installs the authoritative result (or rolls back to the snapshot
// on failure) and clears the in-flight mark.
func (s *ContractStore) finish(id string, snapshot, authoritative domain.Contract, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.contracts[id] = authoritative
	} else {
		s.contracts[id] = snapshot
	}
	delete(s.inflight, id)
}

// CreateOptions mirrors the creatable contract fields.
type CreateOptions struct {
	Title         string
	Description   string
	PerformerID   string
	ProofRequired bool
	RewardKind    string
	RewardAmount  int
	RewardLabel   string
}

// Create inserts an optimistic local contract under a temporary id, then
// swaps it for the authoritative one once persisted.
func (s *ContractStore) Create(ctx context.Context, opts CreateOptions) (domain.Contract, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Contract{}, &Error{Category: CategoryValidation, Message: "title is required"}
	}
	if opts.RewardKind == "" {
		opts.RewardKind = domain.RewardCredit
	}
	tempID := "local-" + uuid.New().String()
	local := domain.Contract{
		ID:            tempID,
		IssuerID:      s.actorID,
		Title:         opts.Title,
		Description:   opts.Description,
		Status:        domain.StatusPending,
		ProofRequired: opts.ProofRequired,
		RewardKind:    opts.RewardKind,
		RewardAmount:  opts.RewardAmount,
	}
	if opts.PerformerID != "" {
		local.PerformerID = &opts.PerformerID
	}
	if opts.RewardLabel != "" {
		local.RewardLabel = &opts.RewardLabel
	}
	s.applyLocal(local)

	persisted, err := s.persist.CreateContract(ctx, local)
	s.mu.Lock()
	delete(s.contracts, tempID)
	if err == nil {
		s.contracts[persisted.ID] = persisted
	}
	s.mu.Unlock()
	if err != nil {
		return domain.Contract{}, s.classify(err, tempID)
	}
	return persisted, nil
}

// EditOptions carries the issuer-editable fields.
type EditOptions struct {
	Title             *string
	Description       *string
	PerformerProvided bool
	PerformerID       *string
	RewardAmount      *int
	RewardLabel       *string
}

func (s *ContractStore) Edit(ctx context.Context, id string, opts EditOptions) (domain.Contract, error) {
	snapshot, serr := s.begin(id)
	if serr != nil {
		return domain.Contract{}, serr
	}
	if s.actorID != snapshot.IssuerID {
		s.finish(id, snapshot, snapshot, false)
		return domain.Contract{}, &Error{Category: CategoryAuthorization, Message: "only the issuer may edit a contract", ContractID: id}
	}

	local := snapshot
	if opts.Title != nil {
		local.Title = *opts.Title
	}
	if opts.Description != nil {
		local.Description = *opts.Description
	}
	if opts.PerformerProvided {
		if opts.PerformerID == nil || *opts.PerformerID == "" {
			local.PerformerID = nil
		} else {
			local.PerformerID = opts.PerformerID
		}
	}
	if opts.RewardAmount != nil {
		local.RewardAmount = *opts.RewardAmount
	}
	if opts.RewardLabel != nil {
		v := *opts.RewardLabel
		if v == "" {
			local.RewardLabel = nil
		} else {
			local.RewardLabel = &v
		}
	}
	s.applyLocal(local)

	persisted, err := s.persist.UpdateContract(ctx, local)
	s.finish(id, snapshot, persisted, err == nil)
	if err != nil {
		return domain.Contract{}, s.classify(err, id)
	}
	return persisted, nil
}

// ChangeStatus runs the transition evaluator against the local copy, then
// persists the change. When the transition awards credits, settlement runs
// after the status has committed; a mint failure is reported as a
// partial_settlement error and the completed status is NOT rolled back.
func (s *ContractStore) ChangeStatus(ctx context.Context, id, status string) (domain.Contract, error) {
	snapshot, serr := s.begin(id)
	if serr != nil {
		return domain.Contract{}, serr
	}
	performerID := ""
	if snapshot.PerformerID != nil {
		performerID = *snapshot.PerformerID
	}
	if status == domain.StatusInProgress && performerID == "" {
		performerID = s.actorID // claiming
	}
	decision := engine.EvaluateStatusChange(engine.TransitionContext{
		ActorID:         s.actorID,
		IssuerID:        snapshot.IssuerID,
		PerformerID:     performerID,
		CurrentStatus:   snapshot.Status,
		RequestedStatus: status,
		ProofRequired:   snapshot.ProofRequired,
		HasProof:        snapshot.HasProof(),
	})
	if !decision.Allowed {
		s.finish(id, snapshot, snapshot, false)
		return domain.Contract{}, &Error{
			Category:   categoryForDenial(decision.Denial),
			Message:    decision.Reason,
			ContractID: id,
		}
	}

	local := snapshot
	local.Status = status
	if status == domain.StatusInProgress && local.PerformerID == nil {
		local.PerformerID = &performerID
	}
	s.applyLocal(local)

	persisted, err := s.persist.SetContractStatus(ctx, id, status)
	s.finish(id, snapshot, persisted, err == nil)
	if err != nil {
		return domain.Contract{}, s.classify(err, id)
	}

	if decision.AwardCredits && persisted.RewardKind == domain.RewardCredit {
		if err := s.settle(ctx, persisted); err != nil {
			return persisted, err
		}
	}
	return persisted, nil
}

// SubmitProof validates locally, applies the optimistic status, then
// persists proof and transition in one backend call.
func (s *ContractStore) SubmitProof(ctx context.Context, id string, payload engine.ProofPayload, attachmentRef string, cfg *config.Config) (domain.Contract, error) {
	if check := engine.ValidateProofPayload(payload, cfg); !check.Valid {
		return domain.Contract{}, &Error{
			Category:   CategoryValidation,
			Message:    strings.Join(check.Errors, "; "),
			ContractID: id,
		}
	}
	snapshot, serr := s.begin(id)
	if serr != nil {
		return domain.Contract{}, serr
	}
	target := engine.StatusAfterProofSubmission(snapshot.ProofRequired)
	performerID := ""
	if snapshot.PerformerID != nil {
		performerID = *snapshot.PerformerID
	}
	decision := engine.EvaluateStatusChange(engine.TransitionContext{
		ActorID:         s.actorID,
		IssuerID:        snapshot.IssuerID,
		PerformerID:     performerID,
		CurrentStatus:   snapshot.Status,
		RequestedStatus: target,
		ProofRequired:   snapshot.ProofRequired,
		HasProof:        true,
	})
	if !decision.Allowed {
		s.finish(id, snapshot, snapshot, false)
		return domain.Contract{}, &Error{
			Category:   categoryForDenial(decision.Denial),
			Message:    decision.Reason,
			ContractID: id,
		}
	}

	local := snapshot
	local.Status = target
	if payload.Kind == engine.ProofText {
		note := payload.Note
		local.ProofNote = &note
	} else {
		ref := attachmentRef
		if ref == "" {
			ref = payload.Filename
		}
		local.ProofAttachment = &ref
	}
	s.applyLocal(local)

	persisted, err := s.persist.SubmitProof(ctx, id, payload, attachmentRef)
	s.finish(id, snapshot, persisted, err == nil)
	if err != nil {
		return domain.Contract{}, s.classify(err, id)
	}
	if decision.AwardCredits && persisted.RewardKind == domain.RewardCredit {
		if err := s.settle(ctx, persisted); err != nil {
			return persisted, err
		}
	}
	return persisted, nil
}

// Delete removes the local copy and persists the deletion, restoring the
// copy if the backend refuses.
func (s *ContractStore) Delete(ctx context.Context, id string) error {
	snapshot, serr := s.begin(id)
	if serr != nil {
		return serr
	}
	if s.actorID != snapshot.IssuerID {
		s.finish(id, snapshot, snapshot, false)
		return &Error{Category: CategoryAuthorization, Message: "only the issuer may delete a contract", ContractID: id}
	}
	s.mu.Lock()
	delete(s.contracts, id)
	s.mu.Unlock()

	err := s.persist.DeleteContract(ctx, id)
	s.mu.Lock()
	if err != nil {
		s.contracts[id] = snapshot
	}
	delete(s.inflight, id)
	delete(s.mints, id)
	s.mu.Unlock()
	if err != nil {
		return s.classify(err, id)
	}
	return nil
}

// settle computes and persists the mint for a freshly completed contract.
func (s *ContractStore) settle(ctx context.Context, c domain.Contract) error {
	if c.PerformerID == nil {
		return &Error{Category: CategoryUnexpected, Message: "completed contract has no performer", ContractID: c.ID}
	}
	performerID := *c.PerformerID
	var streak *engine.StreakContext
	streakDays := 0
	if s.streaks != nil {
		days, err := s.streaks(ctx, performerID)
		if err == nil && days > 0 {
			streak = &engine.StreakContext{Days: days}
			streakDays = days
		}
	}
	settlement := engine.DecideCredits(engine.SettlementInput{
		ContractID:  c.ID,
		PerformerID: performerID,
		RewardKind:  c.RewardKind,
		BaseReward:  c.RewardAmount,
		Streak:      streak,
	}, s.policy)
	if settlement.Amount <= 0 {
		return nil
	}
	mint := pendingMint{PerformerID: performerID, Amount: settlement.Amount, StreakDays: streakDays}
	if _, err := s.persist.MintCredit(ctx, mint.PerformerID, mint.Amount, mint.StreakDays, c.ID); err != nil {
		if errors.Is(err, engine.ErrAlreadySettled) {
			return nil
		}
		s.mu.Lock()
		s.mints[c.ID] = mint
		s.mu.Unlock()
		return &Error{
			Category:   CategoryPartialSettlement,
			Message:    "contract completed but credits were not minted; retry the mint",
			ContractID: c.ID,
			Err:        err,
		}
	}
	s.mu.Lock()
	delete(s.mints, c.ID)
	s.mu.Unlock()
	return nil
}

// RetryMint re-attempts a settlement recorded by a partial_settlement
// failure. The contract's status is already committed; only the ledger
// entry is outstanding.
func (s *ContractStore) RetryMint(ctx context.Context, contractID string) error {
	s.mu.Lock()
	mint, ok := s.mints[contractID]
	s.mu.Unlock()
	if !ok {
		return &Error{Category: CategoryValidation, Message: "no pending mint for contract", ContractID: contractID}
	}
	if _, err := s.persist.MintCredit(ctx, mint.PerformerID, mint.Amount, mint.StreakDays, contractID); err != nil {
		if !errors.Is(err, engine.ErrAlreadySettled) {
			return &Error{
				Category:   CategoryPartialSettlement,
				Message:    "mint retry failed",
				ContractID: contractID,
				Err:        err,
			}
		}
	}
	s.mu.Lock()
	delete(s.mints, contractID)
	s.mu.Unlock()
	return nil
}

// categoryForDenial maps the evaluator's denial kind onto a store error
// category: identity denials are authorization, the rest are validation.
func categoryForDenial(kind engine.DenialKind) string {
	if kind == engine.DenialActor {
		return CategoryAuthorization
	}
	return CategoryValidation
}

// classify maps backend failures onto the store's error categories.
func (s *ContractStore) classify(err error, contractID string) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	out := &Error{Category: CategoryUnexpected, ContractID: contractID, Err: err}

	var ferr auth.ForbiddenError
	var terr engine.TransitionError
	var perr engine.ProofValidationError
	var nerr net.Error
	var herr interface{ GetStatus() int }
	switch {
	case errors.As(err, &ferr):
		out.Category = CategoryAuthorization
	case errors.As(err, &terr):
		out.Category = categoryForDenial(terr.Denial)
	case errors.As(err, &perr):
		out.Category = CategoryValidation
	case errors.Is(err, repo.ErrNotFound):
		out.Category = CategoryValidation
		out.Message = "unknown contract"
	case errors.As(err, &herr):
		switch code := herr.GetStatus(); {
		case code == 401 || code == 403:
			out.Category = CategoryAuthorization
		case code == 429 || code >= 500:
			out.Category = CategoryTransient
		case code >= 400:
			out.Category = CategoryValidation
		}
	case errors.As(err, &nerr):
		out.Category = CategoryTransient
	case errors.Is(err, context.DeadlineExceeded):
		out.Category = CategoryTransient
	}
	if out.Message == "" {
		out.Message = fmt.Sprintf("%s: %v", out.Category, err)
	}
	return out
}
