package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bountyline/internal/config"
	"bountyline/internal/domain"
	"bountyline/internal/engine/auth"
	"bountyline/internal/events"
	"bountyline/internal/repo"
)

var (
	// ErrAlreadySettled is returned when a mint is requested for a
	// contract that already has a ledger entry.
	ErrAlreadySettled = errors.New("contract already settled")
	// ErrInsufficientCredits is returned when a redemption exceeds the
	// actor's balance.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ProofValidationError carries the validator's reasons for refusing a
// proof payload.
type ProofValidationError struct {
	Reasons []string
}

func (e ProofValidationError) Error() string {
	return "invalid proof: " + strings.Join(e.Reasons, "; ")
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	// RemoveAttachment, when set, is called with a stored attachment
	// reference whenever proof is discarded (rejection or deletion).
	RemoveAttachment func(ref string) error
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ContractCreateOptions are parameters for creating a contract.
type ContractCreateOptions struct {
	ID            string
	Title         string
	Description   string
	PerformerID   string
	ProofRequired bool
	RewardKind    string
	RewardAmount  int
	RewardLabel   string
	ActorID       string // becomes the issuer
}

func (e Engine) CreateContract(ctx context.Context, opts ContractCreateOptions) (domain.Contract, error) {
	if e.Config == nil {
		return domain.Contract{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Contract{}, errors.New("title is required")
	}
	if opts.ActorID == "" {
		return domain.Contract{}, errors.New("actor is required")
	}
	if opts.RewardKind == "" {
		opts.RewardKind = domain.RewardCredit
	}
	switch opts.RewardKind {
	case domain.RewardCredit:
		if opts.RewardAmount < 0 {
			return domain.Contract{}, errors.New("reward amount must be >= 0")
		}
	case domain.RewardFixed:
		if opts.RewardLabel == "" {
			return domain.Contract{}, errors.New("reward label required for fixed rewards")
		}
		opts.RewardAmount = 0
	default:
		return domain.Contract{}, fmt.Errorf("unknown reward kind %q", opts.RewardKind)
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.New().String()
	}
	c := domain.Contract{
		ID:            id,
		IssuerID:      opts.ActorID,
		PerformerID:   optionalString(opts.PerformerID),
		Title:         opts.Title,
		Description:   opts.Description,
		Status:        domain.StatusPending,
		ProofRequired: opts.ProofRequired,
		RewardKind:    opts.RewardKind,
		RewardAmount:  opts.RewardAmount,
		RewardLabel:   optionalString(opts.RewardLabel),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contract{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, c.IssuerID, now); err != nil {
		return domain.Contract{}, fmt.Errorf("ensure issuer: %w", err)
	}
	if c.PerformerID != nil {
		if err := e.Repo.EnsureActor(ctx, tx, *c.PerformerID, now); err != nil {
			return domain.Contract{}, fmt.Errorf("ensure performer: %w", err)
		}
	}
	if err := e.Repo.InsertContract(ctx, tx, c); err != nil {
		return domain.Contract{}, err
	}
	if err := e.Events.Append(ctx, tx, "contract.created", "contract", c.ID, opts.ActorID, events.EventPayload{
		"title":       c.Title,
		"status":      c.Status,
		"reward_kind": c.RewardKind,
	}); err != nil {
		return domain.Contract{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Contract{}, err
	}
	return c, nil
}

// ContractUpdateOptions encapsulates issuer-editable fields. ProofRequired
// is fixed at creation and intentionally absent.
type ContractUpdateOptions struct {
	ID                string
	ActorID           string
	Title             *string
	Description       *string
	PerformerProvided bool
	PerformerID       *string
	RewardAmount      *int
	RewardLabel       *string
}

func (e Engine) UpdateContract(ctx context.Context, opts ContractUpdateOptions) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, opts.ID)
	if err != nil {
		return c, err
	}
	if opts.ActorID != c.IssuerID {
		return c, auth.ForbiddenError{ActorID: opts.ActorID, Action: "edit contract"}
	}
	if c.Status == domain.StatusCompleted {
		return c, errors.New("completed contracts cannot be edited")
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return c, errors.New("title is required")
		}
		c.Title = *opts.Title
	}
	if opts.Description != nil {
		c.Description = *opts.Description
	}
	if opts.PerformerProvided {
		if opts.PerformerID == nil || *opts.PerformerID == "" {
			c.PerformerID = nil
		} else {
			c.PerformerID = opts.PerformerID
		}
	}
	if opts.RewardAmount != nil {
		if *opts.RewardAmount < 0 {
			return c, errors.New("reward amount must be >= 0")
		}
		c.RewardAmount = *opts.RewardAmount
	}
	if opts.RewardLabel != nil {
		c.RewardLabel = optionalString(*opts.RewardLabel)
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if c.PerformerID != nil {
		if err := e.Repo.EnsureActor(ctx, tx, *c.PerformerID, now); err != nil {
			return c, err
		}
	}
	if err := e.Repo.UpdateContract(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "contract.updated", "contract", c.ID, opts.ActorID, events.EventPayload{
		"status": c.Status,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ClaimContract assigns the acting performer (if unassigned) and moves the
// contract to in_progress.
func (e Engine) ClaimContract(ctx context.Context, id, actorID string) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return c, err
	}
	if c.PerformerID != nil && *c.PerformerID != actorID {
		return c, auth.ForbiddenError{ActorID: actorID, Action: "claim contract assigned to another performer"}
	}
	if actorID == c.IssuerID {
		return c, auth.ForbiddenError{ActorID: actorID, Action: "claim own contract"}
	}
	decision := EvaluateStatusChange(TransitionContext{
		ActorID:         actorID,
		IssuerID:        c.IssuerID,
		PerformerID:     actorID,
		CurrentStatus:   c.Status,
		RequestedStatus: domain.StatusInProgress,
		ProofRequired:   c.ProofRequired,
		HasProof:        c.HasProof(),
	})
	if !decision.Allowed {
		return c, TransitionError{From: c.Status, To: domain.StatusInProgress, Reason: decision.Reason, Denial: decision.Denial}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.PerformerID = &actorID
	c.Status = domain.StatusInProgress
	c.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return c, err
	}
	if err := e.Repo.UpdateContract(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "contract.claimed", "contract", c.ID, actorID, events.EventPayload{
		"performer_id": actorID,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// ProofSubmitOptions carries a proof submission. AttachmentRef is the
// stored location (path or URL) for attachment payloads, written by the
// storage collaborator before the engine is called.
type ProofSubmitOptions struct {
	ID            string
	ActorID       string
	Payload       ProofPayload
	AttachmentRef string
}

// SubmitProof validates the payload, then moves the contract to review
// (proof required) or straight to completed (fast path).
func (e Engine) SubmitProof(ctx context.Context, opts ProofSubmitOptions) (domain.Contract, Decision, error) {
	check := ValidateProofPayload(opts.Payload, e.Config)
	if !check.Valid {
		return domain.Contract{}, Decision{}, ProofValidationError{Reasons: check.Errors}
	}
	c, err := e.Repo.GetContract(ctx, opts.ID)
	if err != nil {
		return c, Decision{}, err
	}
	target := StatusAfterProofSubmission(c.ProofRequired)
	decision := EvaluateStatusChange(TransitionContext{
		ActorID:         opts.ActorID,
		IssuerID:        c.IssuerID,
		PerformerID:     derefString(c.PerformerID),
		CurrentStatus:   c.Status,
		RequestedStatus: target,
		ProofRequired:   c.ProofRequired,
		HasProof:        true,
	})
	if !decision.Allowed {
		return c, decision, TransitionError{From: c.Status, To: target, Reason: decision.Reason, Denial: decision.Denial}
	}
	now := e.now().UTC().Format(time.RFC3339)
	switch opts.Payload.Kind {
	case ProofText:
		note := strings.TrimSpace(opts.Payload.Note)
		c.ProofNote = &note
		c.ProofAttachment = nil
	case ProofAttachment:
		ref := opts.AttachmentRef
		if ref == "" {
			ref = opts.Payload.Filename
		}
		c.ProofAttachment = &ref
		c.ProofNote = nil
	}
	c.Status = target
	c.UpdatedAt = now
	if target == domain.StatusCompleted && c.CompletedAt == nil {
		c.CompletedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, decision, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateContract(ctx, tx, c); err != nil {
		return c, decision, err
	}
	if err := e.Events.Append(ctx, tx, "proof.submitted", "contract", c.ID, opts.ActorID, events.EventPayload{
		"kind":   opts.Payload.Kind,
		"status": c.Status,
	}); err != nil {
		return c, decision, err
	}
	if err := tx.Commit(); err != nil {
		return c, decision, err
	}
	return c, decision, nil
}

// StatusChangeOptions requests a lifecycle transition.
type StatusChangeOptions struct {
	ID      string
	Status  string
	ActorID string
}

// SetContractStatus runs the evaluator and applies the transition.
// Rejection clears proof so the performer can resubmit; completion stamps
// completed_at exactly once. Settlement is not performed here: minting is
// a separate, independently retryable operation.
func (e Engine) SetContractStatus(ctx context.Context, opts StatusChangeOptions) (domain.Contract, Decision, error) {
	c, err := e.Repo.GetContract(ctx, opts.ID)
	if err != nil {
		return c, Decision{}, err
	}
	if opts.Status == domain.StatusInProgress && c.PerformerID == nil {
		// Starting an unassigned contract is a claim: the actor becomes
		// the performer, never leaving the contract running with nobody
		// responsible for it.
		claimed, err := e.ClaimContract(ctx, opts.ID, opts.ActorID)
		if err != nil {
			return claimed, Decision{}, err
		}
		return claimed, Decision{Allowed: true}, nil
	}
	decision := EvaluateStatusChange(TransitionContext{
		ActorID:         opts.ActorID,
		IssuerID:        c.IssuerID,
		PerformerID:     derefString(c.PerformerID),
		CurrentStatus:   c.Status,
		RequestedStatus: opts.Status,
		ProofRequired:   c.ProofRequired,
		HasProof:        c.HasProof(),
	})
	if !decision.Allowed {
		return c, decision, TransitionError{From: c.Status, To: opts.Status, Reason: decision.Reason, Denial: decision.Denial}
	}
	now := e.now().UTC().Format(time.RFC3339)
	prevAttachment := c.ProofAttachment
	c.Status = opts.Status
	c.UpdatedAt = now
	clearedProof := false
	if opts.Status == domain.StatusCompleted && c.CompletedAt == nil {
		c.CompletedAt = &now
	}
	if opts.Status == domain.StatusRejected {
		clearedProof = c.HasProof()
		c.ProofNote = nil
		c.ProofAttachment = nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, decision, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateContract(ctx, tx, c); err != nil {
		return c, decision, err
	}
	if err := e.Events.Append(ctx, tx, "contract.status_changed", "contract", c.ID, opts.ActorID, events.EventPayload{
		"to_status": c.Status,
	}); err != nil {
		return c, decision, err
	}
	if clearedProof {
		if err := e.Events.Append(ctx, tx, "proof.cleared", "contract", c.ID, opts.ActorID, events.EventPayload{}); err != nil {
			return c, decision, err
		}
	}
	if err := tx.Commit(); err != nil {
		return c, decision, err
	}
	if clearedProof {
		e.removeAttachment(prevAttachment)
	}
	return c, decision, nil
}

// ArchiveContract is the dedicated issuer-only operation that parks a
// contract outside the normal lifecycle.
func (e Engine) ArchiveContract(ctx context.Context, id, actorID string) (domain.Contract, error) {
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return c, err
	}
	if actorID != c.IssuerID {
		return c, auth.ForbiddenError{ActorID: actorID, Action: "archive contract"}
	}
	if c.Status == domain.StatusArchived {
		return c, errors.New("contract already archived")
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = domain.StatusArchived
	c.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateContract(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "contract.status_changed", "contract", c.ID, actorID, events.EventPayload{
		"to_status": c.Status,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// DeleteContract removes a contract and any stored proof attachment.
// Issuer-only, unconditional: deleting a completed contract is legal but
// callers are expected to confirm first.
func (e Engine) DeleteContract(ctx context.Context, id, actorID string) error {
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return err
	}
	if actorID != c.IssuerID {
		return auth.ForbiddenError{ActorID: actorID, Action: "delete contract"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteContract(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "contract.deleted", "contract", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.removeAttachment(c.ProofAttachment)
	return nil
}

// MintOptions requests a ledger mint for a completed contract.
type MintOptions struct {
	PerformerID      string
	Amount           int
	SourceContractID string
	StreakDays       int
	ActorID          string
}

// MintCredit appends a mint entry to the ledger. At most one mint per
// contract: a repeat request fails with ErrAlreadySettled.
func (e Engine) MintCredit(ctx context.Context, opts MintOptions) (domain.CreditEntry, error) {
	c, err := e.Repo.GetContract(ctx, opts.SourceContractID)
	if err != nil {
		return domain.CreditEntry{}, err
	}
	if opts.ActorID != c.IssuerID && opts.ActorID != opts.PerformerID {
		return domain.CreditEntry{}, auth.ForbiddenError{ActorID: opts.ActorID, Action: "mint credits for contract"}
	}
	if c.Status != domain.StatusCompleted {
		return domain.CreditEntry{}, fmt.Errorf("contract %s is not completed", c.ID)
	}
	if c.RewardKind != domain.RewardCredit {
		return domain.CreditEntry{}, fmt.Errorf("contract %s has no credit reward", c.ID)
	}
	if c.PerformerID == nil || *c.PerformerID != opts.PerformerID {
		return domain.CreditEntry{}, fmt.Errorf("performer mismatch for contract %s", c.ID)
	}
	if opts.Amount <= 0 {
		return domain.CreditEntry{}, errors.New("mint amount must be > 0")
	}
	// Clients compute the settlement, but the ledger never accepts more
	// than the base reward plus the largest bonus policy allows.
	maxAmount := c.RewardAmount
	if e.Config != nil {
		maxAmount += c.RewardAmount * e.Config.Settlement.Streak.MaxBonusPercent / 100
	}
	if opts.Amount > maxAmount {
		return domain.CreditEntry{}, fmt.Errorf("mint amount %d exceeds settlement ceiling %d for contract %s", opts.Amount, maxAmount, c.ID)
	}
	now := e.now().UTC().Format(time.RFC3339)
	entry := domain.CreditEntry{
		ID:               uuid.New().String(),
		ActorID:          opts.PerformerID,
		Amount:           opts.Amount,
		Kind:             domain.LedgerMint,
		SourceContractID: &opts.SourceContractID,
		StreakDays:       opts.StreakDays,
		CreatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return entry, err
	}
	defer tx.Rollback()
	settled, err := e.Repo.HasMintForContract(ctx, tx, opts.SourceContractID)
	if err != nil {
		return entry, err
	}
	if settled {
		return entry, ErrAlreadySettled
	}
	if err := e.Repo.InsertCreditEntry(ctx, tx, entry); err != nil {
		return entry, err
	}
	if err := e.Events.Append(ctx, tx, "credit.minted", "ledger", entry.ID, opts.ActorID, events.EventPayload{
		"performer_id": opts.PerformerID,
		"amount":       opts.Amount,
		"contract_id":  opts.SourceContractID,
	}); err != nil {
		return entry, err
	}
	if err := tx.Commit(); err != nil {
		return entry, err
	}
	return entry, nil
}

// StreakFor derives the performer's current consecutive-day streak from
// the ledger, for explicit hand-off to the settlement calculator.
func (e Engine) StreakFor(ctx context.Context, performerID string) (StreakContext, error) {
	dates, err := e.Repo.MintDates(ctx, performerID)
	if err != nil {
		return StreakContext{}, err
	}
	return StreakContext{Days: StreakDaysFrom(dates, e.now())}, nil
}

// RewardCreateOptions are parameters for adding a catalog reward.
type RewardCreateOptions struct {
	ID          string
	Title       string
	Description string
	Cost        int
	ActorID     string
}

func (e Engine) CreateReward(ctx context.Context, opts RewardCreateOptions) (domain.Reward, error) {
	if opts.Title == "" {
		return domain.Reward{}, errors.New("title is required")
	}
	if opts.Cost <= 0 {
		return domain.Reward{}, errors.New("cost must be > 0")
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	rw := domain.Reward{
		ID:          id,
		Title:       opts.Title,
		Description: opts.Description,
		Cost:        opts.Cost,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rw, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReward(ctx, tx, rw); err != nil {
		return rw, err
	}
	if err := e.Events.Append(ctx, tx, "reward.created", "reward", rw.ID, opts.ActorID, events.EventPayload{
		"title": rw.Title,
		"cost":  rw.Cost,
	}); err != nil {
		return rw, err
	}
	if err := tx.Commit(); err != nil {
		return rw, err
	}
	return rw, nil
}

// RedeemReward spends credits against a catalog reward by appending a
// negative ledger entry.
func (e Engine) RedeemReward(ctx context.Context, rewardID, actorID string) (domain.CreditEntry, error) {
	rw, err := e.Repo.GetReward(ctx, rewardID)
	if err != nil {
		return domain.CreditEntry{}, err
	}
	balance, err := e.Repo.Balance(ctx, actorID)
	if err != nil {
		return domain.CreditEntry{}, err
	}
	if balance < rw.Cost {
		return domain.CreditEntry{}, ErrInsufficientCredits
	}
	now := e.now().UTC().Format(time.RFC3339)
	entry := domain.CreditEntry{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Amount:    -rw.Cost,
		Kind:      domain.LedgerRedeem,
		RewardID:  &rw.ID,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return entry, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return entry, err
	}
	if err := e.Repo.InsertCreditEntry(ctx, tx, entry); err != nil {
		return entry, err
	}
	if err := e.Events.Append(ctx, tx, "reward.redeemed", "reward", rw.ID, actorID, events.EventPayload{
		"cost": rw.Cost,
	}); err != nil {
		return entry, err
	}
	if err := tx.Commit(); err != nil {
		return entry, err
	}
	return entry, nil
}

func (e Engine) removeAttachment(ref *string) {
	if ref == nil || *ref == "" || e.RemoveAttachment == nil {
		return
	}
	_ = e.RemoveAttachment(*ref)
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
