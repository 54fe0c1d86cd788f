package store

import (
	"context"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
)

// EnginePersistence adapts the local engine to the store's Persistence
// interface, acting under a fixed identity.
type EnginePersistence struct {
	Engine  engine.Engine
	ActorID string
}

func (p EnginePersistence) CreateContract(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	opts := engine.ContractCreateOptions{
		Title:         c.Title,
		Description:   c.Description,
		ProofRequired: c.ProofRequired,
		RewardKind:    c.RewardKind,
		RewardAmount:  c.RewardAmount,
		ActorID:       p.ActorID,
	}
	if c.PerformerID != nil {
		opts.PerformerID = *c.PerformerID
	}
	if c.RewardLabel != nil {
		opts.RewardLabel = *c.RewardLabel
	}
	return p.Engine.CreateContract(ctx, opts)
}

func (p EnginePersistence) UpdateContract(ctx context.Context, c domain.Contract) (domain.Contract, error) {
	opts := engine.ContractUpdateOptions{
		ID:                c.ID,
		ActorID:           p.ActorID,
		Title:             &c.Title,
		Description:       &c.Description,
		PerformerProvided: true,
		PerformerID:       c.PerformerID,
		RewardAmount:      &c.RewardAmount,
	}
	label := ""
	if c.RewardLabel != nil {
		label = *c.RewardLabel
	}
	opts.RewardLabel = &label
	return p.Engine.UpdateContract(ctx, opts)
}

func (p EnginePersistence) SetContractStatus(ctx context.Context, id, status string) (domain.Contract, error) {
	if status == domain.StatusInProgress {
		c, err := p.Engine.Repo.GetContract(ctx, id)
		if err != nil {
			return c, err
		}
		if c.PerformerID == nil {
			return p.Engine.ClaimContract(ctx, id, p.ActorID)
		}
	}
	c, _, err := p.Engine.SetContractStatus(ctx, engine.StatusChangeOptions{
		ID:      id,
		Status:  status,
		ActorID: p.ActorID,
	})
	return c, err
}

func (p EnginePersistence) SubmitProof(ctx context.Context, id string, payload engine.ProofPayload, attachmentRef string) (domain.Contract, error) {
	c, _, err := p.Engine.SubmitProof(ctx, engine.ProofSubmitOptions{
		ID:            id,
		ActorID:       p.ActorID,
		Payload:       payload,
		AttachmentRef: attachmentRef,
	})
	return c, err
}

func (p EnginePersistence) DeleteContract(ctx context.Context, id string) error {
	return p.Engine.DeleteContract(ctx, id, p.ActorID)
}

func (p EnginePersistence) MintCredit(ctx context.Context, performerID string, amount, streakDays int, sourceContractID string) (domain.CreditEntry, error) {
	return p.Engine.MintCredit(ctx, engine.MintOptions{
		PerformerID:      performerID,
		Amount:           amount,
		StreakDays:       streakDays,
		SourceContractID: sourceContractID,
		ActorID:          p.ActorID,
	})
}

func (p EnginePersistence) FetchVisibleContracts(ctx context.Context) ([]domain.Contract, error) {
	return p.Engine.Repo.ListVisibleContracts(ctx, p.ActorID)
}

// Streaks returns a StreakFunc backed by the engine's ledger.
func (p EnginePersistence) Streaks() StreakFunc {
	return func(ctx context.Context, performerID string) (int, error) {
		streak, err := p.Engine.StreakFor(ctx, performerID)
		if err != nil {
			return 0, err
		}
		return streak.Days, nil
	}
}
