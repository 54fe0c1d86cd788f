package server

import (
	"encoding/json"

	"bountyline/internal/domain"
)

type CreateContractRequest struct {
	ID            *string `json:"id,omitempty"`
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	PerformerID   *string `json:"performer_id,omitempty"`
	ProofRequired bool    `json:"proof_required,omitempty"`
	RewardKind    string  `json:"reward_kind,omitempty" enum:"credit,fixed"`
	RewardAmount  int     `json:"reward_amount,omitempty" minimum:"0"`
	RewardLabel   *string `json:"reward_label,omitempty"`
}

type UpdateContractRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	PerformerID  *string `json:"performer_id,omitempty"`
	RewardAmount *int    `json:"reward_amount,omitempty"`
	RewardLabel  *string `json:"reward_label,omitempty"`
}

type StatusChangeRequest struct {
	Status string `json:"status" enum:"in_progress,review,completed,rejected"`
}

type ProofRequest struct {
	Kind        string `json:"kind" enum:"text,attachment"`
	Note        string `json:"note,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

type MintRequest struct {
	PerformerID      string `json:"performer_id"`
	Amount           int    `json:"amount" minimum:"1"`
	SourceContractID string `json:"source_contract_id"`
	StreakDays       int    `json:"streak_days,omitempty"`
}

type CreateRewardRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Cost        int     `json:"cost" minimum:"1"`
}

type ContractResponse struct {
	ID              string  `json:"id"`
	IssuerID        string  `json:"issuer_id"`
	PerformerID     *string `json:"performer_id,omitempty"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status"`
	ProofRequired   bool    `json:"proof_required"`
	ProofNote       *string `json:"proof_note,omitempty"`
	ProofAttachment *string `json:"proof_attachment,omitempty"`
	RewardKind      string  `json:"reward_kind"`
	RewardAmount    int     `json:"reward_amount"`
	RewardLabel     *string `json:"reward_label,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

func contractResponse(c domain.Contract) ContractResponse {
	return ContractResponse{
		ID:              c.ID,
		IssuerID:        c.IssuerID,
		PerformerID:     c.PerformerID,
		Title:           c.Title,
		Description:     c.Description,
		Status:          c.Status,
		ProofRequired:   c.ProofRequired,
		ProofNote:       c.ProofNote,
		ProofAttachment: c.ProofAttachment,
		RewardKind:      c.RewardKind,
		RewardAmount:    c.RewardAmount,
		RewardLabel:     c.RewardLabel,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
		CompletedAt:     c.CompletedAt,
	}
}

func mapContracts(items []domain.Contract) []ContractResponse {
	out := make([]ContractResponse, 0, len(items))
	for _, c := range items {
		out = append(out, contractResponse(c))
	}
	return out
}

type LedgerEntryResponse struct {
	ID               string  `json:"id"`
	ActorID          string  `json:"actor_id"`
	Amount           int     `json:"amount"`
	Kind             string  `json:"kind"`
	SourceContractID *string `json:"source_contract_id,omitempty"`
	RewardID         *string `json:"reward_id,omitempty"`
	StreakDays       int     `json:"streak_days,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

func ledgerEntryResponse(e domain.CreditEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:               e.ID,
		ActorID:          e.ActorID,
		Amount:           e.Amount,
		Kind:             e.Kind,
		SourceContractID: e.SourceContractID,
		RewardID:         e.RewardID,
		StreakDays:       e.StreakDays,
		CreatedAt:        e.CreatedAt,
	}
}

func mapLedgerEntries(items []domain.CreditEntry) []LedgerEntryResponse {
	out := make([]LedgerEntryResponse, 0, len(items))
	for _, e := range items {
		out = append(out, ledgerEntryResponse(e))
	}
	return out
}

type BalanceResponse struct {
	ActorID string `json:"actor_id"`
	Balance int    `json:"balance"`
}

type RewardResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Cost        int    `json:"cost"`
	CreatedAt   string `json:"created_at"`
}

func rewardResponse(r domain.Reward) RewardResponse {
	return RewardResponse{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Cost:        r.Cost,
		CreatedAt:   r.CreatedAt,
	}
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

type paginatedContracts struct {
	Items []ContractResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
