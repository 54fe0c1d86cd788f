package domain

// Contract statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
	StatusArchived   = "archived"
)

// Reward kinds.
const (
	RewardCredit = "credit"
	RewardFixed  = "fixed"
)

// Ledger entry kinds.
const (
	LedgerMint   = "mint"
	LedgerRedeem = "redeem"
)

// Contract is a unit of work exchanged between an issuer and a performer.
type Contract struct {
	ID              string  `json:"id"`
	IssuerID        string  `json:"issuer_id"`
	PerformerID     *string `json:"performer_id,omitempty"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status" enum:"pending,in_progress,review,completed,rejected,archived"`
	ProofRequired   bool    `json:"proof_required"`
	ProofNote       *string `json:"proof_note,omitempty"`
	ProofAttachment *string `json:"proof_attachment,omitempty"`
	RewardKind      string  `json:"reward_kind" enum:"credit,fixed"`
	RewardAmount    int     `json:"reward_amount"`
	RewardLabel     *string `json:"reward_label,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

// HasProof reports whether any proof is attached to the contract.
func (c Contract) HasProof() bool {
	return (c.ProofNote != nil && *c.ProofNote != "") || (c.ProofAttachment != nil && *c.ProofAttachment != "")
}

// CreditEntry is one row of the append-only credit ledger. Positive amounts
// are mints, negative amounts are redemptions. Entries are never mutated.
type CreditEntry struct {
	ID               string  `json:"id"`
	ActorID          string  `json:"actor_id"`
	Amount           int     `json:"amount"`
	Kind             string  `json:"kind" enum:"mint,redeem"`
	SourceContractID *string `json:"source_contract_id,omitempty"`
	RewardID         *string `json:"reward_id,omitempty"`
	StreakDays       int     `json:"streak_days,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// Reward is a catalog item credits can be redeemed against.
type Reward struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Cost        int    `json:"cost"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
