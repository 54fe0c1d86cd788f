package bountylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bountyline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Contract represents the API contract model.
type Contract struct {
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

// LedgerEntry represents a credit ledger row.
type LedgerEntry struct {
	ID               string  `json:"id"`
	ActorID          string  `json:"actor_id"`
	Amount           int     `json:"amount"`
	Kind             string  `json:"kind"`
	SourceContractID *string `json:"source_contract_id,omitempty"`
	RewardID         *string `json:"reward_id,omitempty"`
	StreakDays       int     `json:"streak_days,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

// Reward represents a catalog item.
type Reward struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Cost        int    `json:"cost"`
	CreatedAt   string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// Balance is an actor's credit balance.
type Balance struct {
	ActorID string `json:"actor_id"`
	Balance int    `json:"balance"`
}

// Streak is an actor's consecutive-day mint streak.
type Streak struct {
	ActorID    string `json:"actor_id"`
	StreakDays int    `json:"streak_days"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetStatus returns the HTTP status code of the failed response.
func (e *APIError) GetStatus() int {
	return e.StatusCode
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateContractOptions are the POST /contracts fields.
type CreateContractOptions struct {
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	PerformerID   string `json:"performer_id,omitempty"`
	ProofRequired bool   `json:"proof_required,omitempty"`
	RewardKind    string `json:"reward_kind,omitempty"`
	RewardAmount  int    `json:"reward_amount,omitempty"`
	RewardLabel   string `json:"reward_label,omitempty"`
}

// CreateContract posts a new contract.
func (c *Client) CreateContract(ctx context.Context, opts CreateContractOptions) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "v0/contracts", opts, &resp)
	return resp, err
}

// ListContracts returns the contracts visible to the authenticated actor.
// Status filters the listing when non-empty; all widens it to every contract.
func (c *Client) ListContracts(ctx context.Context, status string, all bool) ([]Contract, error) {
	endpoint := "v0/contracts"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if all {
		params.Set("all", "true")
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Items []Contract `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetContract fetches a contract by id.
func (c *Client) GetContract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, "v0/contracts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateContract patches issuer-editable fields. Nil fields are left as is.
func (c *Client) UpdateContract(ctx context.Context, id string, fields map[string]any) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPatch, "v0/contracts/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// DeleteContract removes a contract.
func (c *Client) DeleteContract(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/contracts/"+url.PathEscape(id), nil, nil)
}

// SetContractStatus requests a lifecycle transition.
func (c *Client) SetContractStatus(ctx context.Context, id, status string) (Contract, error) {
	body := map[string]any{"status": status}
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ClaimContract claims a pending contract as its performer.
func (c *Client) ClaimContract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/claim", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ArchiveContract archives a contract.
func (c *Client) ArchiveContract(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/archive", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ProofOptions are the POST /contracts/{id}/proof fields.
type ProofOptions struct {
	Kind        string `json:"kind"`
	Note        string `json:"note,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// SubmitProof attaches completion proof to a contract.
func (c *Client) SubmitProof(ctx context.Context, id string, opts ProofOptions) (Contract, error) {
	var resp Contract
	endpoint := fmt.Sprintf("v0/contracts/%s/proof", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, opts, &resp)
	return resp, err
}

// MintOptions are the POST /ledger/mint fields.
type MintOptions struct {
	PerformerID      string `json:"performer_id"`
	Amount           int    `json:"amount"`
	SourceContractID string `json:"source_contract_id"`
	StreakDays       int    `json:"streak_days,omitempty"`
}

// Mint settles a completed contract into the ledger.
func (c *Client) Mint(ctx context.Context, opts MintOptions) (LedgerEntry, error) {
	var resp LedgerEntry
	err := c.do(ctx, http.MethodPost, "v0/ledger/mint", opts, &resp)
	return resp, err
}

// Ledger lists credit entries, optionally filtered by actor and kind.
func (c *Client) Ledger(ctx context.Context, actorID, kind string, limit int) ([]LedgerEntry, error) {
	endpoint := "v0/ledger"
	params := url.Values{}
	if actorID != "" {
		params.Set("actor_id", actorID)
	}
	if kind != "" {
		params.Set("kind", kind)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Items []LedgerEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Balance returns an actor's credit balance.
func (c *Client) Balance(ctx context.Context, actorID string) (Balance, error) {
	var resp Balance
	endpoint := fmt.Sprintf("v0/actors/%s/balance", url.PathEscape(actorID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Streak returns an actor's consecutive-day mint streak.
func (c *Client) Streak(ctx context.Context, actorID string) (Streak, error) {
	var resp Streak
	endpoint := fmt.Sprintf("v0/actors/%s/streak", url.PathEscape(actorID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateReward adds a catalog reward.
func (c *Client) CreateReward(ctx context.Context, title, description string, cost int) (Reward, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"cost":        cost,
	}
	var resp Reward
	err := c.do(ctx, http.MethodPost, "v0/rewards", body, &resp)
	return resp, err
}

// ListRewards returns the catalog.
func (c *Client) ListRewards(ctx context.Context) ([]Reward, error) {
	var resp struct {
		Items []Reward `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/rewards", nil, &resp)
	return resp.Items, err
}

// RedeemReward spends credits on a reward.
func (c *Client) RedeemReward(ctx context.Context, rewardID string) (LedgerEntry, error) {
	var resp LedgerEntry
	endpoint := fmt.Sprintf("v0/rewards/%s/redeem", url.PathEscape(rewardID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
