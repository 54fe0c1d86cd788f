package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const contractColumns = `id,issuer_id,performer_id,title,description,status,proof_required,proof_note,proof_attachment,reward_kind,reward_amount,reward_label,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (domain.Contract, error) {
	var c domain.Contract
	var performer, description, proofNote, proofAttachment, rewardLabel, completedAt sql.NullString
	var proofRequired int
	err := row.Scan(&c.ID, &c.IssuerID, &performer, &c.Title, &description, &c.Status, &proofRequired,
		&proofNote, &proofAttachment, &c.RewardKind, &c.RewardAmount, &rewardLabel,
		&c.CreatedAt, &c.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.ProofRequired = proofRequired != 0
	if performer.Valid {
		c.PerformerID = &performer.String
	}
	if description.Valid {
		c.Description = description.String
	}
	if proofNote.Valid {
		c.ProofNote = &proofNote.String
	}
	if proofAttachment.Valid {
		c.ProofAttachment = &proofAttachment.String
	}
	if rewardLabel.Valid {
		c.RewardLabel = &rewardLabel.String
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.String
	}
	return c, nil
}

func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contracts(`+contractColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.IssuerID, nullableStringPtr(c.PerformerID), c.Title, nullable(c.Description), c.Status,
		boolInt(c.ProofRequired), nullableStringPtr(c.ProofNote), nullableStringPtr(c.ProofAttachment),
		c.RewardKind, c.RewardAmount, nullableStringPtr(c.RewardLabel),
		c.CreatedAt, c.UpdatedAt, nullableStringPtr(c.CompletedAt))
	return err
}

func (r Repo) UpdateContract(ctx context.Context, tx *sql.Tx, c domain.Contract) error {
	_, err := tx.ExecContext(ctx, `UPDATE contracts SET performer_id=?, title=?, description=?, status=?, proof_note=?, proof_attachment=?, reward_kind=?, reward_amount=?, reward_label=?, updated_at=?, completed_at=? WHERE id=?`,
		nullableStringPtr(c.PerformerID), c.Title, nullable(c.Description), c.Status,
		nullableStringPtr(c.ProofNote), nullableStringPtr(c.ProofAttachment),
		c.RewardKind, c.RewardAmount, nullableStringPtr(c.RewardLabel),
		c.UpdatedAt, nullableStringPtr(c.CompletedAt), c.ID)
	return err
}

func (r Repo) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	return scanContract(r.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
}

func (r Repo) GetContractTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contract, error) {
	return scanContract(tx.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=?`, id))
}

func (r Repo) DeleteContract(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM contracts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ContractFilters struct {
	IssuerID    string
	PerformerID string
	Status      string
	Limit       int
}

func (r Repo) ListContracts(ctx context.Context, f ContractFilters) ([]domain.Contract, error) {
	var clauses []string
	var args []any
	if f.IssuerID != "" {
		clauses = append(clauses, "issuer_id=?")
		args = append(args, f.IssuerID)
	}
	if f.PerformerID != "" {
		clauses = append(clauses, "performer_id=?")
		args = append(args, f.PerformerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + contractColumns + ` FROM contracts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryContracts(ctx, query, args...)
}

// ListVisibleContracts returns the union of contracts issued by the actor,
// assigned to the actor, and unassigned contracts still open for claiming.
func (r Repo) ListVisibleContracts(ctx context.Context, actorID string) ([]domain.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts
WHERE issuer_id=? OR performer_id=? OR (performer_id IS NULL AND status IN (?,?))
ORDER BY created_at DESC, id DESC`
	return r.queryContracts(ctx, query, actorID, actorID, domain.StatusPending, domain.StatusRejected)
}

func (r Repo) queryContracts(ctx context.Context, query string, args ...any) ([]domain.Contract, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountContractsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM contracts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id,display_name,created_at) VALUES (?,?,?)`,
		actorID, nil, now)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,display_name,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if name.Valid {
		a.DisplayName = name.String
	}
	return a, err
}

// Config persistence: the active config is a single JSON row, imported
// from YAML explicitly.

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO app_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM app_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
