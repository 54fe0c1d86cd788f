package repo

import (
	"context"
	"database/sql"
	"strings"

	"bountyline/internal/domain"
)

// InsertCreditEntry appends one ledger row. The unique index on
// source_contract_id makes a second mint for the same contract fail.
func (r Repo) InsertCreditEntry(ctx context.Context, tx *sql.Tx, e domain.CreditEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO credit_ledger(id,actor_id,amount,kind,source_contract_id,reward_id,streak_days,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.ActorID, e.Amount, e.Kind, nullableStringPtr(e.SourceContractID), nullableStringPtr(e.RewardID), e.StreakDays, e.CreatedAt)
	return err
}

// HasMintForContract reports whether a contract has already been settled.
func (r Repo) HasMintForContract(ctx context.Context, tx *sql.Tx, contractID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM credit_ledger WHERE source_contract_id=? LIMIT 1`, contractID)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type LedgerFilters struct {
	ActorID string
	Kind    string
	Limit   int
}

func (r Repo) ListCreditEntries(ctx context.Context, f LedgerFilters) ([]domain.CreditEntry, error) {
	var clauses []string
	var args []any
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,actor_id,amount,kind,source_contract_id,reward_id,streak_days,created_at FROM credit_ledger ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CreditEntry
	for rows.Next() {
		var e domain.CreditEntry
		var source, reward sql.NullString
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Amount, &e.Kind, &source, &reward, &e.StreakDays, &e.CreatedAt); err != nil {
			return nil, err
		}
		if source.Valid {
			e.SourceContractID = &source.String
		}
		if reward.Valid {
			e.RewardID = &reward.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Balance returns the actor's credit balance (mints minus redemptions).
func (r Repo) Balance(ctx context.Context, actorID string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM credit_ledger WHERE actor_id=?`, actorID)
	var balance int
	err := row.Scan(&balance)
	return balance, err
}

// MintDates returns the distinct UTC dates (YYYY-MM-DD) on which the actor
// earned a mint, most recent first. Used for streak derivation.
func (r Repo) MintDates(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT substr(created_at,1,10) AS day FROM credit_ledger WHERE actor_id=? AND kind=? ORDER BY day DESC`,
		actorID, domain.LedgerMint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
