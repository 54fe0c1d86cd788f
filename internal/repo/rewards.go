package repo

import (
	"context"
	"database/sql"

	"bountyline/internal/domain"
)

func (r Repo) InsertReward(ctx context.Context, tx *sql.Tx, rw domain.Reward) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rewards(id,title,description,cost,created_at) VALUES (?,?,?,?,?)`,
		rw.ID, rw.Title, nullable(rw.Description), rw.Cost, rw.CreatedAt)
	return err
}

func (r Repo) GetReward(ctx context.Context, id string) (domain.Reward, error) {
	var rw domain.Reward
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,cost,created_at FROM rewards WHERE id=?`, id).
		Scan(&rw.ID, &rw.Title, &desc, &rw.Cost, &rw.CreatedAt)
	if err == sql.ErrNoRows {
		return rw, ErrNotFound
	}
	if desc.Valid {
		rw.Description = desc.String
	}
	return rw, err
}

func (r Repo) ListRewards(ctx context.Context) ([]domain.Reward, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,title,description,cost,created_at FROM rewards ORDER BY cost ASC, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reward
	for rows.Next() {
		var rw domain.Reward
		var desc sql.NullString
		if err := rows.Scan(&rw.ID, &rw.Title, &desc, &rw.Cost, &rw.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			rw.Description = desc.String
		}
		res = append(res, rw)
	}
	return res, rows.Err()
}

func (r Repo) DeleteReward(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM rewards WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
