package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bountyline/internal/config"
	"bountyline/internal/repo"
)

// ResolveConfig loads the workspace configuration, seeding it into the
// database on first use. A bountyline.yml next to the workspace takes
// precedence over the built-in defaults when seeding; after that the DB
// row is authoritative until `bl config import` replaces it.
func ResolveConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	seed := config.Default()
	if path := config.Path(workspace); path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			seed, err = config.FromFile(path)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	if err := r.UpsertConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	if actorID != "" {
		now := time.Now().UTC().Format(time.RFC3339)
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()
		if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	}
	return seed, nil
}
