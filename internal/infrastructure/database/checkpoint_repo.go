package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// Ensure CheckpointRepo implements CheckpointRepository
var _ repositories.CheckpointRepository = (*CheckpointRepo)(nil)

// CheckpointRepo implements CheckpointRepository using PostgreSQL
type CheckpointRepo struct {
	db sqlx.ExtContext
}

// NewCheckpointRepo creates a new checkpoint repository
func NewCheckpointRepo(db sqlx.ExtContext) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

// Get returns the latest fully processed block, or 0 if none is stored
func (r *CheckpointRepo) Get(ctx context.Context, tokenType string) (uint64, error) {
	query, args, err := psql.Select("latest_block_number").
		From("idx_position_block_number").
		Where(sq.Eq{"token_type": tokenType}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var blockNumber int64
	if err := sqlx.GetContext(ctx, r.db, &blockNumber, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return uint64(blockNumber), nil
}

// Set upserts the checkpoint row for a token type
func (r *CheckpointRepo) Set(ctx context.Context, tokenType string, blockNumber uint64) error {
	query, args, err := psql.Insert("idx_position_block_number").
		Columns("token_type", "latest_block_number").
		Values(tokenType, int64(blockNumber)).
		Suffix("ON CONFLICT (token_type) DO UPDATE SET latest_block_number = EXCLUDED.latest_block_number, modified = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}

	return nil
}
