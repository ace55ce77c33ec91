package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// Ensure TokenRepo implements TokenRepository
var _ repositories.TokenRepository = (*TokenRepo)(nil)

// TokenRepo implements TokenRepository using PostgreSQL
type TokenRepo struct {
	db sqlx.ExtContext
}

// NewTokenRepo creates a new token repository
func NewTokenRepo(db sqlx.ExtContext) *TokenRepo {
	return &TokenRepo{db: db}
}

// ListActiveByType retrieves active tokens of one type
func (r *TokenRepo) ListActiveByType(ctx context.Context, tokenType string) ([]entities.Token, error) {
	query, args, err := psql.Select(
		"token_address", "issuer_address", "type", "status", "abi", "initial_position_synced", "created",
	).
		From("token").
		Where(sq.Eq{"type": tokenType, "status": entities.TokenStatusActive}).
		OrderBy("created", "token_address").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var tokens []entities.Token
	if err := sqlx.SelectContext(ctx, r.db, &tokens, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	return tokens, nil
}

// MarkInitialPositionSynced flags a token whose issuer position was loaded
func (r *TokenRepo) MarkInitialPositionSynced(ctx context.Context, tokenAddress string) error {
	query, args, err := psql.Update("token").
		Set("initial_position_synced", true).
		Where(sq.Eq{"token_address": tokenAddress}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark initial position synced: %w", err)
	}

	return nil
}
