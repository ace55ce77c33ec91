package database

import (
	"context"
	"fmt"
	"math/big"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// psql builds statements with PostgreSQL placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Ensure Store implements SyncStore
var _ repositories.SyncStore = (*Store)(nil)

// Store opens sync transactions on PostgreSQL
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Begin starts a sync transaction
func (s *Store) Begin(ctx context.Context) (repositories.SyncTx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &syncTx{tx: tx}, nil
}

type syncTx struct {
	tx *sqlx.Tx
}

func (t *syncTx) Positions() repositories.PositionRepository     { return NewPositionRepo(t.tx) }
func (t *syncTx) Locks() repositories.LockRepository             { return NewLockRepo(t.tx) }
func (t *syncTx) Checkpoints() repositories.CheckpointRepository { return NewCheckpointRepo(t.tx) }
func (t *syncTx) Tokens() repositories.TokenRepository           { return NewTokenRepo(t.tx) }

func (t *syncTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *syncTx) Rollback() error {
	return t.tx.Rollback()
}

func parseAmount(column, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s amount %q", column, s)
	}
	return v, nil
}
