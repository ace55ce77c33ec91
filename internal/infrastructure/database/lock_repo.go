package database

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// Ensure LockRepo implements the lock repositories
var (
	_ repositories.LockRepository      = (*LockRepo)(nil)
	_ repositories.LockQueryRepository = (*LockRepo)(nil)
)

// LockRepo implements the lock repositories using PostgreSQL
type LockRepo struct {
	db sqlx.ExtContext
}

// NewLockRepo creates a new lock repository
func NewLockRepo(db sqlx.ExtContext) *LockRepo {
	return &LockRepo{db: db}
}

func jsonData(data []byte) string {
	if len(data) == 0 {
		return "{}"
	}
	return string(data)
}

// InsertLock appends a lock record; replays of the same log are ignored
func (r *LockRepo) InsertLock(ctx context.Context, event *entities.LockEvent) error {
	query, args, err := psql.Insert("idx_lock").
		Columns(
			"transaction_hash", "log_index", "msg_sender", "block_number", "token_address",
			"lock_address", "account_address", "value", "data", "block_timestamp",
		).
		Values(
			event.TransactionHash, int64(event.LogIndex), event.MsgSender, int64(event.BlockNumber), event.TokenAddress,
			event.LockAddress, event.AccountAddress, event.Value.String(), jsonData(event.Data), event.BlockTimestamp,
		).
		Suffix("ON CONFLICT (transaction_hash, log_index) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert lock: %w", err)
	}

	return nil
}

// InsertUnlock appends an unlock record; replays of the same log are ignored
func (r *LockRepo) InsertUnlock(ctx context.Context, event *entities.UnlockEvent) error {
	query, args, err := psql.Insert("idx_unlock").
		Columns(
			"transaction_hash", "log_index", "msg_sender", "block_number", "token_address",
			"lock_address", "account_address", "recipient_address", "value", "data", "block_timestamp",
		).
		Values(
			event.TransactionHash, int64(event.LogIndex), event.MsgSender, int64(event.BlockNumber), event.TokenAddress,
			event.LockAddress, event.AccountAddress, event.RecipientAddress, event.Value.String(), jsonData(event.Data), event.BlockTimestamp,
		).
		Suffix("ON CONFLICT (transaction_hash, log_index) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert unlock: %w", err)
	}

	return nil
}

// UpsertLockedPosition stores the current locked amount
func (r *LockRepo) UpsertLockedPosition(ctx context.Context, position *entities.LockedPosition) error {
	query, args, err := psql.Insert("idx_locked_position").
		Columns("token_address", "lock_address", "account_address", "value").
		Values(position.TokenAddress, position.LockAddress, position.AccountAddress, position.Value.String()).
		Suffix("ON CONFLICT (token_address, lock_address, account_address) DO UPDATE SET value = EXCLUDED.value, modified = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert locked position: %w", err)
	}

	return nil
}

type lockedPositionRow struct {
	TokenAddress   string    `db:"token_address"`
	LockAddress    string    `db:"lock_address"`
	AccountAddress string    `db:"account_address"`
	Value          string    `db:"value"`
	Modified       time.Time `db:"modified"`
}

// ListLockedPositions retrieves locked positions of an account for one token
func (r *LockRepo) ListLockedPositions(ctx context.Context, accountAddress, tokenAddress string) ([]entities.LockedPosition, error) {
	query, args, err := psql.Select("token_address", "lock_address", "account_address", "value", "modified").
		From("idx_locked_position").
		Where(sq.Eq{"account_address": accountAddress, "token_address": tokenAddress}).
		OrderBy("lock_address").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []lockedPositionRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list locked positions: %w", err)
	}

	positions := make([]entities.LockedPosition, 0, len(rows))
	for _, row := range rows {
		value, err := parseAmount("value", row.Value)
		if err != nil {
			return nil, err
		}
		positions = append(positions, entities.LockedPosition{
			TokenAddress:   row.TokenAddress,
			LockAddress:    row.LockAddress,
			AccountAddress: row.AccountAddress,
			Value:          value,
			ModifiedAt:     row.Modified,
		})
	}

	return positions, nil
}
