package repositories

import (
	"context"

	"github.com/bimakw/position-indexer/internal/domain/entities"
)

// LockRepository defines the write side of lock records and locked positions
type LockRepository interface {
	// InsertLock appends a lock record; replays of the same log are ignored
	InsertLock(ctx context.Context, event *entities.LockEvent) error

	// InsertUnlock appends an unlock record; replays of the same log are ignored
	InsertUnlock(ctx context.Context, event *entities.UnlockEvent) error

	// UpsertLockedPosition stores the current locked amount
	UpsertLockedPosition(ctx context.Context, position *entities.LockedPosition) error
}

// LockQueryRepository defines the read side used by the API
type LockQueryRepository interface {
	// ListLockedPositions retrieves locked positions of an account for one token
	ListLockedPositions(ctx context.Context, accountAddress, tokenAddress string) ([]entities.LockedPosition, error)
}
