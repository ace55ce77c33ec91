package repositories

import (
	"context"
)

// SyncTx is one sync cycle's unit of work. Nothing written through its
// repositories is visible to readers until Commit succeeds.
type SyncTx interface {
	Positions() PositionRepository
	Locks() LockRepository
	Checkpoints() CheckpointRepository
	Tokens() TokenRepository

	Commit() error
	Rollback() error
}

// SyncStore opens sync transactions
type SyncStore interface {
	Begin(ctx context.Context) (SyncTx, error)
}
