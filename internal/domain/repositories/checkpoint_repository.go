package repositories

import (
	"context"
)

// CheckpointRepository defines the interface for the per-token-type sync checkpoint
type CheckpointRepository interface {
	// Get returns the latest fully processed block, or 0 if none is stored
	Get(ctx context.Context, tokenType string) (uint64, error)

	// Set upserts the checkpoint row for a token type
	Set(ctx context.Context, tokenType string, blockNumber uint64) error
}
