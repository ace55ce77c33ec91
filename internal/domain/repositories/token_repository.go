package repositories

import (
	"context"

	"github.com/bimakw/position-indexer/internal/domain/entities"
)

// TokenRepository defines the interface for reading the token registry
type TokenRepository interface {
	// ListActiveByType retrieves active tokens of one type
	ListActiveByType(ctx context.Context, tokenType string) ([]entities.Token, error)

	// MarkInitialPositionSynced flags a token whose issuer position was loaded
	MarkInitialPositionSynced(ctx context.Context, tokenAddress string) error
}
