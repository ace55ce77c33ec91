package repositories

import (
	"context"

	"github.com/bimakw/position-indexer/internal/domain/entities"
)

// PositionRepository defines the write side of idx_position
type PositionRepository interface {
	// Get retrieves a position, nil if the row does not exist
	Get(ctx context.Context, tokenAddress, accountAddress string) (*entities.Position, error)

	// Create inserts a new position row
	Create(ctx context.Context, position *entities.Position) error

	// Update applies only the supplied fields of an update to an existing row
	Update(ctx context.Context, tokenAddress, accountAddress string, update entities.PositionUpdate) error
}

// PositionQueryRepository defines the read side used by the API
type PositionQueryRepository interface {
	// ListByAccount retrieves positions of an account ordered by token address
	ListByAccount(ctx context.Context, accountAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error)

	// CountByAccount returns the number of positions ListByAccount would page over
	CountByAccount(ctx context.Context, accountAddress string, includeFormer bool) (int64, error)

	// GetByAccountAndToken retrieves one position, nil if absent
	GetByAccountAndToken(ctx context.Context, accountAddress, tokenAddress string) (*entities.Position, error)

	// ListByToken retrieves the holders of a token, largest balance first
	ListByToken(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error)

	// CountByToken returns the number of positions ListByToken would page over
	CountByToken(ctx context.Context, tokenAddress string, includeFormer bool) (int64, error)
}
