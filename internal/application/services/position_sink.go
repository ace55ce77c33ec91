package services

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// PositionSink writes resolved values into idx_position. Existing rows get
// the supplied fields only; a missing row is created only when some supplied
// field is above zero.
type PositionSink struct {
	positions repositories.PositionRepository
	touched   map[string]struct{}
}

// NewPositionSink creates a sink writing through positions
func NewPositionSink(positions repositories.PositionRepository) *PositionSink {
	return &PositionSink{
		positions: positions,
		touched:   make(map[string]struct{}),
	}
}

// Upsert applies update to the (token, account) position
func (s *PositionSink) Upsert(ctx context.Context, token, account common.Address, update entities.PositionUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	tokenAddress, accountAddress := token.Hex(), account.Hex()

	existing, err := s.positions.Get(ctx, tokenAddress, accountAddress)
	if err != nil {
		return storageError("get position", err)
	}

	if existing != nil {
		if err := s.positions.Update(ctx, tokenAddress, accountAddress, update); err != nil {
			return storageError("update position", err)
		}
	} else {
		if !update.HasPositive() {
			return nil
		}
		if err := s.positions.Create(ctx, entities.NewPosition(tokenAddress, accountAddress, update)); err != nil {
			return storageError("create position", err)
		}
	}

	s.touched[accountAddress] = struct{}{}
	return nil
}

// TouchedAccounts lists accounts whose position was written, sorted
func (s *PositionSink) TouchedAccounts() []string {
	accounts := make([]string, 0, len(s.touched))
	for account := range s.touched {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}
