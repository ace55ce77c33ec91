package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/domain/repositories"
	"github.com/bimakw/position-indexer/internal/infrastructure/cache"
)

// Holder lists are not keyed by account, so the indexer cannot invalidate
// them; they expire quickly instead.
const holdersCacheTTL = 15 * time.Second

// HoldersService lists the accounts holding a token
type HoldersService struct {
	positions repositories.PositionQueryRepository
	cache     *cache.RedisCache
	logger    *zap.Logger
}

// NewHoldersService creates a new holders service. cache may be nil.
func NewHoldersService(
	positions repositories.PositionQueryRepository,
	cache *cache.RedisCache,
	logger *zap.Logger,
) *HoldersService {
	return &HoldersService{
		positions: positions,
		cache:     cache,
		logger:    logger,
	}
}

// HolderDTO is one account's position in a token, ranked by balance
type HolderDTO struct {
	Rank int `json:"rank"`
	PositionDTO
}

// HoldersResponse is a page of a token's holders
type HoldersResponse struct {
	TokenAddress string      `json:"token_address"`
	Data         []HolderDTO `json:"data"`
	Pagination   Pagination  `json:"pagination"`
}

// HoldersQuery selects a page of a token's holders
type HoldersQuery struct {
	TokenAddress  string
	IncludeFormer bool
	Limit         int
	Offset        int
}

// GetHolders lists the holders of a token, largest balance first
func (s *HoldersService) GetHolders(ctx context.Context, q HoldersQuery) (*HoldersResponse, error) {
	token := normalizeAddress(q.TokenAddress)
	cacheKey := cache.HoldersKey(token, q.IncludeFormer, q.Limit, q.Offset)

	var cached HoldersResponse
	if s.cache != nil {
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			s.logger.Debug("Cache hit", zap.String("key", cacheKey))
			return &cached, nil
		}
	}

	positions, err := s.positions.ListByToken(ctx, token, q.IncludeFormer, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list holders: %w", err)
	}

	total, err := s.positions.CountByToken(ctx, token, q.IncludeFormer)
	if err != nil {
		return nil, fmt.Errorf("failed to count holders: %w", err)
	}

	data := make([]HolderDTO, len(positions))
	for i := range positions {
		data[i] = HolderDTO{
			Rank:        q.Offset + i + 1,
			PositionDTO: toPositionDTO(&positions[i]),
		}
	}

	response := &HoldersResponse{
		TokenAddress: token,
		Data:         data,
		Pagination: Pagination{
			Total:   total,
			Limit:   q.Limit,
			Offset:  q.Offset,
			HasMore: int64(q.Offset+len(positions)) < total,
		},
	}

	if s.cache != nil {
		if err := s.cache.SetWithTTL(ctx, cacheKey, response, holdersCacheTTL); err != nil {
			s.logger.Warn("Failed to cache response", zap.Error(err))
		}
	}

	return response, nil
}
