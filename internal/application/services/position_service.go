package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
	"github.com/bimakw/position-indexer/internal/infrastructure/cache"
)

// PositionService provides read access to indexed positions
type PositionService struct {
	positions   repositories.PositionQueryRepository
	locks       repositories.LockQueryRepository
	checkpoints repositories.CheckpointRepository
	cache       *cache.RedisCache
	logger      *zap.Logger
}

// NewPositionService creates a new position service. cache may be nil.
func NewPositionService(
	positions repositories.PositionQueryRepository,
	locks repositories.LockQueryRepository,
	checkpoints repositories.CheckpointRepository,
	cache *cache.RedisCache,
	logger *zap.Logger,
) *PositionService {
	return &PositionService{
		positions:   positions,
		locks:       locks,
		checkpoints: checkpoints,
		cache:       cache,
		logger:      logger,
	}
}

// PositionDTO is the API representation of a position. Amounts are decimal
// strings in the token's smallest unit.
type PositionDTO struct {
	TokenAddress       string `json:"token_address"`
	AccountAddress     string `json:"account_address"`
	Balance            string `json:"balance"`
	PendingTransfer    string `json:"pending_transfer"`
	ExchangeBalance    string `json:"exchange_balance"`
	ExchangeCommitment string `json:"exchange_commitment"`
	ModifiedAt         string `json:"modified_at,omitempty"`
}

// PositionListResponse is a page of an account's positions
type PositionListResponse struct {
	Data       []PositionDTO `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// Pagination describes the page returned in a list response
type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// PositionResponse wraps one position
type PositionResponse struct {
	Data PositionDTO `json:"data"`
}

// LockedPositionDTO is what an account has locked to one lock address
type LockedPositionDTO struct {
	LockAddress string `json:"lock_address"`
	Value       string `json:"value"`
	ModifiedAt  string `json:"modified_at,omitempty"`
}

// LockedPositionsResponse lists an account's locked positions in one token
type LockedPositionsResponse struct {
	TokenAddress   string              `json:"token_address"`
	AccountAddress string              `json:"account_address"`
	Data           []LockedPositionDTO `json:"data"`
}

// CheckpointResponse is the sync progress of one token type
type CheckpointResponse struct {
	TokenType         string `json:"token_type"`
	LatestBlockNumber uint64 `json:"latest_block_number"`
}

// PositionQuery selects a page of an account's positions
type PositionQuery struct {
	AccountAddress string
	IncludeFormer  bool
	Limit          int
	Offset         int
}

// GetPositions lists an account's positions ordered by token address
func (s *PositionService) GetPositions(ctx context.Context, q PositionQuery) (*PositionListResponse, error) {
	account := normalizeAddress(q.AccountAddress)
	cacheKey := cache.PositionsKey(account, q.IncludeFormer, q.Limit, q.Offset)

	var cached PositionListResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	positions, err := s.positions.ListByAccount(ctx, account, q.IncludeFormer, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	total, err := s.positions.CountByAccount(ctx, account, q.IncludeFormer)
	if err != nil {
		return nil, fmt.Errorf("failed to count positions: %w", err)
	}

	dtos := make([]PositionDTO, len(positions))
	for i := range positions {
		dtos[i] = toPositionDTO(&positions[i])
	}

	response := &PositionListResponse{
		Data: dtos,
		Pagination: Pagination{
			Total:   total,
			Limit:   q.Limit,
			Offset:  q.Offset,
			HasMore: int64(q.Offset+len(positions)) < total,
		},
	}

	s.cacheSet(ctx, cacheKey, response)
	return response, nil
}

// GetPosition returns one position, nil if the account never held the token
func (s *PositionService) GetPosition(ctx context.Context, accountAddress, tokenAddress string) (*PositionResponse, error) {
	account, token := normalizeAddress(accountAddress), normalizeAddress(tokenAddress)
	cacheKey := cache.PositionKey(account, token)

	var cached PositionResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	position, err := s.positions.GetByAccountAndToken(ctx, account, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	if position == nil {
		return nil, nil
	}

	response := &PositionResponse{Data: toPositionDTO(position)}
	s.cacheSet(ctx, cacheKey, response)
	return response, nil
}

// GetLockedPositions lists the amounts an account has locked in one token
func (s *PositionService) GetLockedPositions(ctx context.Context, accountAddress, tokenAddress string) (*LockedPositionsResponse, error) {
	account, token := normalizeAddress(accountAddress), normalizeAddress(tokenAddress)
	cacheKey := cache.LockedPositionsKey(account, token)

	var cached LockedPositionsResponse
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	locked, err := s.locks.ListLockedPositions(ctx, account, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list locked positions: %w", err)
	}

	dtos := make([]LockedPositionDTO, len(locked))
	for i, l := range locked {
		dtos[i] = LockedPositionDTO{
			LockAddress: l.LockAddress,
			Value:       amountString(l.Value),
			ModifiedAt:  formatTime(l.ModifiedAt),
		}
	}

	response := &LockedPositionsResponse{
		TokenAddress:   token,
		AccountAddress: account,
		Data:           dtos,
	}
	s.cacheSet(ctx, cacheKey, response)
	return response, nil
}

// GetCheckpoint returns the latest synced block of a token type
func (s *PositionService) GetCheckpoint(ctx context.Context, tokenType string) (*CheckpointResponse, error) {
	block, err := s.checkpoints.Get(ctx, tokenType)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return &CheckpointResponse{TokenType: tokenType, LatestBlockNumber: block}, nil
}

func (s *PositionService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	if err := s.cache.Get(ctx, key, dest); err != nil {
		return false
	}
	s.logger.Debug("Cache hit", zap.String("key", key))
	return true
}

func (s *PositionService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.Warn("Failed to cache response", zap.Error(err))
	}
}

func toPositionDTO(p *entities.Position) PositionDTO {
	return PositionDTO{
		TokenAddress:       p.TokenAddress,
		AccountAddress:     p.AccountAddress,
		Balance:            amountString(p.Balance),
		PendingTransfer:    amountString(p.PendingTransfer),
		ExchangeBalance:    amountString(p.ExchangeBalance),
		ExchangeCommitment: amountString(p.ExchangeCommitment),
		ModifiedAt:         formatTime(p.ModifiedAt),
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// normalizeAddress renders addr in the checksummed form positions are stored in
func normalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
