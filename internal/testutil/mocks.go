package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

type MockCall struct {
	Method string
	Args   []interface{}
}

// MockPositionQueryRepository is a mock implementation of PositionQueryRepository
type MockPositionQueryRepository struct {
	mu        sync.RWMutex
	positions []entities.Position

	// Function hooks for custom behavior
	ListByAccountFunc        func(ctx context.Context, accountAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error)
	CountByAccountFunc       func(ctx context.Context, accountAddress string, includeFormer bool) (int64, error)
	GetByAccountAndTokenFunc func(ctx context.Context, accountAddress, tokenAddress string) (*entities.Position, error)
	ListByTokenFunc          func(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error)

	// Call tracking
	Calls []MockCall
}

var _ repositories.PositionQueryRepository = (*MockPositionQueryRepository)(nil)

func NewMockPositionQueryRepository() *MockPositionQueryRepository {
	return &MockPositionQueryRepository{
		positions: make([]entities.Position, 0),
		Calls:     make([]MockCall, 0),
	}
}

func (m *MockPositionQueryRepository) track(method string, args ...interface{}) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
	m.mu.Unlock()
}

func (m *MockPositionQueryRepository) filter(match func(p *entities.Position) bool, includeFormer bool) []entities.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]entities.Position, 0)
	for i := range m.positions {
		p := m.positions[i]
		if !match(&p) {
			continue
		}
		if !includeFormer && p.IsFormer() {
			continue
		}
		result = append(result, p)
	}
	return result
}

func (m *MockPositionQueryRepository) ListByAccount(ctx context.Context, accountAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
	m.track("ListByAccount", accountAddress, includeFormer, limit, offset)

	if m.ListByAccountFunc != nil {
		return m.ListByAccountFunc(ctx, accountAddress, includeFormer, limit, offset)
	}

	result := m.filter(byAccount(accountAddress), includeFormer)
	return paginate(result, limit, offset), nil
}

func paginate(result []entities.Position, limit, offset int) []entities.Position {
	start := offset
	if start > len(result) {
		return []entities.Position{}
	}
	end := start + limit
	if end > len(result) {
		end = len(result)
	}
	return result[start:end]
}

func byAccount(accountAddress string) func(p *entities.Position) bool {
	return func(p *entities.Position) bool { return p.AccountAddress == accountAddress }
}

func byToken(tokenAddress string) func(p *entities.Position) bool {
	return func(p *entities.Position) bool { return p.TokenAddress == tokenAddress }
}

func (m *MockPositionQueryRepository) CountByAccount(ctx context.Context, accountAddress string, includeFormer bool) (int64, error) {
	m.track("CountByAccount", accountAddress, includeFormer)

	if m.CountByAccountFunc != nil {
		return m.CountByAccountFunc(ctx, accountAddress, includeFormer)
	}
	return int64(len(m.filter(byAccount(accountAddress), includeFormer))), nil
}

func (m *MockPositionQueryRepository) GetByAccountAndToken(ctx context.Context, accountAddress, tokenAddress string) (*entities.Position, error) {
	m.track("GetByAccountAndToken", accountAddress, tokenAddress)

	if m.GetByAccountAndTokenFunc != nil {
		return m.GetByAccountAndTokenFunc(ctx, accountAddress, tokenAddress)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.positions {
		if p.AccountAddress == accountAddress && p.TokenAddress == tokenAddress {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockPositionQueryRepository) ListByToken(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
	m.track("ListByToken", tokenAddress, includeFormer, limit, offset)

	if m.ListByTokenFunc != nil {
		return m.ListByTokenFunc(ctx, tokenAddress, includeFormer, limit, offset)
	}

	result := m.filter(byToken(tokenAddress), includeFormer)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Balance.Cmp(result[j].Balance) > 0 })
	return paginate(result, limit, offset), nil
}

func (m *MockPositionQueryRepository) CountByToken(ctx context.Context, tokenAddress string, includeFormer bool) (int64, error) {
	m.track("CountByToken", tokenAddress, includeFormer)
	return int64(len(m.filter(byToken(tokenAddress), includeFormer))), nil
}

// AddPositions adds positions to the mock store
func (m *MockPositionQueryRepository) AddPositions(positions ...entities.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = append(m.positions, positions...)
}

// Reset clears all stored data and calls
func (m *MockPositionQueryRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make([]entities.Position, 0)
	m.Calls = make([]MockCall, 0)
}

// MockLockQueryRepository is a mock implementation of LockQueryRepository
type MockLockQueryRepository struct {
	mu     sync.RWMutex
	locked []entities.LockedPosition

	ListLockedPositionsFunc func(ctx context.Context, accountAddress, tokenAddress string) ([]entities.LockedPosition, error)

	Calls []MockCall
}

var _ repositories.LockQueryRepository = (*MockLockQueryRepository)(nil)

func NewMockLockQueryRepository() *MockLockQueryRepository {
	return &MockLockQueryRepository{
		locked: make([]entities.LockedPosition, 0),
		Calls:  make([]MockCall, 0),
	}
}

func (m *MockLockQueryRepository) ListLockedPositions(ctx context.Context, accountAddress, tokenAddress string) ([]entities.LockedPosition, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "ListLockedPositions", Args: []interface{}{accountAddress, tokenAddress}})
	m.mu.Unlock()

	if m.ListLockedPositionsFunc != nil {
		return m.ListLockedPositionsFunc(ctx, accountAddress, tokenAddress)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]entities.LockedPosition, 0)
	for _, l := range m.locked {
		if l.AccountAddress == accountAddress && l.TokenAddress == tokenAddress {
			result = append(result, l)
		}
	}
	return result, nil
}

// AddLockedPositions adds locked positions to the mock store
func (m *MockLockQueryRepository) AddLockedPositions(locked ...entities.LockedPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, locked...)
}

// MockCheckpointRepository is a mock implementation of CheckpointRepository
type MockCheckpointRepository struct {
	mu          sync.RWMutex
	checkpoints map[string]uint64

	GetFunc func(ctx context.Context, tokenType string) (uint64, error)
	SetFunc func(ctx context.Context, tokenType string, blockNumber uint64) error

	Calls []MockCall
}

var _ repositories.CheckpointRepository = (*MockCheckpointRepository)(nil)

func NewMockCheckpointRepository() *MockCheckpointRepository {
	return &MockCheckpointRepository{
		checkpoints: make(map[string]uint64),
		Calls:       make([]MockCall, 0),
	}
}

func (m *MockCheckpointRepository) Get(ctx context.Context, tokenType string) (uint64, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Get", Args: []interface{}{tokenType}})
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, tokenType)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[tokenType], nil
}

func (m *MockCheckpointRepository) Set(ctx context.Context, tokenType string, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "Set", Args: []interface{}{tokenType, blockNumber}})

	if m.SetFunc != nil {
		return m.SetFunc(ctx, tokenType, blockNumber)
	}

	m.checkpoints[tokenType] = blockNumber
	return nil
}

// MockHealthChecker is a mock implementation of HealthChecker
type MockHealthChecker struct {
	mu sync.RWMutex

	Healthy bool
	Error   error
	Calls   []MockCall
}

func NewMockHealthChecker(healthy bool) *MockHealthChecker {
	m := &MockHealthChecker{Calls: make([]MockCall, 0)}
	m.SetHealthy(healthy)
	return m
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: "HealthCheck", Args: nil})
	return m.Error
}

func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Healthy = healthy
	if healthy {
		m.Error = nil
	} else {
		m.Error = errors.New("connection refused")
	}
}
