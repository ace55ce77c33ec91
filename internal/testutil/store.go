package testutil

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
)

// ErrTxDone is returned by a MemoryStore transaction used after Commit or Rollback
var ErrTxDone = errors.New("transaction already finished")

type positionKey struct{ token, account string }

type lockedKey struct{ token, lock, account string }

type memState struct {
	tokens      []entities.Token
	positions   map[positionKey]*entities.Position
	checkpoints map[string]uint64
	locks       []entities.LockEvent
	unlocks     []entities.UnlockEvent
	locked      map[lockedKey]entities.LockedPosition
}

func newMemState() *memState {
	return &memState{
		positions:   make(map[positionKey]*entities.Position),
		checkpoints: make(map[string]uint64),
		locked:      make(map[lockedKey]entities.LockedPosition),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.tokens = append(c.tokens, s.tokens...)
	for k, p := range s.positions {
		cp := *entities.NewPosition(p.TokenAddress, p.AccountAddress, entities.PositionUpdate{
			Balance:            p.Balance,
			PendingTransfer:    p.PendingTransfer,
			ExchangeBalance:    p.ExchangeBalance,
			ExchangeCommitment: p.ExchangeCommitment,
		})
		cp.CreatedAt, cp.ModifiedAt = p.CreatedAt, p.ModifiedAt
		c.positions[k] = &cp
	}
	for k, v := range s.checkpoints {
		c.checkpoints[k] = v
	}
	c.locks = append(c.locks, s.locks...)
	c.unlocks = append(c.unlocks, s.unlocks...)
	for k, v := range s.locked {
		c.locked[k] = v
	}
	return c
}

// MemoryStore is an in-memory repositories.SyncStore. A transaction works on
// a private copy that replaces the committed state on Commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState

	// Error injection keyed by operation, e.g. "Begin", "Commit",
	// "Positions.Create", "Checkpoints.Set", "Locks.InsertLock"
	failures map[string]error

	Commits   int
	Rollbacks int
}

// Ensure MemoryStore implements SyncStore
var _ repositories.SyncStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:    newMemState(),
		failures: make(map[string]error),
	}
}

// FailOn makes op return err until cleared with a nil err
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemoryStore) failure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[op]
}

func (m *MemoryStore) Begin(ctx context.Context) (repositories.SyncTx, error) {
	if err := m.failure("Begin"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{store: m, state: m.state.clone()}, nil
}

// AddToken registers a token row
func (m *MemoryStore) AddToken(token entities.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token.Status == "" {
		token.Status = entities.TokenStatusActive
	}
	m.state.tokens = append(m.state.tokens, token)
}

// Token returns the committed token row at address
func (m *MemoryStore) Token(address common.Address) (entities.Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.state.tokens {
		if common.HexToAddress(t.TokenAddress) == address {
			return t, true
		}
	}
	return entities.Token{}, false
}

// SetPosition seeds a committed position
func (m *MemoryStore) SetPosition(token, account common.Address, balance, pending, exchangeBalance, commitment int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := entities.NewPosition(token.Hex(), account.Hex(), entities.PositionUpdate{
		Balance:            big.NewInt(balance),
		PendingTransfer:    big.NewInt(pending),
		ExchangeBalance:    big.NewInt(exchangeBalance),
		ExchangeCommitment: big.NewInt(commitment),
	})
	p.CreatedAt, p.ModifiedAt = time.Now(), time.Now()
	m.state.positions[positionKey{token.Hex(), account.Hex()}] = p
}

// Position returns the committed position, nil if absent
func (m *MemoryStore) Position(token, account common.Address) *entities.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.positions[positionKey{token.Hex(), account.Hex()}]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// PositionCount returns the number of committed position rows
func (m *MemoryStore) PositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.positions)
}

// Checkpoint returns the committed checkpoint of a token type
func (m *MemoryStore) Checkpoint(tokenType string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.checkpoints[tokenType]
}

// SetCheckpoint seeds the committed checkpoint of a token type
func (m *MemoryStore) SetCheckpoint(tokenType string, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.checkpoints[tokenType] = block
}

// LockRecords returns committed lock records
func (m *MemoryStore) LockRecords() []entities.LockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.LockEvent(nil), m.state.locks...)
}

// UnlockRecords returns committed unlock records
func (m *MemoryStore) UnlockRecords() []entities.UnlockEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.UnlockEvent(nil), m.state.unlocks...)
}

// LockedPosition returns the committed locked amount, nil if absent
func (m *MemoryStore) LockedPosition(token, lock, account common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.locked[lockedKey{token.Hex(), lock.Hex(), account.Hex()}]
	if !ok {
		return nil
	}
	return l.Value
}

// PositionQueryRepo reads committed positions
func (m *MemoryStore) PositionQueryRepo() repositories.PositionQueryRepository {
	return &memQueries{store: m}
}

// LockQueryRepo reads committed locked positions
func (m *MemoryStore) LockQueryRepo() repositories.LockQueryRepository {
	return &memQueries{store: m}
}

// CheckpointRepo reads and writes committed checkpoints
func (m *MemoryStore) CheckpointRepo() repositories.CheckpointRepository {
	return &memCheckpoints{store: m, state: func() *memState { return m.state }, locked: true}
}

type memTx struct {
	store *MemoryStore
	state *memState
	done  bool
}

func (t *memTx) Positions() repositories.PositionRepository { return &memPositions{tx: t} }
func (t *memTx) Locks() repositories.LockRepository         { return &memLocks{tx: t} }
func (t *memTx) Tokens() repositories.TokenRepository       { return &memTokens{tx: t} }

func (t *memTx) Checkpoints() repositories.CheckpointRepository {
	return &memCheckpoints{store: t.store, state: func() *memState { return t.state }, tx: t}
}

func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	if err := t.store.failure("Commit"); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.state = t.state
	t.store.Commits++
	t.done = true
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.Rollbacks++
	t.done = true
	return nil
}

func (t *memTx) check(op string) error {
	if t.done {
		return ErrTxDone
	}
	return t.store.failure(op)
}

type memPositions struct{ tx *memTx }

func (r *memPositions) Get(ctx context.Context, tokenAddress, accountAddress string) (*entities.Position, error) {
	if err := r.tx.check("Positions.Get"); err != nil {
		return nil, err
	}
	p, ok := r.tx.state.positions[positionKey{tokenAddress, accountAddress}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memPositions) Create(ctx context.Context, position *entities.Position) error {
	if err := r.tx.check("Positions.Create"); err != nil {
		return err
	}
	key := positionKey{position.TokenAddress, position.AccountAddress}
	if _, ok := r.tx.state.positions[key]; ok {
		return errors.New("duplicate key value violates unique constraint")
	}
	cp := *position
	cp.CreatedAt, cp.ModifiedAt = time.Now(), time.Now()
	r.tx.state.positions[key] = &cp
	return nil
}

func (r *memPositions) Update(ctx context.Context, tokenAddress, accountAddress string, update entities.PositionUpdate) error {
	if err := r.tx.check("Positions.Update"); err != nil {
		return err
	}
	p, ok := r.tx.state.positions[positionKey{tokenAddress, accountAddress}]
	if !ok {
		return nil
	}
	p.Apply(update)
	p.ModifiedAt = time.Now()
	return nil
}

type memLocks struct{ tx *memTx }

func (r *memLocks) InsertLock(ctx context.Context, event *entities.LockEvent) error {
	if err := r.tx.check("Locks.InsertLock"); err != nil {
		return err
	}
	for _, l := range r.tx.state.locks {
		if l.TransactionHash == event.TransactionHash && l.LogIndex == event.LogIndex {
			return nil
		}
	}
	r.tx.state.locks = append(r.tx.state.locks, *event)
	return nil
}

func (r *memLocks) InsertUnlock(ctx context.Context, event *entities.UnlockEvent) error {
	if err := r.tx.check("Locks.InsertUnlock"); err != nil {
		return err
	}
	for _, u := range r.tx.state.unlocks {
		if u.TransactionHash == event.TransactionHash && u.LogIndex == event.LogIndex {
			return nil
		}
	}
	r.tx.state.unlocks = append(r.tx.state.unlocks, *event)
	return nil
}

func (r *memLocks) UpsertLockedPosition(ctx context.Context, position *entities.LockedPosition) error {
	if err := r.tx.check("Locks.UpsertLockedPosition"); err != nil {
		return err
	}
	cp := *position
	cp.ModifiedAt = time.Now()
	r.tx.state.locked[lockedKey{position.TokenAddress, position.LockAddress, position.AccountAddress}] = cp
	return nil
}

type memTokens struct{ tx *memTx }

func (r *memTokens) ListActiveByType(ctx context.Context, tokenType string) ([]entities.Token, error) {
	if err := r.tx.check("Tokens.ListActiveByType"); err != nil {
		return nil, err
	}
	var out []entities.Token
	for _, t := range r.tx.state.tokens {
		if t.Type == tokenType && t.Status == entities.TokenStatusActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTokens) MarkInitialPositionSynced(ctx context.Context, tokenAddress string) error {
	if err := r.tx.check("Tokens.MarkInitialPositionSynced"); err != nil {
		return err
	}
	for i := range r.tx.state.tokens {
		if r.tx.state.tokens[i].TokenAddress == tokenAddress {
			r.tx.state.tokens[i].InitialPositionSynced = true
		}
	}
	return nil
}

// memCheckpoints serves both a transaction and the committed state
type memCheckpoints struct {
	store  *MemoryStore
	state  func() *memState
	tx     *memTx
	locked bool
}

func (r *memCheckpoints) Get(ctx context.Context, tokenType string) (uint64, error) {
	if err := r.check("Checkpoints.Get"); err != nil {
		return 0, err
	}
	if r.locked {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
	}
	return r.state().checkpoints[tokenType], nil
}

func (r *memCheckpoints) Set(ctx context.Context, tokenType string, blockNumber uint64) error {
	if err := r.check("Checkpoints.Set"); err != nil {
		return err
	}
	if r.locked {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
	}
	r.state().checkpoints[tokenType] = blockNumber
	return nil
}

func (r *memCheckpoints) check(op string) error {
	if r.tx != nil {
		return r.tx.check(op)
	}
	return r.store.failure(op)
}

// memQueries answers the read side from committed state
type memQueries struct{ store *MemoryStore }

func (q *memQueries) accountPositions(accountAddress string, includeFormer bool) []entities.Position {
	var out []entities.Position
	for _, p := range q.store.state.positions {
		if p.AccountAddress != accountAddress {
			continue
		}
		if !includeFormer && p.IsFormer() {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenAddress < out[j].TokenAddress })
	return out
}

func (q *memQueries) ListByAccount(ctx context.Context, accountAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
	if err := q.store.failure("Queries.ListByAccount"); err != nil {
		return nil, err
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()

	all := q.accountPositions(accountAddress, includeFormer)
	if offset > len(all) {
		return []entities.Position{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (q *memQueries) CountByAccount(ctx context.Context, accountAddress string, includeFormer bool) (int64, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return int64(len(q.accountPositions(accountAddress, includeFormer))), nil
}

func (q *memQueries) tokenPositions(tokenAddress string, includeFormer bool) []entities.Position {
	var out []entities.Position
	for _, p := range q.store.state.positions {
		if p.TokenAddress != tokenAddress {
			continue
		}
		if !includeFormer && p.IsFormer() {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Balance.Cmp(out[j].Balance); c != 0 {
			return c > 0
		}
		return out[i].AccountAddress < out[j].AccountAddress
	})
	return out
}

func (q *memQueries) ListByToken(ctx context.Context, tokenAddress string, includeFormer bool, limit, offset int) ([]entities.Position, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()

	all := q.tokenPositions(tokenAddress, includeFormer)
	if offset > len(all) {
		return []entities.Position{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (q *memQueries) CountByToken(ctx context.Context, tokenAddress string, includeFormer bool) (int64, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return int64(len(q.tokenPositions(tokenAddress, includeFormer))), nil
}

func (q *memQueries) GetByAccountAndToken(ctx context.Context, accountAddress, tokenAddress string) (*entities.Position, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	p, ok := q.store.state.positions[positionKey{tokenAddress, accountAddress}]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (q *memQueries) ListLockedPositions(ctx context.Context, accountAddress, tokenAddress string) ([]entities.LockedPosition, error) {
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	var out []entities.LockedPosition
	for k, v := range q.store.state.locked {
		if k.account == accountAddress && k.token == tokenAddress {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockAddress < out[j].LockAddress })
	return out, nil
}
