package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/config"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
	"github.com/bimakw/position-indexer/internal/testutil"
)

const testZeroAddress = "0x0000000000000000000000000000000000000000"

func testIndexerConfig() config.IndexerConfig {
	return config.IndexerConfig{
		SyncInterval:    10 * time.Millisecond,
		BlockLotMaxSize: 1000,
		ZeroAddress:     testZeroAddress,
		TokenTypes:      []string{testutil.BondType},
	}
}

func newTestIndexer(chain *testutil.FakeChain, store *testutil.MemoryStore) *PositionIndexerService {
	return NewPositionIndexerService(testutil.BondType, store, chain, nil, testIndexerConfig(), zap.NewNop())
}

// newFixture registers one bond token whose issuer position is already loaded
func newFixture(t *testing.T) (*testutil.FakeChain, *testutil.MemoryStore, *PositionIndexerService) {
	t.Helper()
	chain := testutil.NewFakeChain()
	store := testutil.NewMemoryStore()
	store.AddToken(testutil.CreateTestToken(testutil.BondToken, testutil.WithInitialPositionSynced()))
	return chain, store, newTestIndexer(chain, store)
}

func syncOnce(t *testing.T, indexer *PositionIndexerService) *CycleResult {
	t.Helper()
	result, err := indexer.SyncNewLogs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func amount(n int64) *big.Int {
	return big.NewInt(n)
}

var zeroAddr = common.Address{}

func emitIssue(chain *testutil.FakeChain, token, target common.Address, block uint64, value int64) {
	chain.Emit(token, &ethereum.SecurityTokenABI, "Issue", block, testutil.IssuerAddress, target, zeroAddr, amount(value))
}

func emitTransfer(chain *testutil.FakeChain, token, from, to common.Address, block uint64, value int64) {
	chain.Emit(token, &ethereum.SecurityTokenABI, "Transfer", block, from, to, amount(value))
}

func emitLock(chain *testutil.FakeChain, token, account, lock common.Address, block uint64, value int64, data string) {
	chain.Emit(token, &ethereum.SecurityTokenABI, "Lock", block, account, lock, amount(value), data)
}

func emitUnlock(chain *testutil.FakeChain, token, account, lock, recipient common.Address, block uint64, value int64, data string) {
	chain.Emit(token, &ethereum.SecurityTokenABI, "Unlock", block, account, lock, recipient, amount(value), data)
}

func emitOrder(chain *testutil.FakeChain, event string, exchange, token, account common.Address, block uint64) {
	chain.Emit(exchange, &ethereum.ExchangeABI, event, block,
		token, amount(1), account, false, amount(100), amount(10), testutil.CharlieAddr)
}

func emitSettlement(chain *testutil.FakeChain, event string, exchange, token, buyer, seller common.Address, block uint64) {
	chain.Emit(exchange, &ethereum.ExchangeABI, event, block,
		token, amount(1), amount(1), buyer, seller, amount(100), amount(10), testutil.CharlieAddr)
}

func emitEscrowFinished(chain *testutil.FakeChain, escrow, token, sender, recipient common.Address, block uint64, value int64) {
	chain.Emit(escrow, &ethereum.EscrowABI, "EscrowFinished", block,
		amount(1), token, sender, recipient, amount(value), testutil.CharlieAddr, false)
}

func emitEscrowCreated(chain *testutil.FakeChain, escrow, token, sender, recipient common.Address, block uint64, value int64) {
	chain.Emit(escrow, &ethereum.EscrowABI, "EscrowCreated", block,
		amount(1), token, sender, recipient, amount(value), testutil.CharlieAddr, "")
}

func emitDelivery(chain *testutil.FakeChain, event string, dvp, token, seller, buyer common.Address, block uint64, value int64) {
	chain.Emit(dvp, &ethereum.DVPABI, event, block,
		amount(1), token, seller, buyer, amount(value), testutil.CharlieAddr)
}

// recordingInvalidator captures invalidated accounts
type recordingInvalidator struct {
	mu       sync.Mutex
	accounts [][]string
	err      error
}

func (r *recordingInvalidator) InvalidateAccounts(ctx context.Context, accounts []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, accounts)
	return r.err
}
