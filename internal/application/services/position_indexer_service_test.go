package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
	"github.com/bimakw/position-indexer/internal/testutil"
)

func TestSyncNewLogs_IssueCreditsTargetAndIssuer(t *testing.T) {
	chain := testutil.NewFakeChain()
	store := testutil.NewMemoryStore()
	store.AddToken(testutil.CreateTestToken(testutil.BondToken))
	indexer := newTestIndexer(chain, store)

	chain.SetOwner(testutil.BondToken, testutil.IssuerAddress)
	chain.SetBalance(testutil.BondToken, testutil.IssuerAddress, 60)
	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 40)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 5, 40)
	chain.SetHead(20)

	result := syncOnce(t, indexer)

	assert.False(t, result.Skipped)
	assert.Equal(t, uint64(1), result.FromBlock)
	assert.Equal(t, uint64(20), result.ToBlock)
	assert.Empty(t, result.FailedHandlers)

	assert.Equal(t, [4]string{"40", "0", "0", "0"}, testutil.Amounts(store.Position(testutil.BondToken, testutil.AliceAddress)))
	assert.Equal(t, [4]string{"60", "0", "0", "0"}, testutil.Amounts(store.Position(testutil.BondToken, testutil.IssuerAddress)))
	assert.Equal(t, uint64(20), store.Checkpoint(testutil.BondType))

	token, ok := store.Token(testutil.BondToken)
	require.True(t, ok)
	assert.True(t, token.InitialPositionSynced)
}

func TestSyncNewLogs_LockMovesBalanceAndRecordsLock(t *testing.T) {
	chain, store, indexer := newFixture(t)
	store.SetPosition(testutil.BondToken, testutil.AliceAddress, 100, 0, 0, 0)

	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 60)
	chain.SetLocked(testutil.BondToken, testutil.LockAddress, testutil.AliceAddress, 40)
	log := chain.Emit(testutil.BondToken, &ethereum.SecurityTokenABI, "Lock", 7,
		testutil.AliceAddress, testutil.LockAddress, amount(40), `{"message":"garnishment"}`)
	chain.SetSender(log.TxHash, testutil.IssuerAddress)
	chain.SetHead(10)

	syncOnce(t, indexer)

	position := store.Position(testutil.BondToken, testutil.AliceAddress)
	require.NotNil(t, position)
	assert.Equal(t, int64(60), position.Balance.Int64())

	locks := store.LockRecords()
	require.Len(t, locks, 1)
	assert.Equal(t, log.TxHash.Hex(), locks[0].TransactionHash)
	assert.Equal(t, testutil.IssuerAddress.Hex(), locks[0].MsgSender)
	assert.Equal(t, uint64(7), locks[0].BlockNumber)
	assert.Equal(t, testutil.LockAddress.Hex(), locks[0].LockAddress)
	assert.Equal(t, testutil.AliceAddress.Hex(), locks[0].AccountAddress)
	assert.Equal(t, int64(40), locks[0].Value.Int64())
	assert.JSONEq(t, `{"message":"garnishment"}`, string(locks[0].Data))
	assert.Equal(t, testutil.GenesisTime.Add(7*time.Second), locks[0].BlockTimestamp)

	assert.Equal(t, int64(40), store.LockedPosition(testutil.BondToken, testutil.LockAddress, testutil.AliceAddress).Int64())
}

func TestSyncNewLogs_EscrowFinishedUsesEscrowView(t *testing.T) {
	chain, store, indexer := newFixture(t)
	seller, recipient := testutil.AliceAddress, testutil.BobAddress
	store.SetPosition(testutil.BondToken, seller, 70, 0, 30, 30)

	chain.SetTradableExchange(testutil.BondToken, testutil.EscrowAddr)
	chain.SetCustody(testutil.EscrowAddr, testutil.BondToken, seller, 20, 0)
	chain.SetCustody(testutil.EscrowAddr, testutil.BondToken, recipient, 10, 0)
	emitEscrowFinished(chain, testutil.EscrowAddr, testutil.BondToken, seller, recipient, 3, 10)
	chain.SetHead(5)

	syncOnce(t, indexer)

	assert.Equal(t, [4]string{"70", "0", "20", "0"}, testutil.Amounts(store.Position(testutil.BondToken, seller)))
	assert.Equal(t, [4]string{"0", "0", "10", "0"}, testutil.Amounts(store.Position(testutil.BondToken, recipient)))
}

func TestSyncNewLogs_SkipWhenCheckpointAtHead(t *testing.T) {
	chain, store, indexer := newFixture(t)
	store.SetCheckpoint(testutil.BondType, 50)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 50, 1)
	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 1)

	for _, head := range []uint64{50, 40} {
		chain.SetHead(head)
		result := syncOnce(t, indexer)

		assert.True(t, result.Skipped)
		assert.Zero(t, chain.LogQueries)
		assert.Zero(t, chain.TotalCalls())
		assert.Equal(t, uint64(50), store.Checkpoint(testutil.BondType))
	}
	assert.Zero(t, store.Commits)
}

func TestSyncNewLogs_Idempotent(t *testing.T) {
	chain, store, indexer := newFixture(t)
	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 40)
	chain.SetBalance(testutil.BondToken, testutil.BobAddress, 15)
	chain.SetPendingTransfer(testutil.BondToken, testutil.BobAddress, 5)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 2, 40)
	emitTransfer(chain, testutil.BondToken, testutil.AliceAddress, testutil.BobAddress, 3, 15)
	chain.SetHead(10)

	syncOnce(t, indexer)
	alice := testutil.Amounts(store.Position(testutil.BondToken, testutil.AliceAddress))
	bob := testutil.Amounts(store.Position(testutil.BondToken, testutil.BobAddress))
	rows := store.PositionCount()

	chain.SetHead(25)
	result := syncOnce(t, indexer)

	assert.Equal(t, uint64(11), result.FromBlock)
	assert.Empty(t, result.TouchedAccounts)
	assert.Equal(t, alice, testutil.Amounts(store.Position(testutil.BondToken, testutil.AliceAddress)))
	assert.Equal(t, bob, testutil.Amounts(store.Position(testutil.BondToken, testutil.BobAddress)))
	assert.Equal(t, rows, store.PositionCount())
	assert.Equal(t, uint64(25), store.Checkpoint(testutil.BondType))
}

func TestSyncNewLogs_HandlerFailureIsIsolated(t *testing.T) {
	chain, store, indexer := newFixture(t)
	lockedOf := testutil.Selector(&ethereum.SecurityTokenABI, "lockedOf")
	chain.CallContractErrFunc = func(to common.Address, selector [4]byte) error {
		if selector == lockedOf {
			return errors.New("abi: cannot unmarshal")
		}
		return nil
	}

	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 60)
	chain.SetBalance(testutil.BondToken, testutil.BobAddress, 25)
	emitLock(chain, testutil.BondToken, testutil.AliceAddress, testutil.LockAddress, 2, 40, "")
	emitIssue(chain, testutil.BondToken, testutil.BobAddress, 3, 25)
	chain.SetHead(10)

	result := syncOnce(t, indexer)

	assert.Equal(t, []string{"lock"}, result.FailedHandlers)
	assert.Equal(t, [4]string{"25", "0", "0", "0"}, testutil.Amounts(store.Position(testutil.BondToken, testutil.BobAddress)))
	assert.Equal(t, uint64(10), store.Checkpoint(testutil.BondType), "checkpoint advances past a failed handler")
}

func TestSyncNewLogs_HandlerPanicIsIsolated(t *testing.T) {
	chain, store, indexer := newFixture(t)
	indexer.handlers = append([]EventHandler{panickingHandler{}}, indexer.handlers...)

	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 5)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 1, 5)
	chain.SetHead(3)

	result := syncOnce(t, indexer)

	assert.Equal(t, []string{"panics"}, result.FailedHandlers)
	assert.NotNil(t, store.Position(testutil.BondToken, testutil.AliceAddress))
}

type panickingHandler struct{}

func (panickingHandler) Name() string { return "panics" }

func (panickingHandler) Handle(ctx context.Context, scope *SyncScope) error {
	panic("nil map")
}

func TestSyncNewLogs_StorageFailureAbortsCycle(t *testing.T) {
	chain, store, indexer := newFixture(t)
	store.SetCheckpoint(testutil.BondType, 4)
	store.FailOn("Positions.Create", errors.New("pq: connection reset"))

	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 40)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 6, 40)
	chain.SetHead(10)

	_, err := indexer.SyncNewLogs(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, uint64(4), store.Checkpoint(testutil.BondType))
	assert.Nil(t, store.Position(testutil.BondToken, testutil.AliceAddress))
	assert.Equal(t, 1, store.Rollbacks)
}

func TestSyncNewLogs_ChainUnavailableAbortsCycle(t *testing.T) {
	chain, store, indexer := newFixture(t)
	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 40)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 6, 40)
	emitTransfer(chain, testutil.BondToken, testutil.AliceAddress, testutil.BobAddress, 7, 1)
	chain.SetHead(10)

	calls := 0
	chain.FilterLogsErrFunc = func(q geth.FilterQuery) error {
		calls++
		if calls > 1 {
			return fmt.Errorf("%w: failed to get logs after 3 retries: dial tcp: i/o timeout", ethereum.ErrChainUnavailable)
		}
		return nil
	}

	_, err := indexer.SyncNewLogs(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ethereum.ErrChainUnavailable)
	assert.Zero(t, store.Checkpoint(testutil.BondType))
	assert.Zero(t, store.PositionCount())
}

func TestSyncNewLogs_HeadUnavailable(t *testing.T) {
	chain, store, indexer := newFixture(t)
	chain.BlockNumberErrFunc = func() error {
		return fmt.Errorf("%w: failed to get latest block number", ethereum.ErrChainUnavailable)
	}

	_, err := indexer.SyncNewLogs(context.Background())

	assert.ErrorIs(t, err, ethereum.ErrChainUnavailable)
	assert.Zero(t, chain.LogQueries)
	assert.Zero(t, store.Commits)
}

func TestSyncNewLogs_FailedCommitReplaysRange(t *testing.T) {
	chain, store, indexer := newFixture(t)
	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 40)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 6, 40)
	chain.SetHead(10)

	store.FailOn("Commit", errors.New("server closed the connection"))
	_, err := indexer.SyncNewLogs(context.Background())
	require.ErrorIs(t, err, ErrStorage)
	assert.Zero(t, store.Checkpoint(testutil.BondType))
	assert.Nil(t, store.Position(testutil.BondToken, testutil.AliceAddress))

	store.FailOn("Commit", nil)
	result := syncOnce(t, indexer)

	assert.Equal(t, uint64(1), result.FromBlock)
	assert.Equal(t, uint64(10), store.Checkpoint(testutil.BondType))
	assert.Equal(t, [4]string{"40", "0", "0", "0"}, testutil.Amounts(store.Position(testutil.BondToken, testutil.AliceAddress)))
}

func TestSyncNewLogs_SplitsRangeIntoLots(t *testing.T) {
	chain := testutil.NewFakeChain()
	store := testutil.NewMemoryStore()
	store.AddToken(testutil.CreateTestToken(testutil.BondToken))

	cfg := testIndexerConfig()
	cfg.BlockLotMaxSize = 5
	indexer := NewPositionIndexerService(testutil.BondType, store, chain, nil, cfg, zap.NewNop())

	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 1)
	chain.SetBalance(testutil.BondToken, testutil.BobAddress, 2)
	emitIssue(chain, testutil.BondToken, testutil.AliceAddress, 2, 1)
	emitIssue(chain, testutil.BondToken, testutil.BobAddress, 12, 2)
	chain.SetHead(12)

	var ranges [][2]uint64
	issueID := ethereum.SecurityTokenABI.Events["Issue"].ID
	chain.FilterLogsErrFunc = func(q geth.FilterQuery) error {
		if q.Topics[0][0] == issueID {
			ranges = append(ranges, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
		}
		return nil
	}

	syncOnce(t, indexer)

	assert.Equal(t, [][2]uint64{{1, 5}, {6, 10}, {11, 12}}, ranges)
	assert.NotNil(t, store.Position(testutil.BondToken, testutil.AliceAddress))
	assert.NotNil(t, store.Position(testutil.BondToken, testutil.BobAddress))
	assert.Equal(t, 1, chain.CallCount(testutil.BondToken, &ethereum.SecurityTokenABI, "owner"), "issuer position loads once per token")
	assert.Equal(t, 1, store.Commits)
}

func TestSyncNewLogs_IgnoresOtherTokenTypes(t *testing.T) {
	chain, store, indexer := newFixture(t)
	store.AddToken(testutil.CreateTestToken(testutil.ShareToken, testutil.WithTokenType(testutil.ShareType)))
	store.AddToken(testutil.CreateTestToken(testutil.CharlieAddr, testutil.WithStatus("suspended")))

	chain.SetBalance(testutil.ShareToken, testutil.AliceAddress, 9)
	chain.SetBalance(testutil.CharlieAddr, testutil.AliceAddress, 9)
	emitIssue(chain, testutil.ShareToken, testutil.AliceAddress, 1, 9)
	emitIssue(chain, testutil.CharlieAddr, testutil.AliceAddress, 1, 9)
	chain.SetHead(2)

	syncOnce(t, indexer)

	assert.Zero(t, store.PositionCount())
	assert.Zero(t, store.Checkpoint(testutil.ShareType))
	assert.Equal(t, uint64(2), store.Checkpoint(testutil.BondType))
}

func TestSyncNewLogs_InvalidatesTouchedAccounts(t *testing.T) {
	chain, store, _ := newFixture(t)
	invalidator := &recordingInvalidator{err: errors.New("redis: connection refused")}
	indexer := NewPositionIndexerService(testutil.BondType, store, chain, invalidator, testIndexerConfig(), zap.NewNop())

	chain.SetBalance(testutil.BondToken, testutil.AliceAddress, 3)
	chain.SetBalance(testutil.BondToken, testutil.BobAddress, 4)
	emitTransfer(chain, testutil.BondToken, testutil.AliceAddress, testutil.BobAddress, 1, 1)
	chain.SetHead(2)

	result := syncOnce(t, indexer)

	want := []string{testutil.AliceAddress.Hex(), testutil.BobAddress.Hex()}
	assert.Equal(t, want, result.TouchedAccounts)
	require.Len(t, invalidator.accounts, 1)
	assert.Equal(t, want, invalidator.accounts[0])
	assert.Equal(t, uint64(2), store.Checkpoint(testutil.BondType), "cache errors do not undo the cycle")
}

func TestRun_SyncsUntilCancelled(t *testing.T) {
	chain, store, indexer := newFixture(t)
	chain.SetHead(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- indexer.Run(ctx) }()

	require.Eventually(t, func() bool { return store.Checkpoint(testutil.BondType) == 1 }, time.Second, 5*time.Millisecond)

	chain.SetHead(3)
	require.Eventually(t, func() bool { return store.Checkpoint(testutil.BondType) == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_SurvivesFailedCycles(t *testing.T) {
	chain, store, indexer := newFixture(t)
	chain.SetHead(2)
	store.FailOn("Begin", errors.New("too many connections"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- indexer.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	store.FailOn("Begin", nil)

	require.Eventually(t, func() bool { return store.Checkpoint(testutil.BondType) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
