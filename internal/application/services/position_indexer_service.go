package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/config"
	"github.com/bimakw/position-indexer/internal/domain/repositories"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// CacheInvalidator drops cached API responses of accounts whose positions changed
type CacheInvalidator interface {
	InvalidateAccounts(ctx context.Context, accounts []string) error
}

// CycleResult summarizes one committed or skipped sync cycle
type CycleResult struct {
	Skipped         bool
	FromBlock       uint64
	ToBlock         uint64
	FailedHandlers  []string
	TouchedAccounts []string
}

// PositionIndexerService keeps idx_position in step with the chain for one
// token type
type PositionIndexerService struct {
	tokenType   string
	store       repositories.SyncStore
	chain       ethereum.ChainReader
	registry    *ContractRegistry
	handlers    []EventHandler
	invalidator CacheInvalidator
	config      config.IndexerConfig
	logger      *zap.Logger
}

// NewPositionIndexerService creates the indexer of one token type. The
// invalidator may be nil.
func NewPositionIndexerService(
	tokenType string,
	store repositories.SyncStore,
	chain ethereum.ChainReader,
	invalidator CacheInvalidator,
	cfg config.IndexerConfig,
	logger *zap.Logger,
) *PositionIndexerService {
	logger = logger.With(zap.String("token_type", tokenType))
	resolver := NewBalanceResolver(chain, common.HexToAddress(cfg.ZeroAddress))

	return &PositionIndexerService{
		tokenType:   tokenType,
		store:       store,
		chain:       chain,
		registry:    NewContractRegistry(resolver, logger),
		handlers:    DefaultHandlers(chain, resolver, logger),
		invalidator: invalidator,
		config:      cfg,
		logger:      logger,
	}
}

// TokenType returns the token type this instance indexes
func (s *PositionIndexerService) TokenType() string {
	return s.tokenType
}

// Run syncs immediately and then on every tick until ctx is done
func (s *PositionIndexerService) Run(ctx context.Context) error {
	s.logger.Info("Starting position indexer",
		zap.Duration("sync_interval", s.config.SyncInterval),
		zap.Uint64("block_lot_max_size", s.config.BlockLotMaxSize),
	)

	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Position indexer stopped")
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle runs one cycle and logs its outcome; nothing escapes to the loop
func (s *PositionIndexerService) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			syncCyclesTotal.WithLabelValues(s.tokenType, cycleResultAborted).Inc()
			s.logger.Error("Sync cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	start := time.Now()
	_, err := s.SyncNewLogs(ctx)
	syncCycleDuration.WithLabelValues(s.tokenType).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case ctx.Err() != nil:
	case errors.Is(err, ethereum.ErrChainUnavailable):
		s.logger.Warn("Chain unavailable, sync cycle abandoned", zap.Error(err))
	case errors.Is(err, ErrStorage):
		s.logger.Error("Storage failure, sync cycle abandoned", zap.Error(err))
	default:
		s.logger.Error("Unexpected sync failure", zap.Error(err))
	}
}

// SyncNewLogs folds every log between the checkpoint and the current head
// into positions, then moves the checkpoint to that head. All writes of the
// cycle commit together; on error nothing is committed.
func (s *PositionIndexerService) SyncNewLogs(ctx context.Context) (result *CycleResult, err error) {
	defer func() {
		if err != nil {
			syncCyclesTotal.WithLabelValues(s.tokenType, cycleResultAborted).Inc()
		}
	}()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, storageError("begin sync transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Failed to roll back sync transaction", zap.Error(rbErr))
			}
		}
	}()

	checkpoint, err := tx.Checkpoints().Get(ctx, s.tokenType)
	if err != nil {
		return nil, storageError("get checkpoint", err)
	}

	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get head block: %w", err)
	}

	if checkpoint >= head {
		s.logger.Debug("Skip sync, no new blocks",
			zap.Uint64("checkpoint", checkpoint),
			zap.Uint64("head", head),
		)
		syncCyclesTotal.WithLabelValues(s.tokenType, cycleResultSkipped).Inc()
		return &CycleResult{Skipped: true, FromBlock: checkpoint, ToBlock: head}, nil
	}

	fromBlock, toBlock := checkpoint+1, head

	contracts, err := s.registry.Discover(ctx, tx.Tokens(), s.tokenType)
	if err != nil {
		return nil, err
	}

	sink := NewPositionSink(tx.Positions())
	result = &CycleResult{FromBlock: fromBlock, ToBlock: toBlock}

	s.logger.Info("Syncing positions",
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock),
		zap.Int("tokens", len(contracts.Tokens)),
		zap.Int("exchanges", len(contracts.Exchanges)),
	)

	for _, lot := range ethereum.SplitBlockRange(fromBlock, toBlock, s.config.BlockLotMaxSize) {
		scope := &SyncScope{
			TokenType: s.tokenType,
			Tx:        tx,
			Contracts: contracts,
			Sink:      sink,
			FromBlock: lot.From,
			ToBlock:   lot.To,
		}

		for _, handler := range s.handlers {
			if err := s.runHandler(ctx, handler, scope); err != nil {
				if isFatal(err) {
					return nil, fmt.Errorf("handler %s: %w", handler.Name(), err)
				}
				handlerFailuresTotal.WithLabelValues(s.tokenType, handler.Name()).Inc()
				result.FailedHandlers = append(result.FailedHandlers, handler.Name())
				s.logger.Error("Event handler failed",
					zap.String("handler", handler.Name()),
					zap.Uint64("from_block", lot.From),
					zap.Uint64("to_block", lot.To),
					zap.Error(err),
				)
			}
		}
	}

	if err := tx.Checkpoints().Set(ctx, s.tokenType, head); err != nil {
		return nil, storageError("set checkpoint", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit sync transaction", err)
	}
	committed = true

	result.TouchedAccounts = sink.TouchedAccounts()
	checkpointBlock.WithLabelValues(s.tokenType).Set(float64(head))
	syncCyclesTotal.WithLabelValues(s.tokenType, cycleResultSynced).Inc()

	s.logger.Info("Synced positions",
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock),
		zap.Int("accounts", len(result.TouchedAccounts)),
		zap.Strings("failed_handlers", result.FailedHandlers),
	)

	s.invalidate(ctx, result.TouchedAccounts)
	return result, nil
}

// runHandler turns a handler panic into an isolated error
func (s *PositionIndexerService) runHandler(ctx context.Context, handler EventHandler, scope *SyncScope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", handler.Name(), r)
		}
	}()
	return handler.Handle(ctx, scope)
}

func (s *PositionIndexerService) invalidate(ctx context.Context, accounts []string) {
	if s.invalidator == nil || len(accounts) == 0 {
		return
	}
	if err := s.invalidator.InvalidateAccounts(ctx, accounts); err != nil {
		s.logger.Warn("Failed to invalidate position cache",
			zap.Int("accounts", len(accounts)),
			zap.Error(err),
		)
	}
}
