package services

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

var emptyLockData = json.RawMessage(`{}`)

// lockData keeps the free-form data argument when it is a JSON object
func lockData(raw string) json.RawMessage {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return emptyLockData
	}
	return json.RawMessage(raw)
}

// logContext resolves the sender and timestamp a lock record carries
type logContext struct {
	chain      ethereum.ChainReader
	timestamps map[uint64]time.Time
}

func newLogContext(chain ethereum.ChainReader) *logContext {
	return &logContext{chain: chain, timestamps: make(map[uint64]time.Time)}
}

func (c *logContext) resolve(ctx context.Context, log types.Log) (common.Address, time.Time, error) {
	sender, err := c.chain.TransactionSender(ctx, log.TxHash)
	if err != nil {
		return common.Address{}, time.Time{}, err
	}

	ts, ok := c.timestamps[log.BlockNumber]
	if !ok {
		ts, err = c.chain.BlockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return common.Address{}, time.Time{}, err
		}
		c.timestamps[log.BlockNumber] = ts
	}
	return sender, ts, nil
}

// lockHandler records Lock logs, refreshes the locked position and the
// account's token position
type lockHandler struct {
	chain    ethereum.ChainReader
	resolver *BalanceResolver
	logger   *zap.Logger
}

func (h *lockHandler) Name() string { return "lock" }

func (h *lockHandler) Handle(ctx context.Context, scope *SyncScope) error {
	logCtx := newLogContext(h.chain)

	for _, token := range scope.Contracts.Tokens {
		logs, err := tokenLogs(ctx, h.chain, token, "Lock", scope)
		if err != nil {
			return err
		}

		for _, log := range logs {
			_, args, err := ethereum.DecodeLog(token.ABI, log)
			if err != nil {
				return err
			}
			account, err := args.Address("accountAddress")
			if err != nil {
				return err
			}
			lockAddress, err := args.Address("lockAddress")
			if err != nil {
				return err
			}
			value, err := args.BigInt("value")
			if err != nil {
				return err
			}
			data, _ := args.String("data")

			sender, ts, err := logCtx.resolve(ctx, log)
			if err != nil {
				return err
			}

			if err := scope.Tx.Locks().InsertLock(ctx, &entities.LockEvent{
				TransactionHash: log.TxHash.Hex(),
				LogIndex:        log.Index,
				MsgSender:       sender.Hex(),
				BlockNumber:     log.BlockNumber,
				TokenAddress:    token.Address.Hex(),
				LockAddress:     lockAddress.Hex(),
				AccountAddress:  account.Hex(),
				Value:           value,
				Data:            lockData(data),
				BlockTimestamp:  ts,
			}); err != nil {
				return storageError("insert lock", err)
			}

			if err := refreshLockedPosition(ctx, h.resolver, scope, token, lockAddress, account); err != nil {
				return err
			}

			update, err := h.resolver.TokenPosition(ctx, token, account)
			if err != nil {
				return err
			}
			if err := scope.Sink.Upsert(ctx, token.Address, account, update); err != nil {
				return err
			}

			h.logger.Debug("Indexed lock",
				zap.String("token", token.Address.Hex()),
				zap.String("account", account.Hex()),
				zap.String("lock_address", lockAddress.Hex()),
			)
		}
	}
	return nil
}

// unlockHandler records Unlock logs, refreshes the locked position and the
// token positions of the account and the recipient
type unlockHandler struct {
	chain    ethereum.ChainReader
	resolver *BalanceResolver
	logger   *zap.Logger
}

func (h *unlockHandler) Name() string { return "unlock" }

func (h *unlockHandler) Handle(ctx context.Context, scope *SyncScope) error {
	logCtx := newLogContext(h.chain)

	for _, token := range scope.Contracts.Tokens {
		logs, err := tokenLogs(ctx, h.chain, token, "Unlock", scope)
		if err != nil {
			return err
		}

		for _, log := range logs {
			_, args, err := ethereum.DecodeLog(token.ABI, log)
			if err != nil {
				return err
			}
			account, err := args.Address("accountAddress")
			if err != nil {
				return err
			}
			lockAddress, err := args.Address("lockAddress")
			if err != nil {
				return err
			}
			recipient, err := args.Address("recipientAddress")
			if err != nil {
				return err
			}
			value, err := args.BigInt("value")
			if err != nil {
				return err
			}
			data, _ := args.String("data")

			sender, ts, err := logCtx.resolve(ctx, log)
			if err != nil {
				return err
			}

			if err := scope.Tx.Locks().InsertUnlock(ctx, &entities.UnlockEvent{
				TransactionHash:  log.TxHash.Hex(),
				LogIndex:         log.Index,
				MsgSender:        sender.Hex(),
				BlockNumber:      log.BlockNumber,
				TokenAddress:     token.Address.Hex(),
				LockAddress:      lockAddress.Hex(),
				AccountAddress:   account.Hex(),
				RecipientAddress: recipient.Hex(),
				Value:            value,
				Data:             lockData(data),
				BlockTimestamp:   ts,
			}); err != nil {
				return storageError("insert unlock", err)
			}

			if err := refreshLockedPosition(ctx, h.resolver, scope, token, lockAddress, account); err != nil {
				return err
			}

			for _, holder := range uniqueAddresses(account, recipient) {
				update, err := h.resolver.TokenPosition(ctx, token, holder)
				if err != nil {
					return err
				}
				if err := scope.Sink.Upsert(ctx, token.Address, holder, update); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func refreshLockedPosition(ctx context.Context, resolver *BalanceResolver, scope *SyncScope, token *TokenContract, lockAddress, account common.Address) error {
	locked, err := resolver.LockedBalance(ctx, token, lockAddress, account)
	if err != nil {
		return err
	}
	if locked == nil {
		locked = new(big.Int)
	}

	if err := scope.Tx.Locks().UpsertLockedPosition(ctx, &entities.LockedPosition{
		TokenAddress:   token.Address.Hex(),
		LockAddress:    lockAddress.Hex(),
		AccountAddress: account.Hex(),
		Value:          locked,
	}); err != nil {
		return storageError("upsert locked position", err)
	}
	return nil
}

func uniqueAddresses(addrs ...common.Address) []common.Address {
	out := make([]common.Address, 0, len(addrs))
	seen := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
