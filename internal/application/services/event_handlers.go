package services

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/domain/repositories"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// SyncScope is what one handler invocation works on: a block lot inside a
// cycle's transaction, plus that cycle's discovered contracts
type SyncScope struct {
	TokenType string
	Tx        repositories.SyncTx
	Contracts *ContractSet
	Sink      *PositionSink
	FromBlock uint64
	ToBlock   uint64
}

// EventHandler folds one event category of a block lot into positions.
// A returned error is isolated to the handler unless it is fatal.
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, scope *SyncScope) error
}

// DefaultHandlers returns the handlers in the order a cycle runs them
func DefaultHandlers(chain ethereum.ChainReader, resolver *BalanceResolver, logger *zap.Logger) []EventHandler {
	return []EventHandler{
		&issuerHandler{resolver: resolver},
		newTokenEventHandler("issue", "Issue", chain, resolver, "targetAddress"),
		&transferHandler{chain: chain, resolver: resolver},
		&lockHandler{chain: chain, resolver: resolver, logger: logger},
		&unlockHandler{chain: chain, resolver: resolver, logger: logger},
		newTokenEventHandler("redeem", "Redeem", chain, resolver, "targetAddress"),
		newTokenEventHandler("apply_for_transfer", "ApplyForTransfer", chain, resolver, "from"),
		newTokenEventHandler("cancel_transfer", "CancelTransfer", chain, resolver, "from"),
		newTokenEventHandler("approve_transfer", "ApproveTransfer", chain, resolver, "from", "to"),
		newExchangeHandler(chain, resolver),
		newEscrowHandler(chain, resolver),
		newDVPHandler(chain, resolver),
	}
}

// tokenLogs fetches one event of one token over the scope's lot. Tokens whose
// ABI predates the event yield no logs.
func tokenLogs(ctx context.Context, chain ethereum.ChainReader, token *TokenContract, event string, scope *SyncScope) ([]types.Log, error) {
	if _, ok := token.ABI.Events[event]; !ok {
		return nil, nil
	}

	query, err := ethereum.EventQuery(token.ABI, event, []common.Address{token.Address}, scope.FromBlock, scope.ToBlock)
	if err != nil {
		return nil, err
	}

	logs, err := chain.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s logs of %s: %w", event, token.Address.Hex(), err)
	}
	return logs, nil
}

// issuerHandler loads the issuer's position of tokens registered since the
// last cycle, then flags them so it happens once per token
type issuerHandler struct {
	resolver *BalanceResolver
}

func (h *issuerHandler) Name() string { return "issuer" }

func (h *issuerHandler) Handle(ctx context.Context, scope *SyncScope) error {
	for _, token := range scope.Contracts.Tokens {
		if token.InitialPositionSynced {
			continue
		}

		issuer, err := h.resolver.Owner(ctx, token)
		if err != nil {
			return err
		}

		update, err := h.resolver.TokenPosition(ctx, token, issuer)
		if err != nil {
			return err
		}
		if err := scope.Sink.Upsert(ctx, token.Address, issuer, update); err != nil {
			return err
		}

		if err := scope.Tx.Tokens().MarkInitialPositionSynced(ctx, token.RegistryAddress); err != nil {
			return storageError("mark initial position synced", err)
		}
		token.InitialPositionSynced = true
	}
	return nil
}

// tokenEventHandler resolves the token-local position of the accounts named
// by accountArgs in every log of one token event
type tokenEventHandler struct {
	name        string
	event       string
	accountArgs []string
	chain       ethereum.ChainReader
	resolver    *BalanceResolver
}

func newTokenEventHandler(name, event string, chain ethereum.ChainReader, resolver *BalanceResolver, accountArgs ...string) *tokenEventHandler {
	return &tokenEventHandler{
		name:        name,
		event:       event,
		accountArgs: accountArgs,
		chain:       chain,
		resolver:    resolver,
	}
}

func (h *tokenEventHandler) Name() string { return h.name }

func (h *tokenEventHandler) Handle(ctx context.Context, scope *SyncScope) error {
	for _, token := range scope.Contracts.Tokens {
		logs, err := tokenLogs(ctx, h.chain, token, h.event, scope)
		if err != nil {
			return err
		}

		for _, log := range logs {
			_, args, err := ethereum.DecodeLog(token.ABI, log)
			if err != nil {
				return err
			}

			for _, name := range h.accountArgs {
				account, err := args.Address(name)
				if err != nil {
					return err
				}

				update, err := h.resolver.TokenPosition(ctx, token, account)
				if err != nil {
					return err
				}
				if err := scope.Sink.Upsert(ctx, token.Address, account, update); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// transferHandler resolves both parties of a Transfer. Contract addresses are
// skipped: what exchanges and escrows hold is tracked by the custody handlers.
type transferHandler struct {
	chain    ethereum.ChainReader
	resolver *BalanceResolver
}

func (h *transferHandler) Name() string { return "transfer" }

func (h *transferHandler) Handle(ctx context.Context, scope *SyncScope) error {
	for _, token := range scope.Contracts.Tokens {
		logs, err := tokenLogs(ctx, h.chain, token, "Transfer", scope)
		if err != nil {
			return err
		}

		for _, log := range logs {
			_, args, err := ethereum.DecodeLog(token.ABI, log)
			if err != nil {
				return err
			}

			for _, name := range []string{"from", "to"} {
				account, err := args.Address(name)
				if err != nil {
					return err
				}

				if h.resolver.IsZero(account) {
					continue
				}

				isContract, err := h.resolver.IsContract(ctx, account)
				if err != nil {
					return err
				}
				if isContract {
					continue
				}

				update, err := h.resolver.CombinedPosition(ctx, token, account)
				if err != nil {
					return err
				}
				if err := scope.Sink.Upsert(ctx, token.Address, account, update); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
