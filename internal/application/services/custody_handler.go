package services

import (
	"bytes"
	"context"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// custodyEvent says which arguments of one custody contract event name the
// token and the accounts whose custody position changed
type custodyEvent struct {
	event       string
	tokenArg    string
	accountArgs []string
}

// custodyHandler resolves custody positions touched by exchange, escrow or
// DVP events. Pairs are deduplicated per custody contract so every pair is
// resolved once per lot however many events mention it.
type custodyHandler struct {
	name     string
	abi      *abi.ABI
	events   []custodyEvent
	chain    ethereum.ChainReader
	resolver *BalanceResolver
}

func newExchangeHandler(chain ethereum.ChainReader, resolver *BalanceResolver) *custodyHandler {
	return &custodyHandler{
		name: "exchange",
		abi:  &ethereum.ExchangeABI,
		events: []custodyEvent{
			{event: "NewOrder", tokenArg: "tokenAddress", accountArgs: []string{"accountAddress"}},
			{event: "CancelOrder", tokenArg: "tokenAddress", accountArgs: []string{"accountAddress"}},
			{event: "ForceCancelOrder", tokenArg: "tokenAddress", accountArgs: []string{"accountAddress"}},
			{event: "Agree", tokenArg: "tokenAddress", accountArgs: []string{"sellAddress"}},
			{event: "SettlementOK", tokenArg: "tokenAddress", accountArgs: []string{"buyAddress", "sellAddress"}},
			{event: "SettlementNG", tokenArg: "tokenAddress", accountArgs: []string{"sellAddress"}},
		},
		chain:    chain,
		resolver: resolver,
	}
}

func newEscrowHandler(chain ethereum.ChainReader, resolver *BalanceResolver) *custodyHandler {
	return &custodyHandler{
		name: "escrow",
		abi:  &ethereum.EscrowABI,
		events: []custodyEvent{
			{event: "EscrowCreated", tokenArg: "token", accountArgs: []string{"sender"}},
			{event: "EscrowCanceled", tokenArg: "token", accountArgs: []string{"sender"}},
			{event: "EscrowFinished", tokenArg: "token", accountArgs: []string{"sender", "recipient"}},
		},
		chain:    chain,
		resolver: resolver,
	}
}

func newDVPHandler(chain ethereum.ChainReader, resolver *BalanceResolver) *custodyHandler {
	return &custodyHandler{
		name: "dvp",
		abi:  &ethereum.DVPABI,
		events: []custodyEvent{
			{event: "DeliveryCreated", tokenArg: "token", accountArgs: []string{"seller"}},
			{event: "DeliveryCanceled", tokenArg: "token", accountArgs: []string{"seller"}},
			{event: "DeliveryAborted", tokenArg: "token", accountArgs: []string{"seller"}},
			{event: "DeliveryFinished", tokenArg: "token", accountArgs: []string{"seller", "buyer"}},
		},
		chain:    chain,
		resolver: resolver,
	}
}

func (h *custodyHandler) Name() string { return h.name }

func (h *custodyHandler) Handle(ctx context.Context, scope *SyncScope) error {
	for _, custody := range scope.Contracts.Exchanges {
		pairs, err := h.collectPairs(ctx, custody, scope)
		if err != nil {
			return err
		}

		for _, pair := range dedupPairs(pairs) {
			if _, ok := scope.Contracts.Lookup(pair.token); !ok {
				continue
			}

			update, err := h.resolver.CustodyPosition(ctx, h.abi, custody, pair.token, pair.account)
			if err != nil {
				return err
			}
			if err := scope.Sink.Upsert(ctx, pair.token, pair.account, update); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *custodyHandler) collectPairs(ctx context.Context, custody common.Address, scope *SyncScope) ([]tokenAccount, error) {
	var pairs []tokenAccount

	for _, ev := range h.events {
		query, err := ethereum.EventQuery(h.abi, ev.event, []common.Address{custody}, scope.FromBlock, scope.ToBlock)
		if err != nil {
			return nil, err
		}

		logs, err := h.chain.FilterLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s logs of %s: %w", ev.event, custody.Hex(), err)
		}

		for _, log := range logs {
			_, args, err := ethereum.DecodeLog(h.abi, log)
			if err != nil {
				return nil, err
			}
			token, err := args.Address(ev.tokenArg)
			if err != nil {
				return nil, err
			}
			for _, name := range ev.accountArgs {
				account, err := args.Address(name)
				if err != nil {
					return nil, err
				}
				pairs = append(pairs, tokenAccount{token: token, account: account})
			}
		}
	}

	return pairs, nil
}

type tokenAccount struct {
	token   common.Address
	account common.Address
}

// dedupPairs sorts pairs by token then account and drops repeats
func dedupPairs(pairs []tokenAccount) []tokenAccount {
	slices.SortFunc(pairs, func(a, b tokenAccount) int {
		if c := bytes.Compare(a.token[:], b.token[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.account[:], b.account[:])
	})
	return slices.Compact(pairs)
}
