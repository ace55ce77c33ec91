package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/bimakw/position-indexer/internal/domain/entities"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// Read-only calls with their declared fallbacks
var (
	tokenBalanceOf      = ethereum.ViewCall[*big.Int]{Method: "balanceOf", Default: big.NewInt(0)}
	tokenPendingOf      = ethereum.ViewCall[*big.Int]{Method: "pendingTransfer", Default: big.NewInt(0)}
	tokenLockedOf       = ethereum.ViewCall[*big.Int]{Method: "lockedOf", Default: big.NewInt(0)}
	tokenTradableOf     = ethereum.ViewCall[common.Address]{Method: "tradableExchange"}
	tokenOwnerOf        = ethereum.ViewCall[common.Address]{Method: "owner"}
	custodyBalanceOf    = ethereum.ViewCall[*big.Int]{Method: "balanceOf", Default: big.NewInt(0)}
	custodyCommitmentOf = ethereum.ViewCall[*big.Int]{Method: "commitmentOf", Default: big.NewInt(0)}
)

// BalanceResolver reads authoritative position values from contracts
type BalanceResolver struct {
	chain       ethereum.ChainReader
	zeroAddress common.Address
}

// NewBalanceResolver creates a new balance resolver
func NewBalanceResolver(chain ethereum.ChainReader, zeroAddress common.Address) *BalanceResolver {
	return &BalanceResolver{
		chain:       chain,
		zeroAddress: zeroAddress,
	}
}

// IsZero reports whether addr is the configured zero-address sentinel
func (r *BalanceResolver) IsZero(addr common.Address) bool {
	return addr == r.zeroAddress || addr == (common.Address{})
}

// TokenPosition resolves balance and pending transfer held on the token itself
func (r *BalanceResolver) TokenPosition(ctx context.Context, token *TokenContract, account common.Address) (entities.PositionUpdate, error) {
	resolverCallsTotal.WithLabelValues("token").Inc()

	balance, err := tokenBalanceOf.Call(ctx, r.chain, token.ABI, token.Address, account)
	if err != nil {
		return entities.PositionUpdate{}, err
	}
	pending, err := tokenPendingOf.Call(ctx, r.chain, token.ABI, token.Address, account)
	if err != nil {
		return entities.PositionUpdate{}, err
	}

	return entities.PositionUpdate{Balance: balance, PendingTransfer: pending}, nil
}

// CustodyPosition resolves what an exchange or escrow contract holds for
// account in token
func (r *BalanceResolver) CustodyPosition(ctx context.Context, custodyABI *abi.ABI, custody, token, account common.Address) (entities.PositionUpdate, error) {
	resolverCallsTotal.WithLabelValues("custody").Inc()

	balance, err := custodyBalanceOf.Call(ctx, r.chain, custodyABI, custody, account, token)
	if err != nil {
		return entities.PositionUpdate{}, err
	}
	commitment, err := custodyCommitmentOf.Call(ctx, r.chain, custodyABI, custody, account, token)
	if err != nil {
		return entities.PositionUpdate{}, err
	}

	return entities.PositionUpdate{ExchangeBalance: balance, ExchangeCommitment: commitment}, nil
}

// CombinedPosition resolves the token-local fields and, when the token is
// tradable on an exchange, the custody fields too
func (r *BalanceResolver) CombinedPosition(ctx context.Context, token *TokenContract, account common.Address) (entities.PositionUpdate, error) {
	update, err := r.TokenPosition(ctx, token, account)
	if err != nil {
		return entities.PositionUpdate{}, err
	}

	exchange, err := r.TradableExchange(ctx, token)
	if err != nil {
		return entities.PositionUpdate{}, err
	}
	if r.IsZero(exchange) {
		return update, nil
	}

	custody, err := r.CustodyPosition(ctx, &ethereum.ExchangeABI, exchange, token.Address, account)
	if err != nil {
		return entities.PositionUpdate{}, err
	}

	return update.Merge(custody), nil
}

// TradableExchange returns the custody contract a token is tradable on
func (r *BalanceResolver) TradableExchange(ctx context.Context, token *TokenContract) (common.Address, error) {
	return tokenTradableOf.Call(ctx, r.chain, token.ABI, token.Address)
}

// Owner returns the token owner, falling back to the registered issuer
func (r *BalanceResolver) Owner(ctx context.Context, token *TokenContract) (common.Address, error) {
	owner, err := tokenOwnerOf.Call(ctx, r.chain, token.ABI, token.Address)
	if err != nil {
		return common.Address{}, err
	}
	if r.IsZero(owner) {
		return token.Issuer, nil
	}
	return owner, nil
}

// LockedBalance returns the amount account has locked to lockAddress
func (r *BalanceResolver) LockedBalance(ctx context.Context, token *TokenContract, lockAddress, account common.Address) (*big.Int, error) {
	resolverCallsTotal.WithLabelValues("locked").Inc()
	return tokenLockedOf.Call(ctx, r.chain, token.ABI, token.Address, lockAddress, account)
}

// IsContract reports whether code is deployed at addr
func (r *BalanceResolver) IsContract(ctx context.Context, addr common.Address) (bool, error) {
	code, err := r.chain.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}
