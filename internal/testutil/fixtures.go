package testutil

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bimakw/position-indexer/internal/domain/entities"
)

// Common test addresses
var (
	BondToken     = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	ShareToken    = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
	IssuerAddress = common.HexToAddress("0x9999999999999999999999999999999999999999")
	AliceAddress  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	BobAddress    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	CharlieAddr   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	LockAddress   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	ExchangeAddr  = common.HexToAddress("0x5555555555555555555555555555555555555555")
	EscrowAddr    = common.HexToAddress("0x6666666666666666666666666666666666666666")
)

// Token types used in tests
const (
	BondType  = entities.TokenTypeStraightBond
	ShareType = entities.TokenTypeShare
)

// CreateTestToken creates an active token row with default values
func CreateTestToken(address common.Address, opts ...TokenOption) entities.Token {
	t := entities.Token{
		TokenAddress:  address.Hex(),
		IssuerAddress: IssuerAddress.Hex(),
		Type:          BondType,
		Status:        entities.TokenStatusActive,
		CreatedAt:     time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
	}

	for _, opt := range opts {
		opt(&t)
	}

	return t
}

type TokenOption func(*entities.Token)

func WithTokenType(tokenType string) TokenOption {
	return func(t *entities.Token) {
		t.Type = tokenType
	}
}

func WithStatus(status string) TokenOption {
	return func(t *entities.Token) {
		t.Status = status
	}
}

func WithIssuer(issuer common.Address) TokenOption {
	return func(t *entities.Token) {
		t.IssuerAddress = issuer.Hex()
	}
}

func WithABI(abiJSON string) TokenOption {
	return func(t *entities.Token) {
		t.ABI = abiJSON
	}
}

func WithInitialPositionSynced() TokenOption {
	return func(t *entities.Token) {
		t.InitialPositionSynced = true
	}
}

// CreateTestPosition creates a position with the given amounts
func CreateTestPosition(token, account common.Address, balance, pending, exchangeBalance, commitment int64) entities.Position {
	return entities.Position{
		TokenAddress:       token.Hex(),
		AccountAddress:     account.Hex(),
		Balance:            big.NewInt(balance),
		PendingTransfer:    big.NewInt(pending),
		ExchangeBalance:    big.NewInt(exchangeBalance),
		ExchangeCommitment: big.NewInt(commitment),
		CreatedAt:          time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		ModifiedAt:         time.Date(2024, 1, 16, 10, 30, 0, 0, time.UTC),
	}
}

// Amounts renders the four amounts of a position for comparison
func Amounts(p *entities.Position) [4]string {
	if p == nil {
		return [4]string{}
	}
	str := func(v *big.Int) string {
		if v == nil {
			return "<nil>"
		}
		return v.String()
	}
	return [4]string{str(p.Balance), str(p.PendingTransfer), str(p.ExchangeBalance), str(p.ExchangeCommitment)}
}
