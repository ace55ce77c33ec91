package entities

import (
	"math/big"
	"time"
)

// Position is the off-chain snapshot of what one account holds of one token.
// All amounts are in the token's smallest unit and never negative.
type Position struct {
	TokenAddress       string
	AccountAddress     string
	Balance            *big.Int
	PendingTransfer    *big.Int
	ExchangeBalance    *big.Int
	ExchangeCommitment *big.Int
	CreatedAt          time.Time
	ModifiedAt         time.Time
}

// IsFormer reports whether every amount of the position is zero
func (p *Position) IsFormer() bool {
	for _, v := range []*big.Int{p.Balance, p.PendingTransfer, p.ExchangeBalance, p.ExchangeCommitment} {
		if v != nil && v.Sign() != 0 {
			return false
		}
	}
	return true
}

// Apply overwrites the fields present in u
func (p *Position) Apply(u PositionUpdate) {
	if u.Balance != nil {
		p.Balance = new(big.Int).Set(u.Balance)
	}
	if u.PendingTransfer != nil {
		p.PendingTransfer = new(big.Int).Set(u.PendingTransfer)
	}
	if u.ExchangeBalance != nil {
		p.ExchangeBalance = new(big.Int).Set(u.ExchangeBalance)
	}
	if u.ExchangeCommitment != nil {
		p.ExchangeCommitment = new(big.Int).Set(u.ExchangeCommitment)
	}
}

// NewPosition builds a fresh row from an update, absent fields start at zero
func NewPosition(tokenAddress, accountAddress string, u PositionUpdate) *Position {
	p := &Position{
		TokenAddress:       tokenAddress,
		AccountAddress:     accountAddress,
		Balance:            new(big.Int),
		PendingTransfer:    new(big.Int),
		ExchangeBalance:    new(big.Int),
		ExchangeCommitment: new(big.Int),
	}
	p.Apply(u)
	return p
}

// PositionUpdate carries resolved values for a subset of position fields.
// A nil field is absent and leaves the stored value untouched.
type PositionUpdate struct {
	Balance            *big.Int
	PendingTransfer    *big.Int
	ExchangeBalance    *big.Int
	ExchangeCommitment *big.Int
}

// IsEmpty reports whether no field is supplied
func (u PositionUpdate) IsEmpty() bool {
	return u.Balance == nil && u.PendingTransfer == nil && u.ExchangeBalance == nil && u.ExchangeCommitment == nil
}

// HasPositive reports whether any supplied field is strictly greater than zero
func (u PositionUpdate) HasPositive() bool {
	for _, v := range []*big.Int{u.Balance, u.PendingTransfer, u.ExchangeBalance, u.ExchangeCommitment} {
		if v != nil && v.Sign() > 0 {
			return true
		}
	}
	return false
}

// Merge returns u with the fields present in other added on top
func (u PositionUpdate) Merge(other PositionUpdate) PositionUpdate {
	if other.Balance != nil {
		u.Balance = other.Balance
	}
	if other.PendingTransfer != nil {
		u.PendingTransfer = other.PendingTransfer
	}
	if other.ExchangeBalance != nil {
		u.ExchangeBalance = other.ExchangeBalance
	}
	if other.ExchangeCommitment != nil {
		u.ExchangeCommitment = other.ExchangeCommitment
	}
	return u
}
