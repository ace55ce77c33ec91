package entities

import (
	"time"
)

// Token types handled by the position indexer
const (
	TokenTypeStraightBond = "IbetStraightBond"
	TokenTypeShare        = "IbetShare"
	TokenTypeMembership   = "IbetMembership"
	TokenTypeCoupon       = "IbetCoupon"
)

// TokenStatusActive is the only status the indexer reads from
const TokenStatusActive = "active"

// Token is a security token registered by the issuance subsystem.
// The indexer only reads it, apart from the initial position flag.
type Token struct {
	TokenAddress          string    `db:"token_address"`
	IssuerAddress         string    `db:"issuer_address"`
	Type                  string    `db:"type"`
	Status                string    `db:"status"`
	ABI                   string    `db:"abi"`
	InitialPositionSynced bool      `db:"initial_position_synced"`
	CreatedAt             time.Time `db:"created"`
}
