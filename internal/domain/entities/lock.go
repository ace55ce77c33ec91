package entities

import (
	"encoding/json"
	"math/big"
	"time"
)

// LockEvent is the persisted record of a token Lock log
type LockEvent struct {
	TransactionHash string
	LogIndex        uint
	MsgSender       string
	BlockNumber     uint64
	TokenAddress    string
	LockAddress     string
	AccountAddress  string
	Value           *big.Int
	Data            json.RawMessage
	BlockTimestamp  time.Time
}

// UnlockEvent is the persisted record of a token Unlock log
type UnlockEvent struct {
	TransactionHash  string
	LogIndex         uint
	MsgSender        string
	BlockNumber      uint64
	TokenAddress     string
	LockAddress      string
	AccountAddress   string
	RecipientAddress string
	Value            *big.Int
	Data             json.RawMessage
	BlockTimestamp   time.Time
}

// LockedPosition is the amount an account has locked to one lock address
type LockedPosition struct {
	TokenAddress   string
	LockAddress    string
	AccountAddress string
	Value          *big.Int
	ModifiedAt     time.Time
}
