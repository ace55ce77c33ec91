package entities

import (
	"time"
)

// Checkpoint records the last block whose events are fully folded into
// idx_position for one token type
type Checkpoint struct {
	TokenType         string    `db:"token_type"`
	LatestBlockNumber uint64    `db:"latest_block_number"`
	ModifiedAt        time.Time `db:"modified"`
}
