package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// ErrStorage marks a failure of the position store inside a sync cycle
var ErrStorage = errors.New("storage failure")

func storageError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorage, op, err)
}

// isFatal reports whether err makes the shared chain connection or storage
// session unusable, which aborts the cycle instead of one handler.
func isFatal(err error) bool {
	return errors.Is(err, ethereum.ErrChainUnavailable) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
