package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/config"
)

var (
	// ErrChainUnavailable is returned once every retry of an RPC call failed
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrCallReverted is returned when a contract call executed and reverted
	ErrCallReverted = errors.New("execution reverted")
)

// ChainReader is the read-only view of the chain the indexer depends on
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)
	TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error)
}

// Ensure Client implements ChainReader
var _ ChainReader = (*Client)(nil)

// Client wraps the node client with retry logic
type Client struct {
	client  *ethclient.Client
	config  config.EthereumConfig
	logger  *zap.Logger
	chainID *big.Int
	signer  types.Signer
}

// NewClient creates a new node client and checks the chain ID
func NewClient(cfg config.EthereumConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	if chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", cfg.ChainID, chainID.Int64())
	}

	logger.Info("Connected to node",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int64("chain_id", chainID.Int64()),
	)

	return &Client{
		client:  client,
		config:  cfg,
		logger:  logger,
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Close closes the node connection
func (c *Client) Close() {
	c.client.Close()
}

// HealthCheck verifies the node answers, without retrying
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return withRetry(ctx, c, "get latest block number", func(ctx context.Context) (uint64, error) {
		return c.client.BlockNumber(ctx)
	})
}

// FilterLogs retrieves logs matching the filter query
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return withRetry(ctx, c, "get logs", func(ctx context.Context) ([]types.Log, error) {
		return c.client.FilterLogs(ctx, query)
	})
}

// CallContract executes a read-only call. A revert is returned as
// ErrCallReverted without retrying.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c, "call contract", func(ctx context.Context) ([]byte, error) {
		out, err := c.client.CallContract(ctx, msg, blockNumber)
		if err != nil && isRevert(err) {
			return nil, backoffStop{fmt.Errorf("%w: %v", ErrCallReverted, err)}
		}
		return out, err
	})
}

// CodeAt returns the contract code deployed at an address
func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return withRetry(ctx, c, "get code", func(ctx context.Context) ([]byte, error) {
		return c.client.CodeAt(ctx, account, blockNumber)
	})
}

// BlockTimestamp returns the timestamp of a block
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := withRetry(ctx, c, "get block header", func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// TransactionSender returns the account that signed a transaction
func (c *Client) TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	tx, err := withRetry(ctx, c, "get transaction", func(ctx context.Context) (*types.Transaction, error) {
		tx, _, err := c.client.TransactionByHash(ctx, txHash)
		return tx, err
	})
	if err != nil {
		return common.Address{}, err
	}
	sender, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover sender of %s: %w", txHash.Hex(), err)
	}
	return sender, nil
}

// backoffStop marks an error that must not be retried
type backoffStop struct{ err error }

func (b backoffStop) Error() string { return b.err.Error() }
func (b backoffStop) Unwrap() error { return b.err }

func withRetry[T any](ctx context.Context, c *Client, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)

	for i := 0; i <= c.config.MaxRetries; i++ {
		callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		result, err = fn(callCtx)
		cancel()
		if err == nil {
			return result, nil
		}

		var stop backoffStop
		if errors.As(err, &stop) {
			return result, stop.err
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		c.logger.Warn("Failed to "+op+", retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if i < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}

	return result, fmt.Errorf("%w: failed to %s after %d retries: %v", ErrChainUnavailable, op, c.config.MaxRetries, err)
}

func isRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "invalid opcode")
}
