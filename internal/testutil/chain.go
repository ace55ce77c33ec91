package testutil

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// GenesisTime is the timestamp of block 0 on a FakeChain; each block adds a second
var GenesisTime = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

// FakeChain is an in-memory ethereum.ChainReader. View calls are answered from
// results registered with SetCall; unregistered calls revert.
type FakeChain struct {
	mu sync.Mutex

	head    uint64
	logs    []types.Log
	results map[string][]byte
	code    map[common.Address][]byte
	senders map[common.Hash]common.Address
	txSeq   uint64

	// Error injection, consulted before the fake answers
	BlockNumberErrFunc  func() error
	FilterLogsErrFunc   func(query geth.FilterQuery) error
	CallContractErrFunc func(to common.Address, selector [4]byte) error
	CodeAtErrFunc       func(account common.Address) error

	// Call tracking
	LogQueries int
	calls      map[string]int
	totalCalls int
}

// Ensure FakeChain implements ChainReader
var _ ethereum.ChainReader = (*FakeChain)(nil)

// DefaultSender signs every transaction without a registered sender
var DefaultSender = common.HexToAddress("0x00000000000000000000000000000000000000fe")

func NewFakeChain() *FakeChain {
	return &FakeChain{
		results: make(map[string][]byte),
		code:    make(map[common.Address][]byte),
		senders: make(map[common.Hash]common.Address),
		calls:   make(map[string]int),
	}
}

func (c *FakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if c.BlockNumberErrFunc != nil {
		if err := c.BlockNumberErrFunc(); err != nil {
			return 0, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *FakeChain) FilterLogs(ctx context.Context, query geth.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	c.LogQueries++
	c.mu.Unlock()

	if c.FilterLogsErrFunc != nil {
		if err := c.FilterLogsErrFunc(query); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.Log
	for _, log := range c.logs {
		if query.FromBlock != nil && log.BlockNumber < query.FromBlock.Uint64() {
			continue
		}
		if query.ToBlock != nil && log.BlockNumber > query.ToBlock.Uint64() {
			continue
		}
		if len(query.Addresses) > 0 && !containsAddress(query.Addresses, log.Address) {
			continue
		}
		if !matchTopics(query.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (c *FakeChain) CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("malformed call")
	}
	var selector [4]byte
	copy(selector[:], msg.Data[:4])

	c.mu.Lock()
	c.totalCalls++
	c.calls[selectorKey(*msg.To, selector)]++
	c.mu.Unlock()

	if c.CallContractErrFunc != nil {
		if err := c.CallContractErrFunc(*msg.To, selector); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.results[callKey(*msg.To, msg.Data)]
	if !ok {
		return nil, fmt.Errorf("%w: no result registered", ethereum.ErrCallReverted)
	}
	return out, nil
}

func (c *FakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if c.CodeAtErrFunc != nil {
		if err := c.CodeAtErrFunc(account); err != nil {
			return nil, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[account], nil
}

func (c *FakeChain) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	return GenesisTime.Add(time.Duration(blockNumber) * time.Second), nil
}

func (c *FakeChain) TransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sender, ok := c.senders[txHash]; ok {
		return sender, nil
	}
	return DefaultSender, nil
}

// SetHead moves the chain head
func (c *FakeChain) SetHead(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = block
}

// SetCode marks addr as a contract
func (c *FakeChain) SetCode(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = []byte{0x60, 0x80}
}

// SetCall registers what contract returns for method(args...)
func (c *FakeChain) SetCall(contract common.Address, contractABI *abi.ABI, method string, args []interface{}, outputs ...interface{}) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", method, err))
	}
	out, err := contractABI.Methods[method].Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("pack %s outputs: %v", method, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[callKey(contract, input)] = out
}

// SetBalance sets balanceOf(account) on a security token
func (c *FakeChain) SetBalance(token, account common.Address, amount int64) {
	c.SetCall(token, &ethereum.SecurityTokenABI, "balanceOf", []interface{}{account}, big.NewInt(amount))
}

// SetPendingTransfer sets pendingTransfer(account) on a security token
func (c *FakeChain) SetPendingTransfer(token, account common.Address, amount int64) {
	c.SetCall(token, &ethereum.SecurityTokenABI, "pendingTransfer", []interface{}{account}, big.NewInt(amount))
}

// SetLocked sets lockedOf(lock, account) on a security token
func (c *FakeChain) SetLocked(token, lock, account common.Address, amount int64) {
	c.SetCall(token, &ethereum.SecurityTokenABI, "lockedOf", []interface{}{lock, account}, big.NewInt(amount))
}

// SetTradableExchange sets tradableExchange() on a security token
func (c *FakeChain) SetTradableExchange(token, exchange common.Address) {
	c.SetCall(token, &ethereum.SecurityTokenABI, "tradableExchange", nil, exchange)
	c.SetCode(exchange)
}

// SetOwner sets owner() on a security token
func (c *FakeChain) SetOwner(token, owner common.Address) {
	c.SetCall(token, &ethereum.SecurityTokenABI, "owner", nil, owner)
}

// SetCustody sets balanceOf and commitmentOf(account, token) on an exchange,
// escrow or DVP contract
func (c *FakeChain) SetCustody(custody, token, account common.Address, balance, commitment int64) {
	args := []interface{}{account, token}
	c.SetCall(custody, &ethereum.ExchangeABI, "balanceOf", args, big.NewInt(balance))
	c.SetCall(custody, &ethereum.ExchangeABI, "commitmentOf", args, big.NewInt(commitment))
}

// SetSender registers the signer of a transaction
func (c *FakeChain) SetSender(txHash common.Hash, sender common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders[txHash] = sender
}

// Emit appends a log of event with args given in ABI input order and returns it
func (c *FakeChain) Emit(contract common.Address, contractABI *abi.ABI, event string, block uint64, args ...interface{}) types.Log {
	log := BuildLog(contractABI, event, args...)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.txSeq++
	log.Address = contract
	log.BlockNumber = block
	log.TxHash = crypto.Keccak256Hash(new(big.Int).SetUint64(c.txSeq).Bytes())
	log.Index = uint(len(c.logs))
	c.logs = append(c.logs, log)

	sort.SliceStable(c.logs, func(i, j int) bool { return c.logs[i].BlockNumber < c.logs[j].BlockNumber })
	return log
}

// CallCount returns how often method was called on contract
func (c *FakeChain) CallCount(contract common.Address, contractABI *abi.ABI, method string) int {
	var selector [4]byte
	copy(selector[:], contractABI.Methods[method].ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[selectorKey(contract, selector)]
}

// TotalCalls returns the number of view calls made
func (c *FakeChain) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCalls
}

// ResetCounters clears call and log query tracking
func (c *FakeChain) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogQueries = 0
	c.totalCalls = 0
	c.calls = make(map[string]int)
}

// Selector returns the 4-byte ID of method
func Selector(contractABI *abi.ABI, method string) [4]byte {
	var selector [4]byte
	copy(selector[:], contractABI.Methods[method].ID)
	return selector
}

// BuildLog encodes event with args given in ABI input order. Address, block
// and transaction fields are left for the caller.
func BuildLog(contractABI *abi.ABI, event string, args ...interface{}) types.Log {
	ev, ok := contractABI.Events[event]
	if !ok {
		panic("unknown event " + event)
	}
	if len(args) != len(ev.Inputs) {
		panic(fmt.Sprintf("%s takes %d args, got %d", event, len(ev.Inputs), len(args)))
	}

	var (
		indexed    [][]interface{}
		nonIndexed []interface{}
	)
	for i, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, []interface{}{args[i]})
		} else {
			nonIndexed = append(nonIndexed, args[i])
		}
	}

	topics := []common.Hash{ev.ID}
	if len(indexed) > 0 {
		extra, err := abi.MakeTopics(indexed...)
		if err != nil {
			panic(fmt.Sprintf("topics of %s: %v", event, err))
		}
		for _, t := range extra {
			topics = append(topics, t[0])
		}
	}

	data, err := ev.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		panic(fmt.Sprintf("data of %s: %v", event, err))
	}

	return types.Log{Topics: topics, Data: data}
}

func callKey(contract common.Address, input []byte) string {
	return contract.Hex() + ":" + hex.EncodeToString(input)
}

func selectorKey(contract common.Address, selector [4]byte) string {
	return contract.Hex() + ":" + hex.EncodeToString(selector[:])
}

func containsAddress(addrs []common.Address, addr common.Address) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	for i, wanted := range filter {
		if len(wanted) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range wanted {
			if h == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
