package ethereum

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventArgs holds the decoded arguments of one log, indexed and not
type EventArgs map[string]interface{}

// Address returns an address argument
func (a EventArgs) Address(name string) (common.Address, error) {
	v, ok := a[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("event argument %q is not an address", name)
	}
	return v, nil
}

// BigInt returns an integer argument
func (a EventArgs) BigInt(name string) (*big.Int, error) {
	v, ok := a[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("event argument %q is not an integer", name)
	}
	return v, nil
}

// String returns a string argument
func (a EventArgs) String(name string) (string, error) {
	v, ok := a[name].(string)
	if !ok {
		return "", fmt.Errorf("event argument %q is not a string", name)
	}
	return v, nil
}

// EventQuery builds a filter for one event emitted by any of addresses
func EventQuery(contractABI *abi.ABI, eventName string, addresses []common.Address, fromBlock, toBlock uint64) (ethereum.FilterQuery, error) {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return ethereum.FilterQuery{}, fmt.Errorf("event %s not found in ABI", eventName)
	}

	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    [][]common.Hash{{event.ID}},
	}, nil
}

// DecodeLog resolves the event a log was emitted for and decodes its arguments
func DecodeLog(contractABI *abi.ABI, log types.Log) (string, EventArgs, error) {
	if len(log.Topics) == 0 {
		return "", nil, fmt.Errorf("log %s:%d has no topics", log.TxHash.Hex(), log.Index)
	}

	event, err := contractABI.EventByID(log.Topics[0])
	if err != nil {
		return "", nil, fmt.Errorf("unknown event %s: %w", log.Topics[0].Hex(), err)
	}

	args := make(EventArgs)
	if err := event.Inputs.UnpackIntoMap(args, log.Data); err != nil {
		return "", nil, fmt.Errorf("failed to unpack %s data: %w", event.Name, err)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return "", nil, fmt.Errorf("failed to parse %s topics: %w", event.Name, err)
	}

	return event.Name, args, nil
}
