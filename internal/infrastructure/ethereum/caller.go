/*
 * Copyright (c) 2024 Bima Kharisma Wicaksana
 * GitHub: https://github.com/bimakw
 *
 * Licensed under MIT License with Attribution Requirement.
 * See LICENSE file for details.
 */

package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller executes read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ViewCall is a typed read-only call with a declared fallback. Default is
// returned when the ABI has no such method (older contract versions), when
// the call reverts, or when the contract returns no data.
type ViewCall[T any] struct {
	Method  string
	Default T
}

// Call packs args, executes the call against address and decodes the first output
func (v ViewCall[T]) Call(ctx context.Context, caller ContractCaller, contractABI *abi.ABI, address common.Address, args ...interface{}) (T, error) {
	method, ok := contractABI.Methods[v.Method]
	if !ok {
		return v.Default, nil
	}

	input, err := contractABI.Pack(v.Method, args...)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to pack %s: %w", v.Method, err)
	}

	output, err := caller.CallContract(ctx, ethereum.CallMsg{To: &address, Data: input}, nil)
	if err != nil {
		if errors.Is(err, ErrCallReverted) {
			return v.Default, nil
		}
		var zero T
		return zero, fmt.Errorf("failed to call %s on %s: %w", v.Method, address.Hex(), err)
	}

	if len(output) == 0 {
		return v.Default, nil
	}

	values, err := method.Outputs.Unpack(output)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to unpack %s: %w", v.Method, err)
	}
	if len(values) == 0 {
		return v.Default, nil
	}

	result, ok := values[0].(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected %s output type %T", v.Method, values[0])
	}
	return result, nil
}
