package services

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/domain/repositories"
	"github.com/bimakw/position-indexer/internal/infrastructure/ethereum"
)

// TokenContract is one active token as seen by a sync cycle
type TokenContract struct {
	Address               common.Address
	RegistryAddress       string
	Issuer                common.Address
	ABI                   *abi.ABI
	InitialPositionSynced bool
}

// ContractSet is the discovery result a cycle is threaded with
type ContractSet struct {
	Tokens    []*TokenContract
	Exchanges []common.Address

	byAddress map[common.Address]*TokenContract
}

// Lookup returns the listed token at addr
func (s *ContractSet) Lookup(addr common.Address) (*TokenContract, bool) {
	token, ok := s.byAddress[addr]
	return token, ok
}

// ContractRegistry discovers tokens and their custody contracts
type ContractRegistry struct {
	resolver *BalanceResolver
	logger   *zap.Logger
}

// NewContractRegistry creates a new contract registry
func NewContractRegistry(resolver *BalanceResolver, logger *zap.Logger) *ContractRegistry {
	return &ContractRegistry{
		resolver: resolver,
		logger:   logger,
	}
}

// Discover lists active tokens of tokenType and the distinct exchange
// addresses they are tradable on. A token whose exchange cannot be resolved
// is kept in the token list and left out of exchange discovery.
func (r *ContractRegistry) Discover(ctx context.Context, tokens repositories.TokenRepository, tokenType string) (*ContractSet, error) {
	rows, err := tokens.ListActiveByType(ctx, tokenType)
	if err != nil {
		return nil, storageError("list tokens", err)
	}

	set := &ContractSet{
		Tokens:    make([]*TokenContract, 0, len(rows)),
		byAddress: make(map[common.Address]*TokenContract, len(rows)),
	}
	seen := make(map[common.Address]struct{})

	for _, row := range rows {
		if !common.IsHexAddress(row.TokenAddress) {
			r.logger.Warn("Skipping token with malformed address", zap.String("token", row.TokenAddress))
			continue
		}

		contractABI, err := ethereum.ParseABI(row.ABI)
		if err != nil {
			contractABI = &ethereum.SecurityTokenABI
		}

		token := &TokenContract{
			Address:               common.HexToAddress(row.TokenAddress),
			RegistryAddress:       row.TokenAddress,
			Issuer:                common.HexToAddress(row.IssuerAddress),
			ABI:                   contractABI,
			InitialPositionSynced: row.InitialPositionSynced,
		}
		set.Tokens = append(set.Tokens, token)
		set.byAddress[token.Address] = token

		exchange, err := r.resolver.TradableExchange(ctx, token)
		if err != nil {
			if isFatal(err) {
				return nil, err
			}
			r.logger.Warn("Failed to resolve tradable exchange",
				zap.String("token", token.Address.Hex()),
				zap.Error(err),
			)
			continue
		}
		if r.resolver.IsZero(exchange) {
			continue
		}
		if _, ok := seen[exchange]; ok {
			continue
		}
		seen[exchange] = struct{}{}
		set.Exchanges = append(set.Exchanges, exchange)
	}

	return set, nil
}
