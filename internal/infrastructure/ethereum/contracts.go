package ethereum

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFiles embed.FS

// Built-in contract interfaces. Token rows may carry their own ABI, these are
// used for custody contracts and for tokens whose stored ABI is unusable.
var (
	SecurityTokenABI = mustLoadABI("security_token.json")
	ExchangeABI      = mustLoadABI("exchange.json")
	EscrowABI        = mustLoadABI("escrow.json")
	DVPABI           = mustLoadABI("dvp.json")
)

func mustLoadABI(name string) abi.ABI {
	data, err := abiFiles.ReadFile("abi/" + name)
	if err != nil {
		panic(fmt.Sprintf("failed to read embedded ABI %s: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded ABI %s: %v", name, err))
	}
	return parsed
}

// ParseABI parses a contract ABI stored as JSON text
func ParseABI(raw string) (*abi.ABI, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty ABI")
	}
	parsed, err := abi.JSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return &parsed, nil
}
