package genesis

import (
	"fmt"

	"github.com/holiman/uint256"
)

type coinState interface {
	AddBalance(addr [20]byte, amount *uint256.Int) error
}

type tokenMinter interface {
	Mint(to [20]byte, amount uint64) error
}

// Apply credits every allocation. The caller is responsible for applying a
// spec only once per database.
func Apply(spec *GenesisSpec, coins coinState, tokens tokenMinter) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if coins == nil {
		return fmt.Errorf("coin state must not be nil")
	}
	for _, alloc := range spec.Allocations() {
		if alloc.Coins > 0 {
			if err := coins.AddBalance(alloc.Address, uint256.NewInt(alloc.Coins)); err != nil {
				return fmt.Errorf("credit coins: %w", err)
			}
		}
		if alloc.Tokens > 0 {
			if tokens == nil {
				return fmt.Errorf("token allocation without token ledger")
			}
			if err := tokens.Mint(alloc.Address, alloc.Tokens); err != nil {
				return fmt.Errorf("mint tokens: %w", err)
			}
		}
	}
	return nil
}
