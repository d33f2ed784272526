package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"safedeal/crypto"
)

// GenesisSpec describes the initial chain state: the genesis time slots are
// counted from and the starting native coin and token balances.
type GenesisSpec struct {
	GenesisTime string               `json:"genesisTime"`
	Network     string               `json:"network"`
	Alloc       map[string]AllocSpec `json:"alloc"`
	Token       *TokenSpec           `json:"token,omitempty"`

	genesisTimestamp time.Time
	allocations      []Allocation
}

// AllocSpec holds decimal amounts for one account.
type AllocSpec struct {
	Coins  string `json:"coins"`
	Tokens string `json:"tokens,omitempty"`
}

// TokenSpec overrides the metadata of the allowed token.
type TokenSpec struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Allocation is a validated, decoded alloc entry.
type Allocation struct {
	Address [20]byte
	Coins   uint64
	Tokens  uint64
}

// LoadGenesisSpec reads and validates a JSON genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes raw JSON, rejecting unknown fields.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Allocations returns the decoded allocations sorted by address so they are
// applied in a deterministic order.
func (s *GenesisSpec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	copy(out, s.allocations)
	return out
}

func (s *GenesisSpec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts
	if strings.TrimSpace(s.Network) == "" {
		return fmt.Errorf("network must be provided")
	}
	if s.Token != nil && strings.TrimSpace(s.Token.Symbol) == "" {
		return fmt.Errorf("token.symbol must be provided")
	}

	s.allocations = s.allocations[:0]
	for addr, alloc := range s.Alloc {
		decoded, err := crypto.ParseAddress20(addr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addr, err)
		}
		coins, err := parseAmountString(alloc.Coins)
		if err != nil {
			return fmt.Errorf("alloc %q coins: %w", addr, err)
		}
		tokens, err := parseAmountString(alloc.Tokens)
		if err != nil {
			return fmt.Errorf("alloc %q tokens: %w", addr, err)
		}
		s.allocations = append(s.allocations, Allocation{Address: decoded, Coins: coins, Tokens: tokens})
	}
	sort.Slice(s.allocations, func(i, j int) bool {
		return bytes.Compare(s.allocations[i].Address[:], s.allocations[j].Address[:]) < 0
	})
	return nil
}

func parseAmountString(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return 0, fmt.Errorf("amount must not be negative")
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("amount %q exceeds uint64", value)
	}
	return amount.Uint64(), nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
