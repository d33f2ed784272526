package genesis

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	"safedeal/crypto"
)

type recorder struct {
	coins  map[[20]byte]uint64
	tokens map[[20]byte]uint64
	order  [][20]byte
}

func newRecorder() *recorder {
	return &recorder{coins: map[[20]byte]uint64{}, tokens: map[[20]byte]uint64{}}
}

func (r *recorder) AddBalance(addr [20]byte, amount *uint256.Int) error {
	r.coins[addr] += amount.Uint64()
	r.order = append(r.order, addr)
	return nil
}

func (r *recorder) Mint(to [20]byte, amount uint64) error {
	r.tokens[to] += amount
	return nil
}

func TestLoadGenesisSpecAndApply(t *testing.T) {
	addr1 := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20))
	addr2 := crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, 20))
	raw := `{
  "genesisTime": "2024-01-01T00:00:00Z",
  "network": "safedeal-localnet",
  "alloc": {
    "` + addr2.String() + `": {"coins": "2000"},
    "` + addr1.String() + `": {"coins": "1000", "tokens": "50"}
  }
}`
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	spec, err := LoadGenesisSpec(path)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if spec.GenesisTimestamp().Unix() != 1704067200 {
		t.Fatalf("unexpected genesis time %v", spec.GenesisTimestamp())
	}
	rec := newRecorder()
	if err := Apply(spec, rec, rec); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.coins[addr1.Bytes20()] != 1000 || rec.coins[addr2.Bytes20()] != 2000 {
		t.Fatalf("unexpected coin allocations %v", rec.coins)
	}
	if rec.tokens[addr1.Bytes20()] != 50 {
		t.Fatalf("unexpected token allocations %v", rec.tokens)
	}
	if len(rec.order) != 2 || rec.order[0] != addr1.Bytes20() {
		t.Fatalf("allocations must be applied in address order")
	}
}

func TestParseGenesisSpecRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"genesisTime":"2024-01-01T00:00:00Z","network":"n","bogus":1}`,
		"missing time":  `{"network":"n"}`,
		"bad address":   `{"genesisTime":"2024-01-01T00:00:00Z","network":"n","alloc":{"bc1xyz":{"coins":"1"}}}`,
		"missing net":   `{"genesisTime":"2024-01-01T00:00:00Z"}`,
	}
	for name, raw := range cases {
		if _, err := ParseGenesisSpec([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
