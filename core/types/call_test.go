package types

import (
	"bytes"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestCallSignAndRecover(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	call := &Call{
		Network:  "safedeal-local",
		Nonce:    3,
		Target:   [20]byte{0xAA},
		Function: "approveAndRelease",
		Args:     []byte{0x01},
	}
	if err := call.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := call.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	if !bytes.Equal(from, ethcrypto.PubkeyToAddress(key.PublicKey).Bytes()) {
		t.Fatalf("recovered wrong signer")
	}

	tampered := *call
	tampered.from = nil
	tampered.Coins = 10
	other, err := tampered.From()
	if err == nil && bytes.Equal(other, from) {
		t.Fatalf("tampered call must not recover the original signer")
	}
}

func TestCallFromRejectsMissingSignature(t *testing.T) {
	call := &Call{Function: "getDeal"}
	if _, err := call.From(); err == nil {
		t.Fatalf("expected error for unsigned call")
	}
	call.R, call.S, call.V = big.NewInt(1), big.NewInt(1), big.NewInt(5)
	if _, err := call.From(); err == nil {
		t.Fatalf("expected error for bad recovery id")
	}
}

func TestSlotOrdering(t *testing.T) {
	a := Slot{Period: 4, Thread: 31}
	b := a.Next(32)
	if b != (Slot{Period: 5}) {
		t.Fatalf("unexpected next slot %v", b)
	}
	if !a.Before(b) || b.Before(a) {
		t.Fatalf("ordering broken")
	}
	if (Slot{Period: 5, Thread: 1}).Next(32) != (Slot{Period: 5, Thread: 2}) {
		t.Fatalf("thread increment broken")
	}
}
