package events

import (
	"encoding/hex"
	"strconv"

	"safedeal/core/types"
	"safedeal/crypto"
)

const (
	// TypeTransfer is emitted for native coin movements initiated by contracts.
	TypeTransfer = "transfer.native"
	// TypeDeferredExecuted is emitted after a booked call ran.
	TypeDeferredExecuted = "deferred.executed"
	// TypeFaucet is emitted for dev network funding.
	TypeFaucet = "dev.faucet"
)

type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

// DeferredExecuted reports the outcome of a deferred call.
type DeferredExecuted struct {
	CallID   string
	Target   [20]byte
	Function string
	Slot     types.Slot
	Err      string
}

func (DeferredExecuted) EventType() string { return TypeDeferredExecuted }

func (e DeferredExecuted) Event() *types.Event {
	attrs := map[string]string{
		"callId":   e.CallID,
		"target":   formatAddress(e.Target),
		"function": e.Function,
		"period":   strconv.FormatUint(e.Slot.Period, 10),
		"thread":   strconv.FormatUint(uint64(e.Slot.Thread), 10),
		"success":  strconv.FormatBool(e.Err == ""),
	}
	if e.Err != "" {
		attrs["error"] = e.Err
	}
	return &types.Event{Type: TypeDeferredExecuted, Attributes: attrs}
}

// Faucet reports a dev network credit.
type Faucet struct {
	To     [20]byte
	Coins  uint64
	Tokens uint64
}

func (Faucet) EventType() string { return TypeFaucet }

func (e Faucet) Event() *types.Event {
	return &types.Event{Type: TypeFaucet, Attributes: map[string]string{
		"to":     formatAddress(e.To),
		"coins":  strconv.FormatUint(e.Coins, 10),
		"tokens": strconv.FormatUint(e.Tokens, 10),
	}}
}

func formatAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.AddressFrom20(crypto.AccountPrefix, addr).String()
}

// FormatHash renders a transaction hash, or "" for the zero hash.
func FormatHash(h [32]byte) string {
	if h == ([32]byte{}) {
		return ""
	}
	return "0x" + hex.EncodeToString(h[:])
}
