package core

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"safedeal/core/types"
	"safedeal/crypto"
)

var (
	ErrSlotNotInFuture  = errors.New("scheduler: target slot must be after the current slot")
	ErrSlotTooFar       = errors.New("scheduler: target slot beyond booking horizon")
	ErrInvalidThread    = errors.New("scheduler: invalid thread")
	ErrInvalidGas       = errors.New("scheduler: invalid max gas")
	ErrSlotFull         = errors.New("scheduler: slot gas capacity exhausted")
	ErrFeeOverflow      = errors.New("scheduler: fee overflow")
	ErrDeferredNotFound = errors.New("scheduler: deferred call not found")
)

// DeferredCallsAddress holds coins attached to booked calls until they run.
var DeferredCallsAddress = crypto.ContractAddress("deferred-calls").Bytes20()

var (
	deferredSeqKey = []byte("deferred/seq")
)

func deferredCallKey(id string) []byte { return []byte("deferred/call/" + id) }

func deferredSlotKey(slot types.Slot) []byte {
	return []byte(fmt.Sprintf("deferred/slot/%d/%d", slot.Period, slot.Thread))
}

func deferredSlotGasKey(slot types.Slot) []byte {
	return []byte(fmt.Sprintf("deferred/slotgas/%d/%d", slot.Period, slot.Thread))
}

// SchedulerConfig prices and bounds deferred call bookings.
type SchedulerConfig struct {
	BaseFee           uint64
	GasPrice          uint64
	ByteFee           uint64
	MaxGasPerSlot     uint64
	MaxBookingPeriods uint64
}

// DefaultSchedulerConfig returns the localnet pricing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseFee:           10_000_000,
		GasPrice:          1,
		ByteFee:           1_000,
		MaxGasPerSlot:     1_000_000_000,
		MaxBookingPeriods: 10_000_000,
	}
}

// DeferredCall is a booked future invocation.
type DeferredCall struct {
	ID       string     `json:"id"`
	Sender   [20]byte   `json:"-"`
	Target   [20]byte   `json:"-"`
	Function string     `json:"function"`
	Params   []byte     `json:"params"`
	Slot     types.Slot `json:"slot"`
	MaxGas   uint64     `json:"maxGas"`
	Coins    uint64     `json:"coins"`
	Fee      uint64     `json:"fee"`
	Executed bool       `json:"executed"`
	Failed   bool       `json:"failed"`
	Error    string     `json:"error,omitempty"`
}

type schedulerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Burn(addr [20]byte, amount uint64) error
	TransferCoins(from, to [20]byte, amount uint64) error
}

// Scheduler books and tracks deferred calls in chain state.
type Scheduler struct {
	state   schedulerState
	cfg     SchedulerConfig
	threads uint8
}

// NewScheduler creates a scheduler for a chain with the given thread count.
func NewScheduler(state schedulerState, cfg SchedulerConfig, threads uint8) *Scheduler {
	return &Scheduler{state: state, cfg: cfg, threads: threads}
}

// Config returns the active pricing.
func (s *Scheduler) Config() SchedulerConfig { return s.cfg }

func (s *Scheduler) bookedGas(slot types.Slot) (uint64, error) {
	var gas uint64
	if _, err := s.state.KVGet(deferredSlotGasKey(slot), &gas); err != nil {
		return 0, err
	}
	return gas, nil
}

// Quote prices a booking at target made during now. The congestion premium
// scales the base fee by the share of the slot's gas already booked.
func (s *Scheduler) Quote(now, target types.Slot, maxGas, paramsSize uint64) (uint64, error) {
	if target.Thread >= s.threads {
		return 0, fmt.Errorf("%w: %d", ErrInvalidThread, target.Thread)
	}
	if !now.Before(target) {
		return 0, fmt.Errorf("%w: now %s, target %s", ErrSlotNotInFuture, now, target)
	}
	if target.Period-now.Period > s.cfg.MaxBookingPeriods {
		return 0, fmt.Errorf("%w: %d periods ahead", ErrSlotTooFar, target.Period-now.Period)
	}
	if maxGas == 0 || maxGas > s.cfg.MaxGasPerSlot {
		return 0, fmt.Errorf("%w: %d", ErrInvalidGas, maxGas)
	}
	booked, err := s.bookedGas(target)
	if err != nil {
		return 0, err
	}
	if booked+maxGas > s.cfg.MaxGasPerSlot {
		return 0, fmt.Errorf("%w: booked %d, requested %d, capacity %d", ErrSlotFull, booked, maxGas, s.cfg.MaxGasPerSlot)
	}

	fee := uint256.NewInt(s.cfg.BaseFee)
	gasCost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(maxGas), uint256.NewInt(s.cfg.GasPrice))
	if overflow {
		return 0, ErrFeeOverflow
	}
	byteCost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(paramsSize), uint256.NewInt(s.cfg.ByteFee))
	if overflow {
		return 0, ErrFeeOverflow
	}
	premium := new(uint256.Int).Mul(uint256.NewInt(s.cfg.BaseFee), uint256.NewInt(booked))
	premium.Div(premium, uint256.NewInt(s.cfg.MaxGasPerSlot))
	for _, part := range []*uint256.Int{gasCost, byteCost, premium} {
		if _, overflow := fee.AddOverflow(fee, part); overflow {
			return 0, ErrFeeOverflow
		}
	}
	if !fee.IsUint64() {
		return 0, ErrFeeOverflow
	}
	return fee.Uint64(), nil
}

// Register books function on target at slot. The fee is burned from sender
// and attached coins are held until execution.
func (s *Scheduler) Register(now types.Slot, sender, target [20]byte, function string, slot types.Slot, maxGas uint64, params []byte, coins uint64) (*DeferredCall, error) {
	fee, err := s.Quote(now, slot, maxGas, uint64(len(params)))
	if err != nil {
		return nil, err
	}
	if err := s.state.Burn(sender, fee); err != nil {
		return nil, fmt.Errorf("scheduler: pay booking fee: %w", err)
	}
	if err := s.state.TransferCoins(sender, DeferredCallsAddress, coins); err != nil {
		return nil, fmt.Errorf("scheduler: hold attached coins: %w", err)
	}

	var seq uint64
	if _, err := s.state.KVGet(deferredSeqKey, &seq); err != nil {
		return nil, err
	}
	seq++
	if err := s.state.KVPut(deferredSeqKey, seq); err != nil {
		return nil, err
	}
	call := &DeferredCall{
		Sender:   sender,
		Target:   target,
		Function: function,
		Params:   append([]byte(nil), params...),
		Slot:     slot,
		MaxGas:   maxGas,
		Coins:    coins,
		Fee:      fee,
	}
	call.ID, err = deferredCallID(seq, call)
	if err != nil {
		return nil, err
	}
	if err := s.state.KVPut(deferredCallKey(call.ID), call); err != nil {
		return nil, err
	}
	var ids []string
	if _, err := s.state.KVGet(deferredSlotKey(slot), &ids); err != nil {
		return nil, err
	}
	ids = append(ids, call.ID)
	if err := s.state.KVPut(deferredSlotKey(slot), ids); err != nil {
		return nil, err
	}
	booked, err := s.bookedGas(slot)
	if err != nil {
		return nil, err
	}
	if err := s.state.KVPut(deferredSlotGasKey(slot), booked+maxGas); err != nil {
		return nil, err
	}
	return call, nil
}

func deferredCallID(seq uint64, call *DeferredCall) (string, error) {
	encoded, err := rlp.EncodeToBytes([]interface{}{seq, call.Sender, call.Target, call.Function, call.Slot, call.Params})
	if err != nil {
		return "", err
	}
	digest := blake3.Sum256(encoded)
	return "D" + hex.EncodeToString(digest[:16]), nil
}

// Get loads a booked call.
func (s *Scheduler) Get(id string) (*DeferredCall, error) {
	call := new(DeferredCall)
	ok, err := s.state.KVGet(deferredCallKey(id), call)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDeferredNotFound
	}
	return call, nil
}

// Due returns the pending calls booked at slot in booking order.
func (s *Scheduler) Due(slot types.Slot) ([]*DeferredCall, error) {
	var ids []string
	if _, err := s.state.KVGet(deferredSlotKey(slot), &ids); err != nil {
		return nil, err
	}
	out := make([]*DeferredCall, 0, len(ids))
	for _, id := range ids {
		call, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if call.Executed {
			continue
		}
		out = append(out, call)
	}
	return out, nil
}

// MarkExecuted records the outcome of a call. A nil execErr marks success.
func (s *Scheduler) MarkExecuted(id string, execErr error) error {
	call, err := s.Get(id)
	if err != nil {
		return err
	}
	call.Executed = true
	call.Failed = execErr != nil
	if execErr != nil {
		call.Error = execErr.Error()
	}
	return s.state.KVPut(deferredCallKey(id), call)
}
