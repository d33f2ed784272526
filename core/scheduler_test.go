package core

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"safedeal/core/state"
	"safedeal/core/types"
	"safedeal/storage"
)

func newTestScheduler(t *testing.T, cfg SchedulerConfig) (*Scheduler, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	return NewScheduler(manager, cfg, 4), manager
}

func TestSchedulerQuote(t *testing.T) {
	cfg := SchedulerConfig{BaseFee: 1_000, GasPrice: 2, ByteFee: 10, MaxGasPerSlot: 10_000, MaxBookingPeriods: 100}
	sched, _ := newTestScheduler(t, cfg)
	now := types.Slot{Period: 5, Thread: 2}

	fee, err := sched.Quote(now, types.Slot{Period: 6, Thread: 2}, 500, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000+500*2+4*10), fee)

	cases := []struct {
		name   string
		target types.Slot
		gas    uint64
		want   error
	}{
		{"current slot", now, 100, ErrSlotNotInFuture},
		{"past slot", types.Slot{Period: 4, Thread: 3}, 100, ErrSlotNotInFuture},
		{"too far", types.Slot{Period: 106}, 100, ErrSlotTooFar},
		{"bad thread", types.Slot{Period: 6, Thread: 4}, 100, ErrInvalidThread},
		{"zero gas", types.Slot{Period: 6}, 0, ErrInvalidGas},
		{"gas above slot capacity", types.Slot{Period: 6}, 10_001, ErrInvalidGas},
	}
	for _, tc := range cases {
		_, err := sched.Quote(now, tc.target, tc.gas, 0)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestSchedulerRegisterAndCapacity(t *testing.T) {
	cfg := SchedulerConfig{BaseFee: 1_000, GasPrice: 1, ByteFee: 0, MaxGasPerSlot: 10_000, MaxBookingPeriods: 100}
	sched, manager := newTestScheduler(t, cfg)
	sender := [20]byte{0xaa}
	target := [20]byte{0xbb}
	require.NoError(t, manager.AddBalance(sender, uint256.NewInt(100_000)))

	now := types.Slot{Period: 1}
	slot := types.Slot{Period: 3, Thread: 1}
	first, err := sched.Register(now, sender, target, "processDeal", slot, 6_000, []byte{0x01}, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(7_000), first.Fee)
	require.Len(t, first.ID, 33)
	require.Equal(t, byte('D'), first.ID[0])

	// 6000 of 10000 gas booked: premium is 60% of the base fee.
	fee, err := sched.Quote(now, slot, 1_000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000+1_000+600), fee)

	_, err = sched.Register(now, sender, target, "processDeal", slot, 5_000, nil, 0)
	require.ErrorIs(t, err, ErrSlotFull)

	burned, err := manager.Burned()
	require.NoError(t, err)
	require.Equal(t, uint64(7_000), burned.Uint64())
	held, err := manager.Balance(DeferredCallsAddress)
	require.NoError(t, err)
	require.Equal(t, uint64(500), held.Uint64())

	due, err := sched.Due(slot)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, first.ID, due[0].ID)
	require.Equal(t, target, due[0].Target)

	require.NoError(t, sched.MarkExecuted(first.ID, errors.New("boom")))
	stored, err := sched.Get(first.ID)
	require.NoError(t, err)
	require.True(t, stored.Executed)
	require.True(t, stored.Failed)
	require.Equal(t, "boom", stored.Error)

	due, err = sched.Due(slot)
	require.NoError(t, err)
	require.Empty(t, due)

	_, err = sched.Get("Dmissing")
	require.ErrorIs(t, err, ErrDeferredNotFound)
}

func TestSchedulerRegisterRequiresFee(t *testing.T) {
	sched, _ := newTestScheduler(t, DefaultSchedulerConfig())
	_, err := sched.Register(types.Slot{}, [20]byte{0x01}, [20]byte{0x02}, "processDeal", types.Slot{Period: 2}, 1_000, nil, 0)
	require.ErrorIs(t, err, state.ErrInsufficientBalance)
}
