package core

import (
	"testing"
	"time"

	"safedeal/core/types"
)

func TestClockSlotAt(t *testing.T) {
	genesis := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock, err := NewClock(genesis, 16*time.Second, 32)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	cases := []struct {
		at   time.Time
		want types.Slot
	}{
		{genesis.Add(-time.Hour), types.Slot{}},
		{genesis, types.Slot{}},
		{genesis.Add(499 * time.Millisecond), types.Slot{Period: 0, Thread: 0}},
		{genesis.Add(500 * time.Millisecond), types.Slot{Period: 0, Thread: 1}},
		{genesis.Add(15999 * time.Millisecond), types.Slot{Period: 0, Thread: 31}},
		{genesis.Add(16 * time.Second), types.Slot{Period: 1, Thread: 0}},
		{genesis.Add(160*time.Second + 8*time.Second), types.Slot{Period: 10, Thread: 16}},
	}
	for _, tc := range cases {
		if got := clock.SlotAt(tc.at); got != tc.want {
			t.Fatalf("SlotAt(%s) = %s, want %s", tc.at.Sub(genesis), got, tc.want)
		}
	}
	start := clock.SlotStart(types.Slot{Period: 10, Thread: 16})
	if !start.Equal(genesis.Add(168 * time.Second)) {
		t.Fatalf("unexpected slot start %s", start)
	}
}

func TestClockNowAndValidation(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	clock, err := NewClock(genesis, 4*time.Second, 4)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	clock.SetNow(func() time.Time { return genesis.Add(9 * time.Second) })
	if got := clock.Now(); got != (types.Slot{Period: 2, Thread: 1}) {
		t.Fatalf("unexpected now %s", got)
	}
	if _, err := NewClock(genesis, 0, 4); err == nil {
		t.Fatalf("expected zero t0 to be rejected")
	}
	if _, err := NewClock(genesis, time.Second, 0); err == nil {
		t.Fatalf("expected zero threads to be rejected")
	}
}
