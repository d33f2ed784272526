package core

import (
	"fmt"
	"time"

	"safedeal/core/types"
)

// Clock maps wall time onto slots. Period p starts at genesis + p*T0 and is
// split evenly between the threads.
type Clock struct {
	genesis time.Time
	t0      time.Duration
	threads uint8
	now     func() time.Time
}

// NewClock validates the timing parameters.
func NewClock(genesis time.Time, t0 time.Duration, threads uint8) (*Clock, error) {
	if t0 <= 0 {
		return nil, fmt.Errorf("clock: t0 must be positive")
	}
	if threads == 0 {
		return nil, fmt.Errorf("clock: thread count must be positive")
	}
	if t0 < time.Duration(threads) {
		return nil, fmt.Errorf("clock: t0 %s too short for %d threads", t0, threads)
	}
	return &Clock{genesis: genesis.UTC(), t0: t0, threads: threads, now: time.Now}, nil
}

// SetNow overrides the wall clock source. Intended for tests.
func (c *Clock) SetNow(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	c.now = fn
}

func (c *Clock) Genesis() time.Time          { return c.genesis }
func (c *Clock) T0() time.Duration           { return c.t0 }
func (c *Clock) Threads() uint8              { return c.threads }
func (c *Clock) SlotDuration() time.Duration { return c.t0 / time.Duration(c.threads) }

// SlotAt returns the slot containing t. Times before genesis map to the
// first slot.
func (c *Clock) SlotAt(t time.Time) types.Slot {
	if !t.After(c.genesis) {
		return types.Slot{}
	}
	elapsed := t.Sub(c.genesis)
	period := uint64(elapsed / c.t0)
	within := elapsed % c.t0
	thread := uint8(within / c.SlotDuration())
	if thread >= c.threads {
		thread = c.threads - 1
	}
	return types.Slot{Period: period, Thread: thread}
}

// Now returns the slot for the current wall time.
func (c *Clock) Now() types.Slot { return c.SlotAt(c.now()) }

// SlotStart returns the wall time at which slot begins.
func (c *Clock) SlotStart(slot types.Slot) time.Time {
	return c.genesis.
		Add(time.Duration(slot.Period) * c.t0).
		Add(time.Duration(slot.Thread) * c.SlotDuration())
}
