package core

import (
	"context"
	"log/slog"
	"time"
)

// Run advances chain time with the wall clock until ctx is cancelled. It
// catches up on any slots missed while the node was stopped.
func (n *Node) Run(ctx context.Context) error {
	interval := n.clock.SlotDuration()
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.tick()
		}
	}
}

func (n *Node) tick() {
	target := n.clock.Now()
	if err := n.AdvanceTo(target); err != nil {
		n.logger.Error("advance slot", slog.String("target", target.String()), slog.Any("error", err))
	}
}
