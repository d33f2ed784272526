package watcher

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"safedeal/services/dealindexer/storage"
)

// CursorName identifies the watcher's position in the node journal.
const CursorName = "node-events"

const dealEventPrefix = "safedeal."

// Watcher periodically pulls events from the node and refreshes the deals
// they mention.
type Watcher struct {
	node         NodeClient
	store        *storage.Store
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
}

// New constructs a watcher with sane defaults.
func New(node NodeClient, store *storage.Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		node:         node,
		store:        store,
		logger:       logger.With(slog.String("component", "watcher")),
		pollInterval: 5 * time.Second,
		batchSize:    100,
	}
}

// WithPollInterval overrides the polling cadence.
func (w *Watcher) WithPollInterval(d time.Duration) *Watcher {
	if d > 0 {
		w.pollInterval = d
	}
	return w
}

// WithBatchSize overrides how many events are fetched per poll.
func (w *Watcher) WithBatchSize(n int) *Watcher {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// Run starts the polling loop until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	if w.node == nil || w.store == nil {
		return
	}
	after, err := w.store.Cursor(ctx, CursorName)
	if err != nil {
		w.logger.Error("load cursor", slog.Any("error", err))
	}
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		after = w.drain(ctx, after)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain polls until the node has nothing newer than after.
func (w *Watcher) drain(ctx context.Context, after int64) int64 {
	for ctx.Err() == nil {
		next, fetched, err := w.Poll(ctx, after)
		if err != nil {
			w.logger.Warn("poll node events", slog.Int64("after", after), slog.Any("error", err))
			return next
		}
		after = next
		if fetched < w.batchSize {
			break
		}
	}
	return after
}

// Poll processes one batch of events after the given sequence and returns
// the new cursor and the number of events fetched. The cursor only advances
// past events whose deal was refreshed successfully.
func (w *Watcher) Poll(ctx context.Context, after int64) (int64, int, error) {
	events, err := w.node.FetchEvents(ctx, after, w.batchSize)
	if err != nil {
		return after, 0, err
	}
	if len(events) == 0 {
		return after, 0, nil
	}
	last := after
	refreshed := make(map[uint64]struct{})
	var pollErr error
	for _, evt := range events {
		if evt.Sequence <= last {
			continue
		}
		id, ok := dealID(evt)
		if ok {
			if _, done := refreshed[id]; !done {
				if err := w.refresh(ctx, id, evt.Sequence); err != nil {
					pollErr = err
					break
				}
				refreshed[id] = struct{}{}
			}
		}
		last = evt.Sequence
	}
	if last != after {
		if err := w.store.SaveCursor(ctx, CursorName, last); err != nil {
			return after, len(events), err
		}
	}
	return last, len(events), pollErr
}

func (w *Watcher) refresh(ctx context.Context, id uint64, seq int64) error {
	deal, err := w.node.GetDeal(ctx, id)
	if errors.Is(err, ErrDealNotFound) {
		// The deal creation was reverted after the event was read.
		w.logger.Warn("deal missing on node", slog.Uint64("deal", id))
		return nil
	}
	if err != nil {
		return err
	}
	row := &storage.Deal{
		ID:           deal.ID,
		Client:       deal.Client,
		Freelancer:   deal.Freelancer,
		AssetType:    deal.AssetType,
		Token:        deal.Token,
		Amount:       deal.Amount,
		DeadlineSlot: deal.DeadlineSlot,
		Mode:         deal.Mode,
		Status:       deal.Status,
		CreatedSlot:  deal.CreatedSlot,
		Note:         deal.Note,
		LastEventSeq: seq,
	}
	if err := w.store.UpsertDeal(ctx, row); err != nil {
		return err
	}
	w.logger.Debug("deal indexed",
		slog.Uint64("deal", deal.ID),
		slog.String("status", deal.Status),
		slog.Int64("sequence", seq))
	return nil
}

func dealID(evt NodeEvent) (uint64, bool) {
	if !strings.HasPrefix(evt.Type, dealEventPrefix) {
		return 0, false
	}
	raw := strings.TrimSpace(evt.Attributes["id"])
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
