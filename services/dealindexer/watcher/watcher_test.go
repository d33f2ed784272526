package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"safedeal/services/dealindexer/storage"
)

type fakeNode struct {
	events  []NodeEvent
	deals   map[uint64]*NodeDeal
	fail    map[uint64]error
	fetched []uint64
}

func (f *fakeNode) FetchEvents(_ context.Context, after int64, limit int) ([]NodeEvent, error) {
	var out []NodeEvent
	for _, evt := range f.events {
		if evt.Sequence > after {
			out = append(out, evt)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNode) GetDeal(_ context.Context, id uint64) (*NodeDeal, error) {
	f.fetched = append(f.fetched, id)
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	deal, ok := f.deals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrDealNotFound, id)
	}
	clone := *deal
	return &clone, nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "indexer.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	return storage.NewStore(db)
}

func dealEvent(seq int64, typ string, id uint64) NodeEvent {
	return NodeEvent{Sequence: seq, Type: typ, Attributes: map[string]string{"id": fmt.Sprint(id)}}
}

func TestPollIndexesDealsAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	node := &fakeNode{
		events: []NodeEvent{
			{Sequence: 1, Type: "dev.faucet", Attributes: map[string]string{"to": "sd1xyz"}},
			dealEvent(2, "safedeal.deferred_quote", 1),
			dealEvent(3, "safedeal.created", 1),
			{Sequence: 4, Type: "deferred.executed", Attributes: map[string]string{"id": "D00ff"}},
			dealEvent(5, "safedeal.created", 2),
		},
		deals: map[uint64]*NodeDeal{
			1: {ID: 1, Client: "sd1client", Freelancer: "sd1free", AssetType: "native", Amount: "500", Status: "active", DeadlineSlot: 9},
			2: {ID: 2, Client: "sd1client", Freelancer: "sd1other", AssetType: "token", Amount: "70", Status: "completed"},
		},
	}
	w := New(node, store, nil).WithBatchSize(10)

	cursor, fetched, err := w.Poll(ctx, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if cursor != 5 || fetched != 5 {
		t.Fatalf("unexpected cursor=%d fetched=%d", cursor, fetched)
	}
	if len(node.fetched) != 2 {
		t.Fatalf("expected each deal fetched once, got %v", node.fetched)
	}
	saved, err := store.Cursor(ctx, CursorName)
	if err != nil || saved != 5 {
		t.Fatalf("expected saved cursor 5, got %d (%v)", saved, err)
	}
	deal, err := store.GetDeal(ctx, 1)
	if err != nil {
		t.Fatalf("get deal: %v", err)
	}
	if deal.Status != "active" || deal.Amount != "500" || deal.LastEventSeq != 2 {
		t.Fatalf("unexpected deal row: %+v", deal)
	}

	// A later event refreshes the row.
	node.deals[1].Status = "completed"
	node.events = append(node.events, dealEvent(6, "safedeal.completed", 1))
	if cursor, _, err = w.Poll(ctx, cursor); err != nil || cursor != 6 {
		t.Fatalf("second poll: cursor=%d err=%v", cursor, err)
	}
	deal, _ = store.GetDeal(ctx, 1)
	if deal.Status != "completed" || deal.LastEventSeq != 6 {
		t.Fatalf("expected refreshed deal, got %+v", deal)
	}
}

func TestPollStopsAtFailedRefresh(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	node := &fakeNode{
		events: []NodeEvent{
			dealEvent(1, "safedeal.created", 1),
			dealEvent(2, "safedeal.created", 2),
			dealEvent(3, "safedeal.created", 3),
		},
		deals: map[uint64]*NodeDeal{
			1: {ID: 1, Client: "a", Freelancer: "b", Amount: "1", Status: "active"},
			3: {ID: 3, Client: "a", Freelancer: "b", Amount: "1", Status: "active"},
		},
		fail: map[uint64]error{2: errors.New("connection reset")},
	}
	w := New(node, store, nil)

	cursor, _, err := w.Poll(ctx, 0)
	if err == nil {
		t.Fatalf("expected refresh error")
	}
	if cursor != 1 {
		t.Fatalf("cursor should stop before the failed event, got %d", cursor)
	}
	if _, err := store.GetDeal(ctx, 3); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deal after the failure should not be indexed yet, got %v", err)
	}

	delete(node.fail, 2)
	node.deals[2] = &NodeDeal{ID: 2, Client: "a", Freelancer: "c", Amount: "2", Status: "disputed"}
	if cursor, _, err = w.Poll(ctx, cursor); err != nil || cursor != 3 {
		t.Fatalf("retry: cursor=%d err=%v", cursor, err)
	}
}

func TestPollSkipsDealsMissingOnNode(t *testing.T) {
	store := newTestStore(t)
	node := &fakeNode{events: []NodeEvent{dealEvent(1, "safedeal.created", 9)}, deals: map[uint64]*NodeDeal{}}
	cursor, _, err := New(node, store, nil).Poll(context.Background(), 0)
	if err != nil || cursor != 1 {
		t.Fatalf("expected missing deal to be skipped, cursor=%d err=%v", cursor, err)
	}
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	store := newTestStore(t)
	node := &fakeNode{
		events: []NodeEvent{dealEvent(1, "safedeal.created", 1)},
		deals:  map[uint64]*NodeDeal{1: {ID: 1, Client: "a", Freelancer: "b", Amount: "3", Status: "active"}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(node, store, nil).WithPollInterval(5 * time.Millisecond).Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if seq, _ := store.Cursor(context.Background(), CursorName); seq == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watcher did not index the event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}

func TestRPCNodeClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "events_since":
			var params struct {
				After int64 `json:"after"`
				Limit int   `json:"limit"`
			}
			_ = json.Unmarshal(req.Params[0], &params)
			if params.After != 7 || params.Limit != 3 {
				t.Errorf("unexpected params %+v", params)
			}
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[{"sequence":8,"type":"safedeal.created","attributes":{"id":"4"}}]}`))
		case "safedeal_getDeal":
			if string(req.Params[0]) == "4" {
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"id":4,"client":"sd1a","status":"active","amount":"10"}}`))
				return
			}
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32004,"message":"failed to load deal"}}`))
		default:
			t.Errorf("unexpected method %s", req.Method)
		}
	}))
	defer srv.Close()

	client := NewRPCNodeClient(srv.URL, time.Second)
	events, err := client.FetchEvents(context.Background(), 7, 3)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if len(events) != 1 || events[0].Sequence != 8 || events[0].Attributes["id"] != "4" {
		t.Fatalf("unexpected events: %+v", events)
	}
	deal, err := client.GetDeal(context.Background(), 4)
	if err != nil || deal.Client != "sd1a" {
		t.Fatalf("get deal: %+v %v", deal, err)
	}
	if _, err := client.GetDeal(context.Background(), 5); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
