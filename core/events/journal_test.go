package events

import (
	"path/filepath"
	"testing"
)

func sampleRecords(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{Type: "safedeal.created", Attributes: map[string]string{"i": string(rune('a' + i))}, Period: uint64(i)}
	}
	return out
}

func exerciseJournal(t *testing.T, j Journal) {
	t.Helper()
	appended, err := j.Append(sampleRecords(5))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if appended[0].Sequence != 1 || appended[4].Sequence != 5 {
		t.Fatalf("unexpected sequences %d..%d", appended[0].Sequence, appended[4].Sequence)
	}
	page, err := j.Since(2, 2)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(page) != 2 || page[0].Sequence != 3 || page[1].Sequence != 4 {
		t.Fatalf("unexpected page %+v", page)
	}
	rest, err := j.Since(4, 0)
	if err != nil || len(rest) != 1 || rest[0].Attributes["i"] != "e" {
		t.Fatalf("unexpected tail %+v err=%v", rest, err)
	}
	last, err := j.LastSequence()
	if err != nil || last != 5 {
		t.Fatalf("unexpected last sequence %d err=%v", last, err)
	}
}

func TestMemoryJournal(t *testing.T) {
	exerciseJournal(t, NewMemoryJournal())
}

func TestBoltJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := OpenBoltJournal(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseJournal(t, j)
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := OpenBoltJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	more, err := reopened.Append(sampleRecords(1))
	if err != nil || more[0].Sequence != 6 {
		t.Fatalf("expected sequence to continue at 6, got %+v err=%v", more, err)
	}
}

func TestFeedDropsSlowSubscribers(t *testing.T) {
	feed := NewFeed()
	fast, cancelFast, err := feed.Subscribe(10)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelFast()
	slow, _, err := feed.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	feed.Publish(sampleRecords(3))

	if len(fast) != 3 {
		t.Fatalf("fast subscriber expected 3 records, got %d", len(fast))
	}
	<-slow
	if _, open := <-slow; open {
		t.Fatalf("slow subscriber should have been closed")
	}
	if feed.Subscribers() != 1 {
		t.Fatalf("expected one remaining subscriber, got %d", feed.Subscribers())
	}
	feed.Close()
	if _, _, err := feed.Subscribe(1); err != ErrFeedClosed {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
}

type plainEvent struct{}

func (plainEvent) EventType() string { return "plain" }

func TestBufferTruncate(t *testing.T) {
	var buf Buffer
	buf.Emit(Transfer{From: [20]byte{1}, To: [20]byte{2}, Amount: 5})
	mark := buf.Mark()
	buf.Emit(plainEvent{})
	buf.Truncate(mark)
	got := buf.Events()
	if len(got) != 1 || got[0].Type != TypeTransfer || got[0].Attributes["amount"] != "5" {
		t.Fatalf("unexpected events %+v", got)
	}
}
