package events

import "sync"

// Feed fans committed records out to live subscribers. Subscribers that fall
// behind their buffer are dropped rather than stalling the node.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]chan Record
	nextID int
	closed bool
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Record)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function must be called once the subscriber is done.
func (f *Feed) Subscribe(buffer int) (<-chan Record, func(), error) {
	if buffer <= 0 {
		buffer = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil, ErrFeedClosed
	}
	id := f.nextID
	f.nextID++
	ch := make(chan Record, buffer)
	f.subs[id] = ch
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if existing, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(existing)
		}
	}
	return ch, cancel, nil
}

// Publish delivers records to every subscriber.
func (f *Feed) Publish(records []Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		if !deliver(ch, records) {
			delete(f.subs, id)
			close(ch)
		}
	}
}

func deliver(ch chan Record, records []Record) bool {
	for _, rec := range records {
		select {
		case ch <- rec:
		default:
			return false
		}
	}
	return true
}

// Subscribers reports the number of active subscribers.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close disconnects every subscriber.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
