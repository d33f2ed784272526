package events

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketEvents = []byte("events")

// Record is a committed event with its position in the node's event log.
type Record struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Period     uint64            `json:"period"`
	Thread     uint8             `json:"thread"`
	TxHash     string            `json:"txHash,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

// Journal stores committed events in sequence order.
type Journal interface {
	// Append assigns sequence numbers to the records and persists them.
	Append(records []Record) ([]Record, error)
	// Since returns up to limit records with a sequence greater than after.
	Since(after int64, limit int) ([]Record, error)
	LastSequence() (int64, error)
	Close() error
}

const defaultSinceLimit = 100

// BoltJournal persists events in a BoltDB bucket keyed by big-endian sequence.
type BoltJournal struct {
	db *bolt.DB
}

// OpenBoltJournal opens (or creates) the journal file at path.
func OpenBoltJournal(path string) (*BoltJournal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltJournal{db: db}, nil
}

func seqKey(seq int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return buf[:]
}

// Append implements Journal.
func (j *BoltJournal) Append(records []Record) ([]Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]Record, len(records))
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		for i, rec := range records {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			rec.Sequence = int64(seq)
			raw, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := bucket.Put(seqKey(rec.Sequence), raw); err != nil {
				return err
			}
			out[i] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Since implements Journal.
func (j *BoltJournal) Since(after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultSinceLimit
	}
	if after < 0 {
		after = 0
	}
	out := make([]Record, 0)
	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for k, v := cursor.Seek(seqKey(after + 1)); k != nil && len(out) < limit; k, v = cursor.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// LastSequence implements Journal.
func (j *BoltJournal) LastSequence() (int64, error) {
	var last int64
	err := j.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketEvents).Cursor().Last()
		if k != nil {
			last = int64(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	return last, err
}

// Close releases the Bolt handle.
func (j *BoltJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// MemoryJournal keeps events in memory. Used by tests and ephemeral nodes.
type MemoryJournal struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal { return &MemoryJournal{} }

// Append implements Journal.
func (j *MemoryJournal) Append(records []Record) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(records))
	for i, rec := range records {
		rec.Sequence = int64(len(j.records) + 1)
		j.records = append(j.records, rec)
		out[i] = rec
	}
	return out, nil
}

// Since implements Journal.
func (j *MemoryJournal) Since(after int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultSinceLimit
	}
	if after < 0 {
		after = 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Record, 0)
	for i := int(after); i < len(j.records) && len(out) < limit; i++ {
		out = append(out, j.records[i])
	}
	return out, nil
}

// LastSequence implements Journal.
func (j *MemoryJournal) LastSequence() (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return int64(len(j.records)), nil
}

// Close implements Journal.
func (j *MemoryJournal) Close() error { return nil }

// ErrFeedClosed is returned when subscribing to a stopped feed.
var ErrFeedClosed = errors.New("events: feed closed")
