package repositories

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
)

const sequenceBandwidth = 1000

// Stamp is the server-assigned identity of an appended message.
type Stamp struct {
	ID  string
	At  time.Time
	Seq uint64
}

// Clock hands out server timestamps that never go backwards within the process,
// paired with a store-backed write sequence. Two stamps taken one after the
// other always compare in that order on (At, Seq).
type Clock struct {
	mu      sync.Mutex
	seq     *badger.Sequence
	last    time.Time
	now     func() time.Time
	entropy io.Reader
}

func NewClock(db *badger.DB) (*Clock, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("lease message sequence: %w", err)
	}
	return &Clock{
		seq:     seq,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Now returns the next non-decreasing server time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick()
}

// Stamp assigns creation time, write sequence and a sortable id.
func (c *Clock) Stamp() (Stamp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.tick()
	seq, err := c.seq.Next()
	if err != nil {
		return Stamp{}, fmt.Errorf("next message sequence: %w", err)
	}
	id, err := ulid.New(ulid.Timestamp(at), c.entropy)
	if err != nil {
		return Stamp{}, fmt.Errorf("generate message id: %w", err)
	}
	return Stamp{ID: id.String(), At: at, Seq: seq}, nil
}

func (c *Clock) tick() time.Time {
	now := time.Unix(0, c.now().UnixNano()).UTC()
	if now.Before(c.last) {
		now = c.last
	}
	c.last = now
	return now
}

// Close returns the unused part of the leased sequence range.
func (c *Clock) Close() error {
	return c.seq.Release()
}
