package history

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rickgao/goldstream/internal/model"
)

// MaxSnapshot is the upper bound on entries returned by Snapshot.
const MaxSnapshot = 1000

// Entry is a tick plus its broadcast-ready payload, encoded once on append.
type Entry struct {
	Tick    model.Tick
	Payload json.RawMessage
}

// NewEntry encodes tick into an Entry.
func NewEntry(tick model.Tick) (Entry, error) {
	data, err := json.Marshal(tick)
	if err != nil {
		return Entry{}, fmt.Errorf("encode tick: %w", err)
	}
	return Entry{Tick: tick, Payload: data}, nil
}

// MarshalJSON emits the stored payload.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return json.Marshal(e.Tick)
	}
	return e.Payload, nil
}

// Buffer is a thread-safe FIFO ring that never holds more than its capacity.
// Append is O(1) and evicts the oldest entry when full.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int // index of the oldest entry
	count   int
	total   int64
}

// NewBuffer creates a ring with the given capacity (minimum 1).
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Append adds an entry, evicting the oldest one at capacity.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := len(b.entries)
	if b.count < c {
		b.entries[(b.head+b.count)%c] = e
		b.count++
	} else {
		b.entries[b.head] = e
		b.head = (b.head + 1) % c
	}
	b.total++
}

// Snapshot returns up to limit of the most recent entries, oldest first.
// limit <= 0 or above MaxSnapshot is clamped to MaxSnapshot.
func (b *Buffer) Snapshot(limit int) []Entry {
	if limit <= 0 || limit > MaxSnapshot {
		limit = MaxSnapshot
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := min(limit, b.count)
	out := make([]Entry, n)
	start := b.head + b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Latest returns the newest entry.
func (b *Buffer) Latest() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return Entry{}, false
	}
	return b.entries[(b.head+b.count-1)%len(b.entries)], true
}

// Len returns the number of stored entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the ring capacity.
func (b *Buffer) Cap() int {
	return len(b.entries)
}

// Total returns how many entries were ever appended.
func (b *Buffer) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
