package bridge

import (
	"sync"
	"time"
)

// entry is one buffered message with its enqueue time, so staleness can be
// judged at flush time rather than enqueue time.
type entry struct {
	msg        any
	enqueuedAt time.Time
}

// Buffer is a bounded FIFO queue with a drop-oldest overflow policy.
//
// Relay loops for the two transport directions run concurrently and meet
// only at these buffers, so all access is mutex-protected. Order is
// preserved: messages drain in the order they were pushed, minus any
// dropped or discarded entries.
type Buffer struct {
	mu       sync.Mutex
	entries  []entry
	capacity int
	dropped  uint64
}

// NewBuffer creates a buffer holding at most capacity messages.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{capacity: capacity}
}

// Push appends a message, evicting the oldest entry if the buffer is full.
// Returns true if an entry was evicted.
func (b *Buffer) Push(msg any, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
		b.dropped++
		evicted = true
	}
	b.entries = append(b.entries, entry{msg: msg, enqueuedAt: now})
	return evicted
}

// PushFront re-inserts a message at the head of the queue, for requeueing
// after a failed delivery. If the buffer is full the newest entry is
// evicted instead of the oldest; the requeued message is by definition the
// oldest undelivered one.
func (b *Buffer) PushFront(msg any, enqueuedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.capacity {
		b.entries = b.entries[:len(b.entries)-1]
		b.dropped++
	}
	b.entries = append([]entry{{msg: msg, enqueuedAt: enqueuedAt}}, b.entries...)
}

// Pop removes and returns the oldest message.
// The second return is the enqueue time; ok is false when empty.
func (b *Buffer) Pop() (msg any, enqueuedAt time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil, time.Time{}, false
	}
	e := b.entries[0]
	b.entries = b.entries[1:]
	return e.msg, e.enqueuedAt, true
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns the total number of entries evicted since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// DiscardOlderThan removes entries enqueued before the cutoff for which
// match returns true, preserving the order of the remainder. Returns the
// number discarded.
//
// Used to shed stale telemetry after a long broker outage: old samples
// have historical value at best, while status events are replayed
// regardless of age.
func (b *Buffer) DiscardOlderThan(cutoff time.Time, match func(msg any) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	discarded := 0
	for _, e := range b.entries {
		if e.enqueuedAt.Before(cutoff) && match(e.msg) {
			discarded++
			continue
		}
		kept = append(kept, e)
	}
	b.entries = kept
	return discarded
}
