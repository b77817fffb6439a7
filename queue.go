package player

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned by Push when the queue is at capacity and
// replace mode did not find an existing entry to overwrite. Append-mode
// queues never return this — they drop the oldest entry instead (spec.md
// §7's QueueFull handling table).
var ErrQueueFull = errors.New("player: queue full")

// Filter is a single-slot predicate installed on a Queue so a caller can
// await one specific reply among a stream of unrelated messages (spec.md
// §4.1, §4.3). A nil field matches anything in that position.
type Filter struct {
	SrcAddr *Address
	Type    *MessageType
	Subtype *uint8
}

func (f Filter) match(h Header) bool {
	if f.SrcAddr != nil && *f.SrcAddr != h.Src {
		return false
	}
	if f.Type != nil && *f.Type != h.Type {
		return false
	}
	if f.Subtype != nil && *f.Subtype != h.Subtype {
		return false
	}
	return true
}

// OverflowWarner is called when Push drops the oldest entry of an
// append-mode queue. Queue accepts one through SetWarner so the frontend
// and the driver runtime can route the warning through their logger
// without the queue depending on a concrete logging type.
type OverflowWarner func(msg string, args ...any)

// Queue is a bounded, coalescing FIFO of Messages, per spec.md §4.1. One
// Queue exists per client connection (outbound) and one per driver
// (inbound); all operations take an internal lock, so a Queue is safe to
// push to from one goroutine while another goroutine pops from it — exactly
// the pattern used when a driver's worker goroutine publishes into a
// client's outbound queue while the frontend's writer goroutine drains it.
type Queue struct {
	mu      sync.Mutex
	cond    sync.Cond
	items   []*Message
	maxLen  int
	replace bool
	filter  *Filter
	closed  bool
	warn    OverflowWarner
}

// NewQueue constructs a Queue with the given maximum length and initial
// coalescing mode. maxLen <= 0 means unbounded (used only by tests — every
// production queue is bounded per spec.md §3).
func NewQueue(maxLen int, replace bool) *Queue {
	q := &Queue{maxLen: maxLen, replace: replace}
	q.cond.L = &q.mu
	return q
}

// SetWarner installs the callback Push uses to log a drop-oldest overflow.
func (q *Queue) SetWarner(w OverflowWarner) {
	q.mu.Lock()
	q.warn = w
	q.mu.Unlock()
}

// SetReplace changes the coalescing policy. Existing entries are not
// re-examined, per spec.md §4.1.
func (q *Queue) SetReplace(replace bool) {
	q.mu.Lock()
	q.replace = replace
	q.mu.Unlock()
}

// Replace reports the queue's current coalescing mode.
func (q *Queue) Replace() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.replace
}

// SetFilter installs a single-slot match predicate; Pop will only return
// messages matching mask until ClearFilter is called.
func (q *Queue) SetFilter(mask Filter) {
	q.mu.Lock()
	q.filter = &mask
	q.mu.Unlock()
}

// ClearFilter removes any installed filter.
func (q *Queue) ClearFilter() {
	q.mu.Lock()
	q.filter = nil
	q.mu.Unlock()
}

// Push enqueues m. In replace mode, if an existing entry shares m's
// (interface, index, type, subtype) key, it is released and overwritten in
// place; otherwise m is appended, returning ErrQueueFull if the queue is
// already at capacity. In append mode, m is always appended; if the queue
// is already at capacity the oldest entry is released and dropped first,
// and the configured OverflowWarner (if any) is invoked.
func (q *Queue) Push(m *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		// A push to a destroyed queue is a caller bug per spec.md §4.1, but
		// since publish fan-out can race a connection teardown sweep, treat
		// it as a silent no-op rather than panicking: the message is simply
		// not delivered.
		m.Release()
		return nil
	}

	key := keyOf(m.Header)
	if q.replace {
		for i, existing := range q.items {
			if keyOf(existing.Header) == key {
				existing.Release()
				q.items[i] = m
				q.cond.Broadcast()
				return nil
			}
		}
		if q.maxLen > 0 && len(q.items) >= q.maxLen {
			m.Release()
			return ErrQueueFull
		}
		q.items = append(q.items, m)
		q.cond.Broadcast()
		return nil
	}

	if q.maxLen > 0 && len(q.items) >= q.maxLen {
		dropped := q.items[0]
		q.items = q.items[1:]
		dropped.Release()
		if q.warn != nil {
			q.warn("queue overflow, dropping oldest message", "addr", dropped.Header.Src, "subtype", dropped.Header.Subtype)
		}
	}
	q.items = append(q.items, m)
	q.cond.Broadcast()
	return nil
}

// popLocked finds and removes the first element matching the installed
// filter (or the head, if no filter is installed). Caller must hold q.mu.
func (q *Queue) popLocked() (*Message, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	if q.filter == nil {
		m := q.items[0]
		q.items = q.items[1:]
		return m, true
	}
	for i, m := range q.items {
		if q.filter.match(m.Header) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return m, true
		}
	}
	return nil, false
}

// Pop removes and returns the head (or, with a filter installed, the first
// matching element), without blocking. It returns false if nothing
// eligible is currently queued.
func (q *Queue) Pop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// BlockingPop behaves like Pop, but waits on the queue's condition variable
// until a matching message arrives or the queue is closed. It returns false
// only when the queue has been closed and nothing eligible remains.
func (q *Queue) BlockingPop() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if m, ok := q.popLocked(); ok {
			return m, true
		}
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Len reports the number of messages currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue destroyed, releases every queued Message, and wakes
// any goroutine blocked in BlockingPop. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, m := range items {
		m.Release()
	}
	q.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
