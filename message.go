package player

import "sync/atomic"

// Message is an immutable, shared-ownership record carrying one header and
// one opaque payload. Queues hold references to a Message rather than
// copies; the refcount tracks fan-out to multiple subscriber queues plus any
// live local references a caller (e.g. a driver mid-ProcessMessage) holds.
//
// spec.md §9 asks to "replace the manual refcount with the target
// language's standard shared-ownership primitive." Go's garbage collector
// already is that primitive: a *Message is freed once nothing references it.
// The refcount kept here is not a memory-management mechanism — it exists
// purely to make Invariant 1 (§3) and Testable Property 1 (§8) observable
// and testable, which the GC's own bookkeeping doesn't expose.
type Message struct {
	Header  Header
	Payload []byte

	// origin is a weak-style back-reference to the queue a REQUEST arrived
	// on, so a driver's RESP_ACK/RESP_NACK can be routed to exactly that
	// queue (spec.md §4.3 "Request-reply correlation"). It is nil for
	// messages that didn't originate from a request on some queue.
	origin *Queue

	refs atomic.Int64
}

// NewMessage constructs a Message that owns payload (the caller must not
// mutate it afterwards — messages are immutable once constructed) and
// optionally remembers origin as the queue REQUEST replies should be routed
// back to.
func NewMessage(header Header, payload []byte, origin *Queue) *Message {
	m := &Message{Header: header, Payload: payload, origin: origin}
	m.refs.Store(1)
	return m
}

// Clone increments the refcount and returns m, modeling the fan-out of one
// Message into multiple subscriber queues. Every Clone must be matched by a
// Release.
func (m *Message) Clone() *Message {
	if m.refs.Add(1) <= 1 {
		panic("player: Message.Clone on a released message")
	}
	return m
}

// Release decrements the refcount. Callers must not touch m after a Release
// that drops the count to zero. Returns true if this call was the one that
// dropped the count to zero.
func (m *Message) Release() bool {
	n := m.refs.Add(-1)
	if n < 0 {
		panic("player: Message refcount underflow")
	}
	return n == 0
}

// RefCount reports the current refcount, for tests and diagnostics.
func (m *Message) RefCount() int64 {
	return m.refs.Load()
}

// Origin returns the queue a REQUEST was read from, or nil if the queue has
// since been torn down or there was none. Origin itself checks
// Queue.Closed, so Runtime.Reply discards a reply to a torn-down queue,
// degrading gracefully per spec.md §9.
func (m *Message) Origin() *Queue {
	if m.origin == nil || m.origin.Closed() {
		return nil
	}
	return m.origin
}
