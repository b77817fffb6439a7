package player

import "sync/atomic"

// Metrics tracks server-wide counters. Components call Increment* as they
// do work; a collector (cmd/playerd, or a test) reads via Get*.
type Metrics interface {
	IncrementMessagesPublished()
	IncrementMessagesDropped()
	IncrementRequestsNacked()
	IncrementConnectionsAccepted()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetMessagesPublished() int64
	GetMessagesDropped() int64
	GetRequestsNacked() int64
	GetConnectionsAccepted() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	messagesPublished   int64
	messagesDropped     int64
	requestsNacked      int64
	connectionsAccepted int64
	bytesSent           int64
	bytesReceived       int64
}

// NewDefaultMetrics constructs a zeroed DefaultMetrics.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementMessagesPublished()   { atomic.AddInt64(&m.messagesPublished, 1) }
func (m *DefaultMetrics) IncrementMessagesDropped()     { atomic.AddInt64(&m.messagesDropped, 1) }
func (m *DefaultMetrics) IncrementRequestsNacked()      { atomic.AddInt64(&m.requestsNacked, 1) }
func (m *DefaultMetrics) IncrementConnectionsAccepted() { atomic.AddInt64(&m.connectionsAccepted, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)    { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) {
	atomic.AddInt64(&m.bytesReceived, n)
}

func (m *DefaultMetrics) GetMessagesPublished() int64 {
	return atomic.LoadInt64(&m.messagesPublished)
}
func (m *DefaultMetrics) GetMessagesDropped() int64 {
	return atomic.LoadInt64(&m.messagesDropped)
}
func (m *DefaultMetrics) GetRequestsNacked() int64 {
	return atomic.LoadInt64(&m.requestsNacked)
}
func (m *DefaultMetrics) GetConnectionsAccepted() int64 {
	return atomic.LoadInt64(&m.connectionsAccepted)
}
func (m *DefaultMetrics) GetBytesSent() int64     { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64 { return atomic.LoadInt64(&m.bytesReceived) }

// metricsDriver wraps a Driver so every ProcessMessage call is counted,
// mirroring aznet's own wrapper-decorator pattern for transports.
type metricsDriver struct {
	Driver
	m Metrics
}

// WrapDriver returns driver instrumented with m. Setup/Shutdown pass
// through unmodified; only ProcessMessage is observed, since that's the
// hot path spec.md's properties care about.
func WrapDriver(driver Driver, m Metrics) Driver {
	if m == nil {
		return driver
	}
	return &metricsDriver{Driver: driver, m: m}
}

func (d *metricsDriver) ProcessMessage(rt *Runtime, msg *Message) error {
	err := d.Driver.ProcessMessage(rt, msg)
	if err != nil {
		d.m.IncrementMessagesDropped()
	} else {
		d.m.IncrementMessagesPublished()
	}
	return err
}
