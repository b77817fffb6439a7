package player

import "time"

// MessageType is the type of a Message, per spec.md §6.
type MessageType uint8

const (
	// TypeData carries a periodic or event-driven observation, driver to client.
	TypeData MessageType = iota + 1
	// TypeCommand carries control input, client to driver.
	TypeCommand
	// TypeRequest carries a configuration query expecting a reply.
	TypeRequest
	// TypeRespAck is a successful reply to a TypeRequest, routed to the
	// requester's queue only.
	TypeRespAck
	// TypeRespNack is a failed reply to a TypeRequest, routed to the
	// requester's queue only.
	TypeRespNack
	// TypeSynch is a zero-body end-of-cycle marker, server to client.
	TypeSynch
)

// String returns a short name for the message type, used in log lines.
func (t MessageType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeCommand:
		return "COMMAND"
	case TypeRequest:
		return "REQUEST"
	case TypeRespAck:
		return "RESP_ACK"
	case TypeRespNack:
		return "RESP_NACK"
	case TypeSynch:
		return "SYNCH"
	default:
		return "UNKNOWN"
	}
}

// InterfacePlayer is the reserved interface code for the control interface
// (PLAYER_PLAYER in the original protocol), handled inline by the frontend
// rather than by a registered driver. See control.go.
const InterfacePlayer uint16 = 0

// Control subtypes understood by the PLAYER_PLAYER interface. Interpreted
// only when Header.Dest.Interface == InterfacePlayer.
const (
	SubtypeDeviceOpen uint8 = iota + 1
	SubtypeDeviceClose
	SubtypeDeviceList
	SubtypeDriverInfo
	SubtypeDataMode
	SubtypeDataRequest
	SubtypeAuth
	SubtypeNameservice
)

// Header is the fixed-size record the core parses. Bodies are opaque to
// everything except the control interface handlers in control.go.
type Header struct {
	Src     Address
	Dest    Address
	Type    MessageType
	Subtype uint8
	Sent    time.Time
	Seq     uint32
	// BodyLen is populated by Decode from the wire (clipped to the maximum
	// body length) and by BuildFrame from the actual payload length; callers
	// constructing a Header by hand need not set it.
	BodyLen uint32
}

// DeliveryMode selects how a connection receives DATA, per spec.md §4.4.
type DeliveryMode uint8

const (
	// ModePushAllPeriodic emits a batch at a fixed frequency, ended by
	// SYNCH. The connection writer handles it exactly like
	// ModePushNewPeriodic: a batch holds only the messages queued since the
	// previous batch, and DATA already sent is not re-emitted.
	ModePushAllPeriodic DeliveryMode = iota
	// ModePushNewPeriodic emits, at a fixed frequency, the messages queued
	// since the last cycle, ended by SYNCH.
	ModePushNewPeriodic
	// ModePushAsync streams DATA as soon as it arrives, unbatched, no SYNCH.
	ModePushAsync
	// ModePullAllOnDemand emits one batch per data-request, ended by SYNCH.
	// The connection writer handles it exactly like ModePullNewOnDemand: a
	// batch holds only the messages queued since the previous batch, and
	// DATA already sent is not re-emitted.
	ModePullAllOnDemand
	// ModePullNewOnDemand emits, per data-request, the messages queued since
	// the last batch, ended by SYNCH.
	ModePullNewOnDemand
)

// replaceByDefault reports whether mode uses queue replace-mode on the
// connection's outbound queue. All modes except push-async coalesce state
// so a slow client sees the latest reading rather than an unbounded backlog.
func (m DeliveryMode) replaceByDefault() bool {
	return m != ModePushAsync
}

// batched reports whether the mode delivers DATA in SYNCH-terminated
// batches rather than streaming it immediately.
func (m DeliveryMode) batched() bool {
	return m != ModePushAsync
}

// AccessMode is the advertised access a Device Entry grants.
type AccessMode byte

const (
	// AccessRead permits DATA flow only.
	AccessRead AccessMode = 'r'
	// AccessWrite permits COMMAND flow only.
	AccessWrite AccessMode = 'w'
	// AccessAll permits both DATA and COMMAND flow.
	AccessAll AccessMode = 'a'
	// AccessError is returned in a device-open NACK when the requested
	// mode doesn't match what the device advertises.
	AccessError AccessMode = 'e'
)

// Permits reports whether granted access mode allows messages of type t to
// flow in the direction implied by t (COMMAND requires write access, DATA
// requires read access; REQUEST/RESP_* and SYNCH are always permitted since
// they're not gated by the read/write distinction).
func (a AccessMode) Permits(t MessageType) bool {
	switch t {
	case TypeCommand:
		return a == AccessWrite || a == AccessAll
	case TypeData:
		return a == AccessRead || a == AccessAll
	default:
		return true
	}
}
