package player

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Address identifies one device: a 4-tuple of (host, robot, interface, index).
// host is the 32-bit network-order IPv4 address of the Player server hosting
// the device; robot is the TCP port that namespaces one robot on that host;
// interface names the abstract capability (sonar, position, camera, ...);
// index selects one instance of that interface. Equality is bytewise.
type Address struct {
	Host      uint32
	Robot     uint16
	Interface uint16
	Index     uint16
}

// NewAddress builds an Address from an IPv4 host, a robot port, an interface
// code and an index.
func NewAddress(host net.IP, robot, iface, index uint16) Address {
	var h uint32
	if v4 := host.To4(); v4 != nil {
		h = binary.BigEndian.Uint32(v4)
	}
	return Address{Host: h, Robot: robot, Interface: iface, Index: index}
}

// IP returns the Address's host field as a net.IP.
func (a Address) IP() net.IP {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, a.Host)
	return net.IP(buf)
}

// Network implements net.Addr.
func (a Address) Network() string { return "player" }

// String implements net.Addr and fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d/%d:%d", a.IP(), a.Robot, a.Interface, a.Index)
}

// IsZero reports whether a is the zero Address, used as a sentinel for "no
// originating address" (e.g. a message manufactured locally by the core).
func (a Address) IsZero() bool {
	return a == Address{}
}

// replaceKey is the collision key used by Queue's replace mode. spec.md §9
// preserves the original implementation's comparison tuple: (interface,
// index, type, subtype) — deliberately excluding host/robot, since a single
// queue only ever holds messages belonging to the one device or client it
// serves.
type replaceKey struct {
	Interface uint16
	Index     uint16
	Type      MessageType
	Subtype   uint8
}

func keyOf(h Header) replaceKey {
	return replaceKey{
		Interface: h.Src.Interface,
		Index:     h.Src.Index,
		Type:      h.Type,
		Subtype:   h.Subtype,
	}
}
