package player

import (
	"context"
	"fmt"
	"sync"
)

// Entry is one row of the Device Table: a registered device address, its
// advertised access mode, an optional human-readable driver name, and the
// Runtime that owns its subscription bookkeeping (spec.md §4.2).
type Entry struct {
	Addr    Address
	Access  AccessMode
	Name    string
	Runtime *Runtime
}

// RemoteFactory constructs a Driver on demand for an address this server
// has no local Entry for, per spec.md §4.5 "Remote Driver Bridge". It
// returns an error if the address cannot be proxied (e.g. no peer
// configured for that robot namespace).
type RemoteFactory func(ctx context.Context, addr Address) (Driver, AccessMode, string, error)

// DeviceTable is the process-wide, read-mostly registry mapping device
// addresses to driver Entries. spec.md §9 calls for replacing a
// process-global singleton with an explicitly constructed, explicitly
// passed handle; one DeviceTable is constructed per Server and threaded
// into everything that needs to resolve an address.
//
// Lookups vastly outnumber registrations once a server is up, so this uses
// a plain sync.RWMutex rather than a sharded or lock-free map — at the
// scale of a handful to a few hundred devices per process, reader-preferring
// semantics are all the contention profile needs.
type DeviceTable struct {
	mu      sync.RWMutex
	entries map[Address]*Entry

	localRobots map[uint16]struct{}
	robotNames  map[string]uint16
	remote      RemoteFactory
}

// NewDeviceTable constructs an empty DeviceTable.
func NewDeviceTable() *DeviceTable {
	return &DeviceTable{
		entries:     make(map[Address]*Entry),
		localRobots: make(map[uint16]struct{}),
		robotNames:  make(map[string]uint16),
	}
}

// SetRobotName associates a human-readable robot name with port, so clients
// can resolve it through the nameservice control request instead of
// hard-coding a TCP port. Grounded on the original ClientData's per-device
// robotname field and ClientData::HandleNameserviceRequest, which scans
// every registered device for a name match; here the name is registered
// once per robot port rather than once per device, since every device a
// robot exposes shares its robot's name.
func (t *DeviceTable) SetRobotName(port uint16, name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	t.robotNames[name] = port
	t.mu.Unlock()
}

// ResolveRobotName looks up the port registered under name, returning
// (0, false) on a miss — matching HandleNameserviceRequest's zero-port
// reply rather than returning an error.
func (t *DeviceTable) ResolveRobotName(name string) (uint16, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	port, ok := t.robotNames[name]
	return port, ok
}

// MarkLocalRobot records port as a robot namespace this server itself
// serves devices under. Lookup uses this to decide whether a miss should be
// satisfied locally (fail) or handed to the remote factory (a foreign
// robot, possibly reachable through a Remote Driver Bridge).
func (t *DeviceTable) MarkLocalRobot(port uint16) {
	t.mu.Lock()
	t.localRobots[port] = struct{}{}
	t.mu.Unlock()
}

// SetRemoteFactory installs the hook Lookup falls back to on a miss for a
// non-local robot address.
func (t *DeviceTable) SetRemoteFactory(fn RemoteFactory) {
	t.mu.Lock()
	t.remote = fn
	t.mu.Unlock()
}

// Register adds addr to the table, wrapping driver in a new Runtime.
// Register itself never calls Setup — that happens lazily on the first
// Subscribe — so it only fails if addr is already registered.
func (t *DeviceTable) Register(addr Address, driver Driver, access AccessMode, name string, model ThreadModel, maxInbound int, logger Logger) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[addr]; exists {
		return nil, fmt.Errorf("player: address %s already registered", addr)
	}

	e := &Entry{
		Addr:    addr,
		Access:  access,
		Name:    name,
		Runtime: NewRuntime(addr, driver, model, maxInbound, logger),
	}
	t.entries[addr] = e
	return e, nil
}

// Unregister removes addr from the table without touching the driver's
// lifecycle; callers should Unsubscribe every remaining subscriber first so
// Shutdown runs normally.
func (t *DeviceTable) Unregister(addr Address) {
	t.mu.Lock()
	delete(t.entries, addr)
	t.mu.Unlock()
}

// Lookup resolves addr to its Entry. On a miss for an address in a
// non-local robot namespace, and with a RemoteFactory installed, it
// constructs and registers a new remote-bridge Entry as a side effect
// (spec.md §4.5) and returns it; a concurrent Lookup racing the same miss
// may construct two bridges, of which only one wins registration — Lookup
// calls Shutdown on the loser's Driver, discards it, and returns the
// winning Entry.
func (t *DeviceTable) Lookup(ctx context.Context, addr Address) (*Entry, bool) {
	t.mu.RLock()
	e, ok := t.entries[addr]
	remote := t.remote
	_, local := t.localRobots[addr.Robot]
	t.mu.RUnlock()
	if ok {
		return e, true
	}
	if local || remote == nil {
		return nil, false
	}

	driver, access, name, err := remote(ctx, addr)
	if err != nil {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, raced := t.entries[addr]; raced {
		_ = driver.Shutdown()
		return existing, true
	}
	e = &Entry{
		Addr:    addr,
		Access:  access,
		Name:    name,
		Runtime: NewRuntime(addr, driver, Threaded, 64, nopLogger{}),
	}
	t.entries[addr] = e
	return e, true
}

// Each calls visit once per registered Entry, in unspecified order,
// stopping early if visit returns false. It is safe to call concurrently
// with Lookup and Register, but visit must not itself call back into the
// DeviceTable — it is invoked under the read lock.
func (t *DeviceTable) Each(visit func(*Entry) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if !visit(e) {
			return
		}
	}
}

// Len reports the number of registered entries.
func (t *DeviceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
