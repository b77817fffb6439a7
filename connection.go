package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// growBuf is a growable byte buffer capped at an absolute maximum, per
// spec.md §4.4 "inbound read buffer" / "outbound write buffer": it expands
// by doubling up to cap, and callers are responsible for truncating
// oversize writes with a warning rather than growing past cap.
type growBuf struct {
	buf []byte
	cap int
}

func newGrowBuf(initial, max int) *growBuf {
	return &growBuf{buf: make([]byte, 0, initial), cap: max}
}

func (g *growBuf) room() int { return g.cap - len(g.buf) }

func (g *growBuf) ensure(extra int) {
	need := len(g.buf) + extra
	if need <= cap(g.buf) {
		return
	}
	newCap := cap(g.buf)
	if newCap == 0 {
		newCap = 4096
	}
	for newCap < need && newCap < g.cap {
		newCap *= 2
	}
	if newCap > g.cap {
		newCap = g.cap
	}
	grown := make([]byte, len(g.buf), newCap)
	copy(grown, g.buf)
	g.buf = grown
}

// consume removes the first n bytes, sliding the remainder to the head
// (spec.md §4.4 read-loop step 7).
func (g *growBuf) consume(n int) {
	g.buf = append(g.buf[:0], g.buf[n:]...)
}

// Connection is one accepted TCP client's full state: socket, buffers,
// outbound queue, and the set of devices it has open. One Connection is
// driven by exactly two goroutines — a reader and a writer — matching the
// "at most one thread touches a given fd" rule in spec.md §5.
type Connection struct {
	id     string
	conn   net.Conn
	server *Server
	logger Logger

	localHost uint32
	localPort uint16

	readBuf       *growBuf
	writeBuf      bytes.Buffer
	backlogWarned bool

	outbound *Queue

	mu            sync.Mutex
	subscriptions map[Address]*Entry
	mode          DeliveryMode
	authenticated bool
	dataRequested bool

	closing chan struct{}
	closeOnce sync.Once
}

func localHostPort(c net.Conn) (uint32, uint16) {
	tcpAddr, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok {
		return 0, 0
	}
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return 0, uint16(tcpAddr.Port)
	}
	return binary.BigEndian.Uint32(ip4), uint16(tcpAddr.Port)
}

func newConnection(srv *Server, c net.Conn) *Connection {
	host, port := localHostPort(c)
	conn := &Connection{
		id:            uuid.NewString(),
		conn:          c,
		server:        srv,
		logger:        srv.logger.With("conn", c.RemoteAddr().String()),
		localHost:     host,
		localPort:     port,
		readBuf:       newGrowBuf(4096, int(srv.cfg.maxBodyLen)+HeaderSize),
		outbound:      NewQueue(srv.cfg.maxQueueLen, true),
		subscriptions: make(map[Address]*Entry),
		mode:          ModePushAllPeriodic,
		authenticated: len(srv.cfg.authKey) == 0,
		closing:       make(chan struct{}),
	}
	conn.outbound.SetWarner(func(msg string, args ...any) { conn.logger.Warn(msg, args...) })
	return conn
}

// serve writes the accept banner, then runs the reader loop on the calling
// goroutine while the writer loop runs on a spawned one. serve returns once
// the connection is torn down, after unsubscribing every device this
// connection held open.
func (c *Connection) serve(ctx context.Context) {
	defer c.teardown()

	if err := c.writeBanner(); err != nil {
		c.logger.Debug("banner write failed", "err", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	c.readLoop()
	c.Close()
	wg.Wait()
}

func (c *Connection) writeBanner() error {
	banner := make([]byte, c.server.cfg.bannerSize)
	copy(banner, c.server.cfg.banner)
	_, err := c.conn.Write(banner)
	return err
}

// Close marks the connection for teardown and unblocks both loops. It is
// safe to call more than once and from any goroutine — satisfying the
// "kill_flag observed by the bridge" requirement of spec.md §4.4.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.conn.Close()
		c.outbound.Close()
	})
	return nil
}

func (c *Connection) closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Connection) teardown() {
	c.mu.Lock()
	subs := make([]*Entry, 0, len(c.subscriptions))
	for _, e := range c.subscriptions {
		subs = append(subs, e)
	}
	c.subscriptions = make(map[Address]*Entry)
	c.mu.Unlock()

	for _, e := range subs {
		if err := e.Runtime.Unsubscribe(c.outbound); err != nil {
			c.logger.Warn("unsubscribe on teardown failed", "addr", e.Addr, "err", err)
		}
	}
	c.outbound.Close()
}

// readLoop implements spec.md §4.4's read loop. Any read error, a clean EOF
// included, ends the loop and the connection is torn down; errors other
// than EOF are logged as the Transport error kind in §7. With an idle
// timeout configured, a read that waits longer than it fails the same way.
func (c *Connection) readLoop() {
	for {
		if c.closed() {
			return
		}
		if d := c.server.cfg.idleTimeout; d > 0 {
			c.conn.SetReadDeadline(time.Now().Add(d))
		}
		c.readBuf.ensure(4096)
		n, err := c.conn.Read(c.readBuf.buf[len(c.readBuf.buf):cap(c.readBuf.buf)])
		if n > 0 {
			c.readBuf.buf = c.readBuf.buf[:len(c.readBuf.buf)+n]
			c.server.metrics.IncrementBytesReceived(int64(n))
			c.drainFrames()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed() {
				c.logger.Debug("read error", "err", fmt.Errorf("%w: %v", ErrTransport, err))
			}
			return
		}
	}
}

func (c *Connection) drainFrames() {
	for {
		h, body, consumed, err := Decode(c.readBuf.buf, c.server.cfg.maxBodyLen)
		if err != nil {
			if errors.Is(err, ErrNeedMore) {
				return
			}
			return
		}
		wireLen := consumed - HeaderSize
		if uint32(wireLen) > uint32(len(body)) {
			c.logger.Warn("truncated oversize message", "declared", wireLen, "kept", len(body))
		}
		c.handleFrame(h, body)
		c.readBuf.consume(consumed)
	}
}

func (c *Connection) handleFrame(h Header, body []byte) {
	// spec.md §4.4 step 4: host/robot are implicit in which socket this is,
	// so the connection's own local identity overwrites whatever a naive
	// client sent.
	h.Src.Host, h.Src.Robot = c.localHost, c.localPort
	h.Dest.Host, h.Dest.Robot = c.localHost, c.localPort

	if c.server.cfg.authKey != nil && !c.isAuthenticated() && !(h.Dest.Interface == InterfacePlayer && h.Subtype == SubtypeAuth) {
		// Closes rather than drops: the original ClientData::HandleRequests
		// treats any pre-auth message that isn't itself a matching auth
		// request as a failed CheckAuth and tears the connection down on the
		// spot, instead of waiting around for a correct one.
		c.logger.Warn("message before authentication, closing connection", "type", h.Type, "subtype", h.Subtype)
		c.Close()
		return
	}

	if h.Dest.Interface == InterfacePlayer {
		c.handleControl(h, body)
		return
	}

	c.mu.Lock()
	entry, subscribed := c.subscriptions[h.Dest]
	c.mu.Unlock()

	if !subscribed {
		if h.Type == TypeRequest {
			c.sendNack(h, []byte("not subscribed"))
		} else {
			c.logger.Debug("message for unsubscribed device dropped", "addr", h.Dest, "type", h.Type)
		}
		return
	}

	if h.Type == TypeData {
		// spec.md §9 open question: clients never publish DATA upstream in
		// the source; preserve that, logging each drop at Debug rather than
		// dropping silently.
		c.logger.Debug("client-sent DATA dropped", "addr", h.Dest)
		return
	}

	if !entry.Access.Permits(h.Type) {
		if h.Type == TypeRequest {
			c.sendNack(h, []byte("access denied"))
		}
		return
	}

	payload := append([]byte(nil), body...)
	msg := NewMessage(h, payload, c.outboundForRequest(h))
	if err := entry.Runtime.Deliver(msg); err != nil {
		c.logger.Warn("driver inbound delivery failed", "addr", h.Dest, "err", err)
	}
	// A cooperative driver has no worker of its own: the reader that
	// delivered the message pumps it.
	if entry.Runtime.model == Cooperative {
		entry.Runtime.ProcessMessages()
	}
}

// outboundForRequest returns this connection's outbound queue as the
// Message's origin, but only for REQUESTs — COMMAND has no reply to route.
func (c *Connection) outboundForRequest(h Header) *Queue {
	if h.Type != TypeRequest {
		return nil
	}
	return c.outbound
}

func (c *Connection) sendNack(h Header, reason []byte) {
	c.server.metrics.IncrementRequestsNacked()
	reply := Header{Src: h.Dest, Dest: h.Src, Type: TypeRespNack, Subtype: h.Subtype}
	if err := c.outbound.Push(NewMessage(reply, reason, nil)); err != nil {
		c.logger.Warn("nack dropped", "err", err)
	}
}

func (c *Connection) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// writeLoop implements spec.md §4.4's write loop plus SYNCH batching for
// the modes that need it. Batched modes wake on a ticker (periodic) or on
// an explicit data-request trigger (pull); push-async drains the outbound
// queue as soon as anything lands on it.
func (c *Connection) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.server.cfg.synchInterval)
	defer ticker.Stop()

	for {
		mode := c.currentMode()
		switch {
		case !mode.batched():
			msg, ok := c.outbound.BlockingPop()
			if !ok {
				return
			}
			if c.writeMessage(msg) != nil {
				return
			}
		case mode == ModePushAllPeriodic || mode == ModePushNewPeriodic:
			select {
			case <-ticker.C:
				if c.drainBatch() != nil {
					return
				}
			case <-c.closing:
				return
			case <-ctx.Done():
				return
			}
		default: // pull-all / pull-new: wait for an explicit trigger
			if c.waitDataRequest() {
				if c.drainBatch() != nil {
					return
				}
			} else {
				return
			}
		}

		select {
		case <-c.closing:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Connection) currentMode() DeliveryMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Connection) waitDataRequest() bool {
	for {
		c.mu.Lock()
		if c.dataRequested {
			c.dataRequested = false
			c.mu.Unlock()
			return true
		}
		c.mu.Unlock()
		select {
		case <-time.After(50 * time.Millisecond):
		case <-c.closing:
			return false
		}
	}
}

// drainBatch pops every currently queued message and appends a SYNCH, per
// spec.md §4.4's batched modes.
func (c *Connection) drainBatch() error {
	for {
		msg, ok := c.outbound.Pop()
		if !ok {
			break
		}
		if err := c.writeMessage(msg); err != nil {
			return err
		}
	}
	synch := NewMessage(Header{Type: TypeSynch}, nil, nil)
	return c.writeMessage(synch)
}

func (c *Connection) writeMessage(msg *Message) error {
	defer msg.Release()
	before := c.writeBuf.Len()
	BuildFrame(&c.writeBuf, msg.Header, msg.Payload)
	if c.writeBuf.Len() > c.server.cfg.writeBufCap() {
		c.logger.Warn("outbound write buffer truncated", "dropped", c.writeBuf.Len()-before)
		c.writeBuf.Truncate(before)
		return nil
	}
	return c.flush()
}

// flush does one write() of whatever is buffered, compacting any unwritten
// remainder to the front the way ClientDataTCP::Write's leftover_size
// bookkeeping does on a short write. A leftover backlog warns once, not on
// every partial write, and the warning resets once the backlog drains —
// the same warned-flag debounce clientdata.cc uses around WARN2 on its
// socket being "too slow".
func (c *Connection) flush() error {
	if c.writeBuf.Len() == 0 {
		return nil
	}
	n, err := c.conn.Write(c.writeBuf.Bytes())
	if n > 0 {
		c.server.metrics.IncrementBytesSent(int64(n))
		c.writeBuf.Next(n)
	}
	if err != nil {
		c.logger.Debug("write error", "err", fmt.Errorf("%w: %v", ErrTransport, err))
		return err
	}
	if c.writeBuf.Len() > 0 {
		if !c.backlogWarned {
			c.logger.Warn("client socket is too slow, buffering output", "leftover", c.writeBuf.Len())
			c.backlogWarned = true
		}
	} else {
		c.backlogWarned = false
	}
	return nil
}
