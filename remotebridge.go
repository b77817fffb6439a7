package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Dialer abstracts the outbound connection a Remote Driver Bridge opens to
// its peer, per spec.md §4.5. The only implementation is TCPDialer; the
// interface exists so tests can substitute a fake without a real socket.
type Dialer interface {
	Dial(ctx context.Context, peer string) (net.Conn, error)
}

// TCPDialer dials the peer directly over TCP.
type TCPDialer struct{}

func (TCPDialer) Dial(ctx context.Context, peer string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", peer)
}

// runtimeBinder lets a Driver recover the Runtime wrapping it without the
// Driver interface itself carrying one — mirrored on aznet's own
// GetMetrics(net.Conn) capability-assertion pattern.
type runtimeBinder interface {
	bindRuntime(rt *Runtime)
}

// RemoteBridge is the C5 driver: it makes one device on a peer Player
// server look like a local device, per spec.md §4.5.
type RemoteBridge struct {
	peerAddr      string
	targetAddr    Address
	requestedMode AccessMode
	dialer        Dialer
	bannerSize    int
	maxBodyLen    uint32
	requestWait   time.Duration
	logger        Logger

	mu         sync.Mutex
	rt         *Runtime
	conn       net.Conn
	grantedMod AccessMode
	up         bool
	closing    chan struct{}
	replies    *Queue
}

// NewRemoteBridge constructs a bridge driver proxying targetAddr on
// peerAddr, requesting requestedMode access. dialer defaults to TCPDialer
// if nil.
func NewRemoteBridge(peerAddr string, targetAddr Address, requestedMode AccessMode, dialer Dialer, logger Logger) *RemoteBridge {
	if dialer == nil {
		dialer = TCPDialer{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &RemoteBridge{
		peerAddr:      peerAddr,
		targetAddr:    targetAddr,
		requestedMode: requestedMode,
		dialer:        dialer,
		bannerSize:    DefaultBannerSize,
		maxBodyLen:    DefaultMaxBodyLen,
		requestWait:   5 * time.Second,
		logger:        logger.With("bridge", peerAddr),
		replies:       NewQueue(8, false),
	}
}

func (b *RemoteBridge) bindRuntime(rt *Runtime) {
	b.mu.Lock()
	b.rt = rt
	b.mu.Unlock()
}

// Setup dials the peer, consumes its banner, opens the target device with
// the requested access mode, and starts the reader goroutine. It retries
// the dial itself with a short backoff, but — per spec.md §4.5's
// reconnection model — never retries after a connection that was up goes
// down; that requires a fresh Subscribe/Unsubscribe cycle from the caller.
func (b *RemoteBridge) Setup() error {
	backoff := NewReconnectBackoff(DefaultReconnectFast, DefaultReconnectSteady)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var conn net.Conn
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		conn, err = b.dialer.Dial(ctx, b.peerAddr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrRemoteDown, ctx.Err())
		default:
		}
		backoff.Sleep()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteDown, err)
	}

	if err := b.handshake(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.up = true
	b.closing = make(chan struct{})
	b.mu.Unlock()

	go b.readLoop(conn, b.closing)
	return nil
}

func (b *RemoteBridge) handshake(ctx context.Context, conn net.Conn) error {
	banner := make([]byte, b.bannerSize)
	if _, err := io.ReadFull(conn, banner); err != nil {
		return fmt.Errorf("%w: banner: %v", ErrRemoteDown, err)
	}

	var buf bytes.Buffer
	openReq := EncodeDeviceOpenRequest(DeviceOpenRequest{Addr: b.targetAddr, Mode: b.requestedMode})
	BuildFrame(&buf, Header{Dest: Address{Interface: InterfacePlayer}, Type: TypeRequest, Subtype: SubtypeDeviceOpen}, openReq)
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: device-open: %v", ErrRemoteDown, err)
	}

	readBuf := make([]byte, HeaderSize+len(openReq)+256)
	n, err := conn.Read(readBuf)
	if err != nil {
		return fmt.Errorf("%w: device-open reply: %v", ErrRemoteDown, err)
	}
	h, body, _, err := Decode(readBuf[:n], b.maxBodyLen)
	if err != nil {
		return fmt.Errorf("%w: malformed device-open reply: %v", ErrRemoteDown, err)
	}
	if h.Type != TypeRespAck {
		return fmt.Errorf("%w: peer refused device-open", ErrRemoteDown)
	}
	reply, err := DecodeDeviceOpenReply(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteDown, err)
	}
	if reply.Granted != b.requestedMode {
		return fmt.Errorf("%w: peer granted %q, wanted %q", ErrRemoteDown, reply.Granted, b.requestedMode)
	}
	b.grantedMod = reply.Granted
	return nil
}

// Shutdown closes the peer connection and stops the reader goroutine.
func (b *RemoteBridge) Shutdown() error {
	b.mu.Lock()
	if !b.up {
		b.mu.Unlock()
		return nil
	}
	b.up = false
	conn := b.conn
	closing := b.closing
	b.mu.Unlock()

	if closing != nil {
		select {
		case <-closing:
		default:
			close(closing)
		}
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// ProcessMessage forwards a local COMMAND onto the peer socket, or a local
// REQUEST followed by a synchronous wait for the correlated reply, which it
// then routes back to the requester's queue via rt.Reply.
func (b *RemoteBridge) ProcessMessage(rt *Runtime, msg *Message) error {
	b.mu.Lock()
	conn := b.conn
	up := b.up
	b.mu.Unlock()

	if !up || conn == nil {
		if msg.Header.Type == TypeRequest {
			rt.Reply(msg.Origin(), Header{Type: TypeRespNack, Subtype: msg.Header.Subtype}, []byte("remote down"))
		}
		return ErrRemoteDown
	}

	var buf bytes.Buffer
	BuildFrame(&buf, Header{Dest: b.targetAddr, Type: msg.Header.Type, Subtype: msg.Header.Subtype}, msg.Payload)

	if msg.Header.Type == TypeRequest {
		subtype := msg.Header.Subtype
		b.replies.SetFilter(Filter{Subtype: &subtype})
		defer b.replies.ClearFilter()
	}

	if _, err := conn.Write(buf.Bytes()); err != nil {
		b.markDown()
		if msg.Header.Type == TypeRequest {
			rt.Reply(msg.Origin(), Header{Type: TypeRespNack, Subtype: msg.Header.Subtype}, []byte("write failed"))
		}
		return fmt.Errorf("%w: %v", ErrRemoteDown, err)
	}

	if msg.Header.Type != TypeRequest {
		return nil
	}

	resp, ok := b.waitReply()
	if !ok {
		rt.Reply(msg.Origin(), Header{Type: TypeRespNack, Subtype: msg.Header.Subtype}, []byte("timeout"))
		return fmt.Errorf("%w: request timed out", ErrRemoteDown)
	}
	defer resp.Release()
	rt.Reply(msg.Origin(), Header{Type: resp.Header.Type, Subtype: resp.Header.Subtype}, resp.Payload)
	return nil
}

func (b *RemoteBridge) waitReply() (*Message, bool) {
	deadline := time.Now().Add(b.requestWait)
	for time.Now().Before(deadline) {
		if m, ok := b.replies.Pop(); ok {
			return m, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}

func (b *RemoteBridge) markDown() {
	b.mu.Lock()
	b.up = false
	b.mu.Unlock()
}

// readLoop republishes DATA from the peer to local subscribers and routes
// RESP_ACK/RESP_NACK to whatever ProcessMessage call installed a matching
// filter.
func (b *RemoteBridge) readLoop(conn net.Conn, closing chan struct{}) {
	buf := newGrowBuf(4096, int(b.maxBodyLen)+HeaderSize)
	for {
		select {
		case <-closing:
			return
		default:
		}
		buf.ensure(4096)
		n, err := conn.Read(buf.buf[len(buf.buf):cap(buf.buf)])
		if n > 0 {
			buf.buf = buf.buf[:len(buf.buf)+n]
			for {
				h, body, consumed, derr := Decode(buf.buf, b.maxBodyLen)
				if derr != nil {
					break
				}
				b.handlePeerFrame(h, body)
				buf.consume(consumed)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.logger.Warn("bridge read error", "err", err)
			}
			b.markDown()
			b.drainPendingNack()
			return
		}
	}
}

func (b *RemoteBridge) handlePeerFrame(h Header, body []byte) {
	b.mu.Lock()
	rt := b.rt
	b.mu.Unlock()

	switch h.Type {
	case TypeData:
		if rt != nil {
			rt.Publish(Header{Type: TypeData, Subtype: h.Subtype}, append([]byte(nil), body...))
		}
	case TypeRespAck, TypeRespNack:
		payload := append([]byte(nil), body...)
		msg := NewMessage(h, payload, nil)
		if err := b.replies.Push(msg); err != nil {
			msg.Release()
		}
	}
}

func (b *RemoteBridge) drainPendingNack() {
	for {
		m, ok := b.replies.Pop()
		if !ok {
			return
		}
		m.Release()
	}
}
