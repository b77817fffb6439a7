package player

import "crypto/subtle"

// handleControl answers a message addressed to the PLAYER_PLAYER interface,
// per spec.md §6. Control handlers are kept inline on Connection rather
// than represented as a registered Driver (spec.md §9 "Control messages
// inline in the frontend") since every one of them mutates per-connection
// state — subscriptions, mode, auth — that only the frontend owns.
func (c *Connection) handleControl(h Header, body []byte) {
	switch h.Subtype {
	case SubtypeAuth:
		c.handleAuth(h, body)
	case SubtypeDeviceOpen:
		c.handleDeviceOpen(h, body)
	case SubtypeDeviceClose:
		c.handleDeviceClose(h, body)
	case SubtypeDeviceList:
		c.handleDeviceList(h)
	case SubtypeDriverInfo:
		c.handleDriverInfo(h, body)
	case SubtypeDataMode:
		c.handleDataMode(h, body)
	case SubtypeDataRequest:
		c.handleDataRequest(h)
	case SubtypeNameservice:
		c.handleNameservice(h, body)
	default:
		c.logger.Debug("unknown control subtype", "subtype", h.Subtype)
	}
}

func (c *Connection) sendAck(h Header, body []byte) {
	reply := Header{Src: h.Dest, Dest: h.Src, Type: TypeRespAck, Subtype: h.Subtype}
	if err := c.outbound.Push(NewMessage(reply, body, nil)); err != nil {
		c.logger.Warn("ack dropped", "err", err)
	}
}

func (c *Connection) handleAuth(h Header, body []byte) {
	req := DecodeAuthRequest(body)
	key := c.server.cfg.authKey
	ok := len(key) > 0 && subtle.ConstantTimeCompare(req.Key, key) == 1
	c.mu.Lock()
	c.authenticated = ok
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("authentication failed")
		c.sendNack(h, nil)
		c.Close()
		return
	}
	c.sendAck(h, nil)
}

func (c *Connection) handleDeviceOpen(h Header, body []byte) {
	req, err := DecodeDeviceOpenRequest(body)
	if err != nil {
		c.logger.Warn("malformed device-open body", "err", err)
		return
	}

	entry, ok := c.server.table.Lookup(c.server.cfg.ctx, req.Addr)
	if !ok {
		c.sendNack(h, EncodeDeviceOpenReply(DeviceOpenReply{Addr: req.Addr, Granted: AccessError}))
		return
	}

	granted, ok := ResolveAccess(req.Mode, entry.Access)
	if !ok {
		c.sendNack(h, EncodeDeviceOpenReply(DeviceOpenReply{Addr: req.Addr, Granted: AccessError, DriverName: entry.Name}))
		return
	}

	if err := entry.Runtime.Subscribe(c.outbound, granted); err != nil {
		c.sendNack(h, EncodeDeviceOpenReply(DeviceOpenReply{Addr: req.Addr, Granted: AccessError, DriverName: entry.Name}))
		return
	}

	c.mu.Lock()
	c.subscriptions[req.Addr] = entry
	c.mu.Unlock()

	c.sendAck(h, EncodeDeviceOpenReply(DeviceOpenReply{Addr: req.Addr, Granted: granted, DriverName: entry.Name}))
}

func (c *Connection) handleDeviceClose(h Header, body []byte) {
	req, err := DecodeDeviceCloseRequest(body)
	if err != nil {
		c.logger.Warn("malformed device-close body", "err", err)
		return
	}

	c.mu.Lock()
	entry, ok := c.subscriptions[req.Addr]
	delete(c.subscriptions, req.Addr)
	c.mu.Unlock()

	if ok {
		if err := entry.Runtime.Unsubscribe(c.outbound); err != nil {
			c.logger.Warn("unsubscribe failed", "addr", req.Addr, "err", err)
		}
	}
	// Idempotent: acked whether or not the address was actually open.
	c.sendAck(h, EncodeDeviceCloseRequest(req))
}

func (c *Connection) handleDeviceList(h Header) {
	var addrs []Address
	c.server.table.Each(func(e *Entry) bool {
		if e.Addr.Host == c.localHost && e.Addr.Robot == c.localPort {
			addrs = append(addrs, e.Addr)
		}
		return true
	})
	c.sendAck(h, EncodeDeviceListReply(DeviceListReply{Addrs: addrs}))
}

func (c *Connection) handleDriverInfo(h Header, body []byte) {
	req, err := DecodeDriverInfoRequest(body)
	if err != nil {
		c.logger.Warn("malformed driver-info body", "err", err)
		return
	}
	entry, ok := c.server.table.Lookup(c.server.cfg.ctx, req.Addr)
	if !ok {
		c.sendNack(h, nil)
		return
	}
	c.sendAck(h, EncodeDriverInfoReply(DriverInfoReply{Name: entry.Name}))
}

func (c *Connection) handleDataMode(h Header, body []byte) {
	req, err := DecodeDataModeRequest(body)
	if err != nil {
		c.logger.Warn("malformed data-mode body", "err", err)
		return
	}
	c.mu.Lock()
	c.mode = req.Mode
	c.mu.Unlock()
	c.outbound.SetReplace(req.Mode.replaceByDefault())
	c.sendAck(h, nil)
}

func (c *Connection) handleDataRequest(h Header) {
	c.mu.Lock()
	c.dataRequested = true
	c.mu.Unlock()
	c.sendAck(h, nil)
}

func (c *Connection) handleNameservice(h Header, body []byte) {
	req, err := DecodeNameserviceRequest(body)
	if err != nil {
		c.logger.Warn("malformed nameservice body", "err", err)
		return
	}
	port, _ := c.server.table.ResolveRobotName(req.Name)
	c.sendAck(h, EncodeNameserviceReply(NameserviceReply{Name: req.Name, Port: port}))
}
