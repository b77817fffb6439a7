package player

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// This file codes the handful of control-interface (PLAYER_PLAYER) body
// formats the core must understand (spec.md §6). Every other interface's
// body is opaque XDR the core never parses — there is no general XDR
// decoder here, deliberately: adding one would mean inventing a wire format
// the spec never names. Control bodies use the same fixed-width
// big-endian encoding as Header itself (frame.go), for the same reason a
// third-party XDR library isn't warranted: the shapes are few, fixed, and
// small.

// DeviceOpenRequest is the body of a SubtypeDeviceOpen REQUEST.
type DeviceOpenRequest struct {
	Addr Address
	Mode AccessMode
}

// EncodeDeviceOpenRequest returns the wire body for r.
func EncodeDeviceOpenRequest(r DeviceOpenRequest) []byte {
	buf := make([]byte, addrSize+1)
	putAddr(buf[:addrSize], r.Addr)
	buf[addrSize] = byte(r.Mode)
	return buf
}

// DecodeDeviceOpenRequest parses a device-open request body.
func DecodeDeviceOpenRequest(body []byte) (DeviceOpenRequest, error) {
	if len(body) < addrSize+1 {
		return DeviceOpenRequest{}, fmt.Errorf("%w: short device-open body", ErrCodec)
	}
	return DeviceOpenRequest{
		Addr: getAddr(body[:addrSize]),
		Mode: AccessMode(body[addrSize]),
	}, nil
}

// DeviceOpenReply is the ACK body for a device-open, or carries
// AccessError as Granted on NACK.
type DeviceOpenReply struct {
	Addr       Address
	Granted    AccessMode
	DriverName string
}

// EncodeDeviceOpenReply returns the wire body for r. The driver name is
// length-prefixed (one byte, so names up to 255 bytes; longer names are
// truncated to 255).
func EncodeDeviceOpenReply(r DeviceOpenReply) []byte {
	name := []byte(r.DriverName)
	if len(name) > 255 {
		name = name[:255]
	}
	buf := make([]byte, addrSize+1+1+len(name))
	putAddr(buf[:addrSize], r.Addr)
	buf[addrSize] = byte(r.Granted)
	buf[addrSize+1] = byte(len(name))
	copy(buf[addrSize+2:], name)
	return buf
}

// DecodeDeviceOpenReply parses a device-open reply body.
func DecodeDeviceOpenReply(body []byte) (DeviceOpenReply, error) {
	if len(body) < addrSize+2 {
		return DeviceOpenReply{}, fmt.Errorf("%w: short device-open reply body", ErrCodec)
	}
	nameLen := int(body[addrSize+1])
	if len(body) < addrSize+2+nameLen {
		return DeviceOpenReply{}, fmt.Errorf("%w: truncated driver name", ErrCodec)
	}
	return DeviceOpenReply{
		Addr:       getAddr(body[:addrSize]),
		Granted:    AccessMode(body[addrSize]),
		DriverName: string(body[addrSize+2 : addrSize+2+nameLen]),
	}, nil
}

// DeviceCloseRequest is the body of a SubtypeDeviceClose REQUEST.
type DeviceCloseRequest struct {
	Addr Address
}

func EncodeDeviceCloseRequest(r DeviceCloseRequest) []byte {
	buf := make([]byte, addrSize)
	putAddr(buf, r.Addr)
	return buf
}

func DecodeDeviceCloseRequest(body []byte) (DeviceCloseRequest, error) {
	if len(body) < addrSize {
		return DeviceCloseRequest{}, fmt.Errorf("%w: short device-close body", ErrCodec)
	}
	return DeviceCloseRequest{Addr: getAddr(body[:addrSize])}, nil
}

// DeviceListReply enumerates every device address known on a listener.
type DeviceListReply struct {
	Addrs []Address
}

// EncodeDeviceListReply returns a 4-byte count followed by that many
// addresses.
func EncodeDeviceListReply(r DeviceListReply) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + len(r.Addrs)*addrSize)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(r.Addrs)))
	buf.Write(countBuf[:])
	var addrBuf [addrSize]byte
	for _, a := range r.Addrs {
		putAddr(addrBuf[:], a)
		buf.Write(addrBuf[:])
	}
	return buf.Bytes()
}

func DecodeDeviceListReply(body []byte) (DeviceListReply, error) {
	if len(body) < 4 {
		return DeviceListReply{}, fmt.Errorf("%w: short device-list body", ErrCodec)
	}
	count := binary.BigEndian.Uint32(body[:4])
	want := 4 + int(count)*addrSize
	if len(body) < want {
		return DeviceListReply{}, fmt.Errorf("%w: truncated device-list body", ErrCodec)
	}
	addrs := make([]Address, count)
	for i := range addrs {
		off := 4 + i*addrSize
		addrs[i] = getAddr(body[off : off+addrSize])
	}
	return DeviceListReply{Addrs: addrs}, nil
}

// DriverInfoRequest asks for the driver name serving one address.
type DriverInfoRequest struct {
	Addr Address
}

func EncodeDriverInfoRequest(r DriverInfoRequest) []byte {
	buf := make([]byte, addrSize)
	putAddr(buf, r.Addr)
	return buf
}

func DecodeDriverInfoRequest(body []byte) (DriverInfoRequest, error) {
	if len(body) < addrSize {
		return DriverInfoRequest{}, fmt.Errorf("%w: short driver-info body", ErrCodec)
	}
	return DriverInfoRequest{Addr: getAddr(body[:addrSize])}, nil
}

// DriverInfoReply carries the driver name for the requested address.
type DriverInfoReply struct {
	Name string
}

func EncodeDriverInfoReply(r DriverInfoReply) []byte {
	return []byte(r.Name)
}

func DecodeDriverInfoReply(body []byte) DriverInfoReply {
	return DriverInfoReply{Name: string(body)}
}

// DataModeRequest sets a connection's delivery mode.
type DataModeRequest struct {
	Mode DeliveryMode
}

func EncodeDataModeRequest(r DataModeRequest) []byte {
	return []byte{byte(r.Mode)}
}

func DecodeDataModeRequest(body []byte) (DataModeRequest, error) {
	if len(body) < 1 {
		return DataModeRequest{}, fmt.Errorf("%w: short data-mode body", ErrCodec)
	}
	return DataModeRequest{Mode: DeliveryMode(body[0])}, nil
}

// AuthRequest carries the client's claimed shared key.
type AuthRequest struct {
	Key []byte
}

func EncodeAuthRequest(r AuthRequest) []byte {
	return append([]byte(nil), r.Key...)
}

func DecodeAuthRequest(body []byte) AuthRequest {
	return AuthRequest{Key: append([]byte(nil), body...)}
}

// NameserviceRequest asks the server to resolve a human-readable robot name
// to the TCP port serving it, grounded on the original ClientData's
// player_device_nameservice_req_t and HandleNameserviceRequest. A client
// that doesn't know a robot's port in advance sends this on the control
// interface before dialing the robot directly.
type NameserviceRequest struct {
	Name string
}

// EncodeNameserviceRequest returns a one-byte length prefix followed by the
// name, the same variable-length convention DeviceOpenReply uses for its
// driver name.
func EncodeNameserviceRequest(r NameserviceRequest) []byte {
	name := []byte(r.Name)
	if len(name) > 255 {
		name = name[:255]
	}
	buf := make([]byte, 1+len(name))
	buf[0] = byte(len(name))
	copy(buf[1:], name)
	return buf
}

func DecodeNameserviceRequest(body []byte) (NameserviceRequest, error) {
	if len(body) < 1 {
		return NameserviceRequest{}, fmt.Errorf("%w: short nameservice body", ErrCodec)
	}
	nameLen := int(body[0])
	if len(body) < 1+nameLen {
		return NameserviceRequest{}, fmt.Errorf("%w: truncated nameservice name", ErrCodec)
	}
	return NameserviceRequest{Name: string(body[1 : 1+nameLen])}, nil
}

// NameserviceReply echoes the requested name alongside the resolved port,
// or port 0 if no robot is registered under that name — matching
// HandleNameserviceRequest, which never NACKs a miss, it just replies with
// port 0.
type NameserviceReply struct {
	Name string
	Port uint16
}

func EncodeNameserviceReply(r NameserviceReply) []byte {
	name := []byte(r.Name)
	if len(name) > 255 {
		name = name[:255]
	}
	buf := make([]byte, 1+len(name)+2)
	buf[0] = byte(len(name))
	copy(buf[1:], name)
	binary.BigEndian.PutUint16(buf[1+len(name):], r.Port)
	return buf
}

func DecodeNameserviceReply(body []byte) (NameserviceReply, error) {
	if len(body) < 1 {
		return NameserviceReply{}, fmt.Errorf("%w: short nameservice reply", ErrCodec)
	}
	nameLen := int(body[0])
	if len(body) < 1+nameLen+2 {
		return NameserviceReply{}, fmt.Errorf("%w: truncated nameservice reply", ErrCodec)
	}
	return NameserviceReply{
		Name: string(body[1 : 1+nameLen]),
		Port: binary.BigEndian.Uint16(body[1+nameLen : 1+nameLen+2]),
	}, nil
}
