package player

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

// addrSize is the wire size of one Address: 4 bytes host + 2 robot + 2
// interface + 2 index.
const addrSize = 10

// HeaderSize is the fixed wire size of a Header: two addresses, type,
// subtype, an 8-byte seconds.fraction timestamp, a 4-byte sequence number,
// and a 4-byte body length.
const HeaderSize = addrSize*2 + 1 + 1 + 8 + 4 + 4

// ErrNeedMore is returned by Decode when the supplied buffer does not yet
// contain a complete frame. Callers should keep buffering and try again;
// this is not a framing error.
var ErrNeedMore = errors.New("player: need more data")

func putAddr(buf []byte, a Address) {
	binary.BigEndian.PutUint32(buf[0:4], a.Host)
	binary.BigEndian.PutUint16(buf[4:6], a.Robot)
	binary.BigEndian.PutUint16(buf[6:8], a.Interface)
	binary.BigEndian.PutUint16(buf[8:10], a.Index)
}

func getAddr(buf []byte) Address {
	return Address{
		Host:      binary.BigEndian.Uint32(buf[0:4]),
		Robot:     binary.BigEndian.Uint16(buf[4:6]),
		Interface: binary.BigEndian.Uint16(buf[6:8]),
		Index:     binary.BigEndian.Uint16(buf[8:10]),
	}
}

// EncodeHeader writes h's wire representation (HeaderSize bytes) to buf,
// which must be at least HeaderSize bytes long.
func EncodeHeader(buf []byte, h Header) {
	_ = buf[HeaderSize-1] // bounds check hint
	putAddr(buf[0:addrSize], h.Src)
	putAddr(buf[addrSize:2*addrSize], h.Dest)
	off := 2 * addrSize
	buf[off] = byte(h.Type)
	buf[off+1] = h.Subtype
	sec := uint32(h.Sent.Unix())
	if h.Sent.IsZero() {
		sec = 0
	}
	frac := uint32(h.Sent.Nanosecond())
	binary.BigEndian.PutUint32(buf[off+2:off+6], sec)
	binary.BigEndian.PutUint32(buf[off+6:off+10], frac)
	binary.BigEndian.PutUint32(buf[off+10:off+14], h.Seq)
	binary.BigEndian.PutUint32(buf[off+14:off+18], h.BodyLen)
}

// DecodeHeader reads a Header from buf, which must be at least HeaderSize
// bytes long.
func DecodeHeader(buf []byte) Header {
	src := getAddr(buf[0:addrSize])
	dest := getAddr(buf[addrSize : 2*addrSize])
	off := 2 * addrSize
	typ := MessageType(buf[off])
	subtype := buf[off+1]
	sec := binary.BigEndian.Uint32(buf[off+2 : off+6])
	frac := binary.BigEndian.Uint32(buf[off+6 : off+10])
	seq := binary.BigEndian.Uint32(buf[off+10 : off+14])
	bodyLen := binary.BigEndian.Uint32(buf[off+14 : off+18])

	var sent time.Time
	if sec != 0 || frac != 0 {
		sent = time.Unix(int64(sec), int64(frac)).UTC()
	}

	return Header{
		Src:     src,
		Dest:    dest,
		Type:    typ,
		Subtype: subtype,
		Sent:    sent,
		Seq:     seq,
		BodyLen: bodyLen,
	}
}

// BuildFrame appends the wire encoding of header+body to buf: HeaderSize
// bytes of header followed by len(body) bytes of payload. header.BodyLen is
// overwritten with len(body) before encoding.
func BuildFrame(buf *bytes.Buffer, header Header, body []byte) {
	header.BodyLen = uint32(len(body))
	buf.Grow(HeaderSize + len(body))
	var hbuf [HeaderSize]byte
	EncodeHeader(hbuf[:], header)
	buf.Write(hbuf[:])
	buf.Write(body)
}

// Decode attempts to parse one frame from the head of buf. On success it
// returns the header, a body slice aliasing buf, and the number of bytes
// consumed — which may exceed HeaderSize+len(body) when the sender's
// claimed body length exceeded maxBodyLen, since the full oversize body
// still has to be skipped to keep framing in sync with the stream. If buf
// does not yet hold a complete frame, it returns ErrNeedMore and the caller
// should read more data before retrying.
func Decode(buf []byte, maxBodyLen uint32) (Header, []byte, int, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, 0, ErrNeedMore
	}
	h := DecodeHeader(buf)
	wireBodyLen := h.BodyLen
	clippedLen := wireBodyLen
	if clippedLen > maxBodyLen {
		// Truncation policy per spec.md §4.4: clip the body the core hands
		// to callers, but still consume the sender's full declared length.
		clippedLen = maxBodyLen
	}
	consumed := HeaderSize + int(wireBodyLen)
	if len(buf) < consumed {
		return Header{}, nil, 0, ErrNeedMore
	}
	h.BodyLen = clippedLen
	body := buf[HeaderSize : HeaderSize+int(clippedLen)]
	return h, body, consumed, nil
}
