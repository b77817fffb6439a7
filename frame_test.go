package player

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	h := Header{
		Src:     Address{Host: 0x7f000001, Robot: 6665, Interface: 2, Index: 0},
		Dest:    Address{Host: 0x7f000001, Robot: 6665, Interface: 2, Index: 1},
		Type:    TypeData,
		Subtype: 3,
		Sent:    time.Unix(1700000000, 500).UTC(),
		Seq:     42,
	}
	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	var buf bytes.Buffer
	BuildFrame(&buf, h, body)

	gotH, gotBody, consumed, err := Decode(buf.Bytes(), 1<<20)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), consumed)
	assert.Equal(t, body, gotBody)
	assert.Equal(t, h.Src, gotH.Src)
	assert.Equal(t, h.Dest, gotH.Dest)
	assert.Equal(t, h.Type, gotH.Type)
	assert.Equal(t, h.Subtype, gotH.Subtype)
	assert.Equal(t, h.Seq, gotH.Seq)
	assert.True(t, h.Sent.Equal(gotH.Sent))
}

func TestDecodeNeedMoreOnTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	BuildFrame(&buf, Header{Type: TypeCommand}, []byte("hello"))

	_, _, _, err := Decode(buf.Bytes()[:HeaderSize-1], 1<<20)
	assert.ErrorIs(t, err, ErrNeedMore)

	_, _, _, err = Decode(buf.Bytes()[:HeaderSize+2], 1<<20)
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestDecodeClipsOversizeBodyButConsumesWireLength(t *testing.T) {
	var buf bytes.Buffer
	body := bytes.Repeat([]byte{0xAB}, 100)
	BuildFrame(&buf, Header{Type: TypeData}, body)

	h, clipped, consumed, err := Decode(buf.Bytes(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), h.BodyLen)
	assert.Len(t, clipped, 10)
	assert.Equal(t, buf.Len(), consumed, "the full oversize body must still be consumed to keep framing in sync")
}

func TestDecodeNeedsFullBodyEvenWhenOversize(t *testing.T) {
	var buf bytes.Buffer
	body := bytes.Repeat([]byte{0xAB}, 100)
	BuildFrame(&buf, Header{Type: TypeData}, body)

	// Hand Decode a prefix that has the full header but not the full body.
	_, _, _, err := Decode(buf.Bytes()[:HeaderSize+50], 10)
	assert.ErrorIs(t, err, ErrNeedMore)
}
