package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceOpenRequestRoundTrip(t *testing.T) {
	want := DeviceOpenRequest{Addr: Address{Host: 0x0A000001, Robot: 6665, Interface: 2, Index: 1}, Mode: AccessAll}
	got, err := DecodeDeviceOpenRequest(EncodeDeviceOpenRequest(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeviceOpenRequestShortBody(t *testing.T) {
	_, err := DecodeDeviceOpenRequest([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDeviceOpenReplyRoundTrip(t *testing.T) {
	want := DeviceOpenReply{Addr: Address{Robot: 6665, Interface: 2}, Granted: AccessRead, DriverName: "sicklms200"}
	got, err := DecodeDeviceOpenReply(EncodeDeviceOpenReply(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeviceOpenReplyEmptyName(t *testing.T) {
	want := DeviceOpenReply{Addr: Address{}, Granted: AccessError}
	got, err := DecodeDeviceOpenReply(EncodeDeviceOpenReply(want))
	require.NoError(t, err)
	assert.Equal(t, "", got.DriverName)
}

func TestDeviceOpenReplyTruncatedName(t *testing.T) {
	body := EncodeDeviceOpenReply(DeviceOpenReply{DriverName: "sonar"})
	_, err := DecodeDeviceOpenReply(body[:len(body)-2])
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDeviceOpenReplyNameLongerThan255Truncated(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	body := EncodeDeviceOpenReply(DeviceOpenReply{DriverName: string(long)})
	got, err := DecodeDeviceOpenReply(body)
	require.NoError(t, err)
	assert.Len(t, got.DriverName, 255)
}

func TestDeviceCloseRequestRoundTrip(t *testing.T) {
	want := DeviceCloseRequest{Addr: Address{Robot: 6665, Interface: 3, Index: 2}}
	got, err := DecodeDeviceCloseRequest(EncodeDeviceCloseRequest(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeviceListReplyRoundTrip(t *testing.T) {
	want := DeviceListReply{Addrs: []Address{
		{Robot: 6665, Interface: 1},
		{Robot: 6665, Interface: 2, Index: 1},
	}}
	got, err := DecodeDeviceListReply(EncodeDeviceListReply(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDeviceListReplyEmpty(t *testing.T) {
	got, err := DecodeDeviceListReply(EncodeDeviceListReply(DeviceListReply{}))
	require.NoError(t, err)
	assert.Empty(t, got.Addrs)
}

func TestDeviceListReplyTruncated(t *testing.T) {
	body := EncodeDeviceListReply(DeviceListReply{Addrs: []Address{{Robot: 1}}})
	_, err := DecodeDeviceListReply(body[:len(body)-1])
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDriverInfoRequestRoundTrip(t *testing.T) {
	want := DriverInfoRequest{Addr: Address{Robot: 6665, Interface: 4}}
	got, err := DecodeDriverInfoRequest(EncodeDriverInfoRequest(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDriverInfoReplyRoundTrip(t *testing.T) {
	want := DriverInfoReply{Name: "p2os"}
	got := DecodeDriverInfoReply(EncodeDriverInfoReply(want))
	assert.Equal(t, want, got)
}

func TestDataModeRequestRoundTrip(t *testing.T) {
	want := DataModeRequest{Mode: ModePullNewOnDemand}
	got, err := DecodeDataModeRequest(EncodeDataModeRequest(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDataModeRequestShortBody(t *testing.T) {
	_, err := DecodeDataModeRequest(nil)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestAuthRequestRoundTrip(t *testing.T) {
	want := AuthRequest{Key: []byte("shared-secret")}
	got := DecodeAuthRequest(EncodeAuthRequest(want))
	assert.Equal(t, want, got)
}

func TestAuthRequestEncodeCopiesKey(t *testing.T) {
	key := []byte("secret")
	body := EncodeAuthRequest(AuthRequest{Key: key})
	key[0] = 'X'
	assert.Equal(t, byte('s'), body[0], "Encode must copy, not alias, the key")
}
