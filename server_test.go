package player_test

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	player "github.com/playernet/player"
	"github.com/playernet/player/examples/configdriver"
	"github.com/playernet/player/examples/echodriver"
)

func dialServer(t *testing.T, srv *player.Server) net.Conn {
	t.Helper()
	addrs := srv.ListenAddrs()
	require.Len(t, addrs, 1)
	conn, err := net.Dial("tcp", addrs[0].String())
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	banner := make([]byte, player.DefaultBannerSize)
	_, err = conn.Read(banner)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(banner, []byte(player.DefaultBanner)))
	return conn
}

func readFrame(t *testing.T, conn net.Conn) (player.Header, []byte) {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	h, body, _, err := player.Decode(buf[:n], 1<<20)
	require.NoError(t, err)
	return h, append([]byte(nil), body...)
}

func writeFrame(t *testing.T, conn net.Conn, h player.Header, body []byte) {
	t.Helper()
	var buf bytes.Buffer
	player.BuildFrame(&buf, h, body)
	_, err := conn.Write(buf.Bytes())
	require.NoError(t, err)
}

func openDevice(t *testing.T, conn net.Conn, addr player.Address, mode player.AccessMode) player.DeviceOpenReply {
	t.Helper()
	body := player.EncodeDeviceOpenRequest(player.DeviceOpenRequest{Addr: addr, Mode: mode})
	writeFrame(t, conn, player.Header{
		Dest:    player.Address{Interface: player.InterfacePlayer},
		Type:    player.TypeRequest,
		Subtype: player.SubtypeDeviceOpen,
	}, body)
	h, respBody := readFrame(t, conn)
	require.Equal(t, player.TypeRespAck, h.Type)
	reply, err := player.DecodeDeviceOpenReply(respBody)
	require.NoError(t, err)
	return reply
}

func setDataMode(t *testing.T, conn net.Conn, mode player.DeliveryMode) {
	t.Helper()
	writeFrame(t, conn, player.Header{
		Dest:    player.Address{Interface: player.InterfacePlayer},
		Type:    player.TypeRequest,
		Subtype: player.SubtypeDataMode,
	}, player.EncodeDataModeRequest(player.DataModeRequest{Mode: mode}))
	h, _ := readFrame(t, conn)
	require.Equal(t, player.TypeRespAck, h.Type)
}

func localPlayerAddr(t *testing.T, srv *player.Server, iface, index uint16) player.Address {
	t.Helper()
	addrs := srv.ListenAddrs()
	require.Len(t, addrs, 1)
	tcpAddr := addrs[0].(*net.TCPAddr)
	return player.NewAddress(tcpAddr.IP, uint16(tcpAddr.Port), iface, index)
}

// TestScenarioS1Echo implements spec.md §8 scenario S1.
func TestScenarioS1Echo(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := localPlayerAddr(t, srv, 10, 0)
	_, err := srv.RegisterDriver(addr, echodriver.New(), player.AccessAll, "echo", player.Threaded, 8)
	require.NoError(t, err)

	conn := dialServer(t, srv)
	defer conn.Close()

	reply := openDevice(t, conn, addr, player.AccessAll)
	require.Equal(t, player.AccessAll, reply.Granted)

	setDataMode(t, conn, player.ModePushAsync)

	writeFrame(t, conn, player.Header{Dest: addr, Type: player.TypeCommand}, []byte{0x01, 0x02, 0x03})

	h, body := readFrame(t, conn)
	require.Equal(t, player.TypeData, h.Type)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, body)
}

// TestScenarioS2RequestReply implements spec.md §8 scenario S2.
func TestScenarioS2RequestReply(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := localPlayerAddr(t, srv, 20, 0)
	_, err := srv.RegisterDriver(addr, configdriver.New(), player.AccessAll, "config", player.Threaded, 8)
	require.NoError(t, err)

	conn := dialServer(t, srv)
	defer conn.Close()

	openDevice(t, conn, addr, player.AccessAll)
	setDataMode(t, conn, player.ModePushAsync)

	writeFrame(t, conn, player.Header{Dest: addr, Type: player.TypeRequest, Subtype: configdriver.NackSubtype}, nil)
	h1, _ := readFrame(t, conn)
	require.Equal(t, player.TypeRespNack, h1.Type)
	require.Equal(t, configdriver.NackSubtype, h1.Subtype)

	writeFrame(t, conn, player.Header{Dest: addr, Type: player.TypeRequest, Subtype: 1}, []byte{0xAA})
	h2, body2 := readFrame(t, conn)
	require.Equal(t, player.TypeRespAck, h2.Type)
	require.Equal(t, uint8(1), h2.Subtype)
	require.Equal(t, []byte{0xAA}, body2)
}

// TestAccessEnforcementNoDataWithoutReadAccess implements spec.md §8 property 6.
func TestAccessEnforcementNoDataWithoutReadAccess(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	addr := localPlayerAddr(t, srv, 30, 0)
	_, err := srv.RegisterDriver(addr, echodriver.New(), player.AccessAll, "echo", player.Threaded, 8)
	require.NoError(t, err)

	conn := dialServer(t, srv)
	defer conn.Close()

	reply := openDevice(t, conn, addr, player.AccessWrite)
	require.Equal(t, player.AccessWrite, reply.Granted)
	setDataMode(t, conn, player.ModePushAsync)

	writeFrame(t, conn, player.Header{Dest: addr, Type: player.TypeCommand}, []byte{0x09})

	// A write-only subscriber must never receive the resulting DATA.
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	require.Error(t, err, "expected a read timeout, not a DATA delivery")
}

func TestDeviceOpenUnknownAddressIsNacked(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn := dialServer(t, srv)
	defer conn.Close()

	body := player.EncodeDeviceOpenRequest(player.DeviceOpenRequest{
		Addr: player.Address{Interface: 99, Index: 99},
		Mode: player.AccessAll,
	})
	writeFrame(t, conn, player.Header{
		Dest:    player.Address{Interface: player.InterfacePlayer},
		Type:    player.TypeRequest,
		Subtype: player.SubtypeDeviceOpen,
	}, body)

	h, respBody := readFrame(t, conn)
	require.Equal(t, player.TypeRespNack, h.Type)
	reply, err := player.DecodeDeviceOpenReply(respBody)
	require.NoError(t, err)
	require.Equal(t, player.AccessError, reply.Granted)
}

// TestNameserviceResolvesRegisteredRobot exercises the nameservice control
// request, the supplemented feature grounded on ClientData::
// HandleNameserviceRequest.
func TestNameserviceResolvesRegisteredRobot(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	tcpAddr := srv.ListenAddrs()[0].(*net.TCPAddr)
	srv.RegisterRobotName(uint16(tcpAddr.Port), "marvin")

	conn := dialServer(t, srv)
	defer conn.Close()

	writeFrame(t, conn, player.Header{
		Dest:    player.Address{Interface: player.InterfacePlayer},
		Type:    player.TypeRequest,
		Subtype: player.SubtypeNameservice,
	}, player.EncodeNameserviceRequest(player.NameserviceRequest{Name: "marvin"}))

	h, body := readFrame(t, conn)
	require.Equal(t, player.TypeRespAck, h.Type)
	reply, err := player.DecodeNameserviceReply(body)
	require.NoError(t, err)
	require.Equal(t, "marvin", reply.Name)
	require.Equal(t, uint16(tcpAddr.Port), reply.Port)
}

// TestNameserviceUnknownNameReturnsZeroPort matches
// HandleNameserviceRequest's behavior on a miss: it ACKs with port 0 rather
// than NACKing.
func TestNameserviceUnknownNameReturnsZeroPort(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn := dialServer(t, srv)
	defer conn.Close()

	writeFrame(t, conn, player.Header{
		Dest:    player.Address{Interface: player.InterfacePlayer},
		Type:    player.TypeRequest,
		Subtype: player.SubtypeNameservice,
	}, player.EncodeNameserviceRequest(player.NameserviceRequest{Name: "nobody"}))

	h, body := readFrame(t, conn)
	require.Equal(t, player.TypeRespAck, h.Type)
	reply, err := player.DecodeNameserviceReply(body)
	require.NoError(t, err)
	require.Equal(t, uint16(0), reply.Port)
}

// TestUnauthenticatedNonAuthMessageClosesConnection matches
// ClientData::HandleRequests's CheckAuth gate: a pre-auth message that
// isn't itself a valid auth request tears the connection down immediately
// rather than waiting around for a correct one.
func TestUnauthenticatedNonAuthMessageClosesConnection(t *testing.T) {
	srv := player.NewServer(player.WithListen("127.0.0.1:0"), player.WithAuthKey([]byte("secret")))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn := dialServer(t, srv)
	defer conn.Close()

	writeFrame(t, conn, player.Header{
		Dest:    player.Address{Interface: player.InterfacePlayer},
		Type:    player.TypeRequest,
		Subtype: player.SubtypeDeviceList,
	}, nil)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	_, err := conn.Read(buf)
	require.Error(t, err, "server must close the connection, not silently drop the message")
}
