package turn

import (
	"net"
	"testing"
	"time"

	"github.com/lanikai/goice/stun"
	"github.com/stretchr/testify/require"
)

// mockTURNServer behaves like a TURN server just enough to exercise
// Allocate -> 401 challenge -> retry -> success, CreatePermission, and the
// Send/Data-Indication relay path.
type mockTURNServer struct {
	pc          *net.UDPConn
	relayedAddr *net.UDPAddr
	t           *testing.T
}

func newMockTURNServer(t *testing.T) *mockTURNServer {
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	s := &mockTURNServer{pc: pc, relayedAddr: &net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 55000}, t: t}
	go s.serve()
	return s
}

func (s *mockTURNServer) addr() net.Addr { return s.pc.LocalAddr() }

func (s *mockTURNServer) serve() {
	buf := make([]byte, 1500)
	authorized := false
	for {
		n, raddr, err := s.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		msg, err := stun.Decode(buf[:n])
		require.NoError(s.t, err)
		require.NotNil(s.t, msg)

		switch msg.Method {
		case stun.MethodAllocate:
			if !authorized {
				authorized = true
				resp := stun.NewMessageWithID(stun.ClassErrorResponse, stun.MethodAllocate, msg.TransactionID)
				resp.SetErrorCode(stun.ErrorCode{Code: 401, Reason: "Unauthorized"})
				resp.SetRealm("example.org")
				resp.SetNonce("noncevalue")
				s.pc.WriteTo(resp.Encode(), raddr)
				continue
			}
			resp := stun.NewMessageWithID(stun.ClassSuccessResponse, stun.MethodAllocate, msg.TransactionID)
			resp.SetXorRelayedAddress(s.relayedAddr)
			resp.SetXorMappedAddress(raddr)
			resp.SetLifetime(600)
			s.pc.WriteTo(resp.Encode(), raddr)

		case stun.MethodCreatePermission:
			resp := stun.NewMessageWithID(stun.ClassSuccessResponse, stun.MethodCreatePermission, msg.TransactionID)
			s.pc.WriteTo(resp.Encode(), raddr)

		case stun.MethodSend:
			ip, port, err := msg.GetXorPeerAddress()
			require.NoError(s.t, err)
			data, _ := msg.GetData()
			// Echo it straight back as a Data Indication, as if the peer replied.
			ind := stun.NewMessage(stun.ClassIndication, stun.MethodData)
			ind.SetXorPeerAddress(&net.UDPAddr{IP: ip, Port: port})
			ind.SetData(data)
			s.pc.WriteTo(ind.Encode(), raddr)
		}
	}
}

func TestAllocationLifecycle(t *testing.T) {
	server := newMockTURNServer(t)
	defer server.pc.Close()

	clientPC, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer clientPC.Close()

	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())
	sendFn := func(b []byte, dst net.Addr) error {
		_, err := clientPC.WriteTo(b, dst)
		return err
	}

	cfg := DefaultAllocationConfig(server.addr().String(), "user", "pass")
	alloc := NewAllocation(cfg, server.addr(), sendFn, txns)

	go func() {
		buf := make([]byte, 1500)
		for {
			n, raddr, err := clientPC.ReadFrom(buf)
			if err != nil {
				return
			}
			msg, err := stun.Decode(buf[:n])
			if err != nil || msg == nil {
				continue
			}
			if msg.Class == stun.ClassIndication && msg.Method == stun.MethodData {
				alloc.HandleDataIndication(msg)
				continue
			}
			txns.HandleResponse(msg, raddr)
		}
	}()

	require.NoError(t, alloc.Allocate())
	require.Equal(t, server.relayedAddr.String(), alloc.RelayedAddr().String())

	peer := &net.UDPAddr{IP: net.IPv4(198, 51, 100, 5), Port: 9000}
	conn := alloc.Conn()
	_, err = conn.WriteTo([]byte("hello peer"), peer)
	require.NoError(t, err)

	buf := make([]byte, 1500)
	done := make(chan struct{})
	var n int
	var from net.Addr
	go func() {
		n, from, err = conn.ReadFrom(buf)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed data")
	}
	require.NoError(t, err)
	require.Equal(t, "hello peer", string(buf[:n]))
	require.Equal(t, peer.String(), from.String())
}
