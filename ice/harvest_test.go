package ice

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/goice/stun"
)

// TestStunHarvesterYieldsServerReflexiveCandidate implements Scenario 1: a
// loopback STUN server always answers Binding Requests with
// XOR-MAPPED-ADDRESS = 192.0.2.4:40000, and the harvester must produce
// exactly one ServerReflexiveCandidate with that address and the queried
// host candidate as its base.
func TestStunHarvesterYieldsServerReflexiveCandidate(t *testing.T) {
	serverPC, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverPC.Close()

	go func() {
		buf := make([]byte, 1500)
		for {
			n, raddr, err := serverPC.ReadFrom(buf)
			if err != nil {
				return
			}
			req, err := stun.Decode(buf[:n])
			if err != nil {
				continue
			}
			resp := stun.NewMessageWithID(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID)
			resp.SetXorMappedAddress(&net.UDPAddr{IP: net.ParseIP("192.0.2.4"), Port: 40000})
			serverPC.WriteTo(resp.Encode(), raddr)
		}
	}()

	cm := stun.NewCredentialsManager()
	txns := stun.NewClientTransactionTable(stun.DefaultTransactionConfig())
	a := NewAgent(Controlling, cm, txns)
	s := a.AddStream("0")

	hostPC, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 44444})
	require.NoError(t, err)

	comp := s.component(1)
	sh := comp.addSocket(hostPC, txns, func(msg *stun.Message, raddr net.Addr, sh *socketHandle) {
		a.HandleStunMessage(s, msg, raddr, sh)
	})
	s.addLocalCandidate(sh.candidate)

	harvester := &StunHarvester{ServerAddr: serverPC.LocalAddr().String()}
	var found []Candidate
	done := make(chan error, 1)
	go func() { done <- harvester.Gather(a, s, 1, func(c Candidate) { found = append(found, c) }) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for harvester")
	}

	require.Len(t, found, 1)
	assert.Equal(t, TypeServerReflexive, found[0].Type)
	assert.Equal(t, "192.0.2.4", found[0].Address.IP)
	assert.Equal(t, 40000, found[0].Address.Port)
	assert.Equal(t, sh.candidate.Base, found[0].Base)
}
