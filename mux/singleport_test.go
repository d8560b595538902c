package mux

import (
	"net"
	"testing"
	"time"

	"github.com/lanikai/goice/stun"
	"github.com/stretchr/testify/require"
)

func TestSinglePortUDPDemuxer(t *testing.T) {
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	var newPeers []string
	var vs *VirtualSocket
	demux := NewSinglePortUDPDemuxer(pc, func(ufrag string) bool {
		return ufrag == "abcd"
	}, func(ufrag string, v *VirtualSocket) {
		newPeers = append(newPeers, ufrag)
		vs = v
	})

	peerA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peerA.Close()
	peerB, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peerB.Close()

	req := stun.NewBindingRequest()
	req.SetUsername("abcd:peer")
	_, err = peerA.WriteTo(req.Encode(), pc.LocalAddr())
	require.NoError(t, err)
	_, err = peerB.WriteTo([]byte("raw-unmatched-payload"), pc.LocalAddr())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		demux.mu.Lock()
		defer demux.mu.Unlock()
		return len(demux.byRemote) == 1
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"abcd"}, newPeers)
	pkt, err := vs.Receive()
	require.NoError(t, err)
	decoded, err := stun.Decode(pkt.Bytes)
	require.NoError(t, err)
	require.Equal(t, "abcd:peer", decoded.GetUsername())

	_, err = peerA.WriteTo([]byte("second-datagram-from-A"), pc.LocalAddr())
	require.NoError(t, err)
	pkt2, err := vs.Receive()
	require.NoError(t, err)
	require.Equal(t, "second-datagram-from-A", string(pkt2.Bytes))

	demux.mu.Lock()
	_, bKnown := demux.byRemote[peerB.LocalAddr().String()]
	demux.mu.Unlock()
	require.False(t, bKnown, "B's datagram must not create a virtual socket")
}
