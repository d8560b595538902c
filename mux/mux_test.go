package mux

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFanOutSTUNAndFallThrough(t *testing.T) {
	pcA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	m := NewUDPMux(pcA, 0)
	defer m.Close()

	stunView := m.Register(IsSTUN)

	src, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer src.Close()

	bindingRequest := make([]byte, 20)
	bindingRequest[0] = 0x00
	bindingRequest[1] = 0x01
	binaryPutUint32(bindingRequest[4:8], stunMagicCookie)
	_, err = src.WriteTo(bindingRequest, m.pc.LocalAddr())
	require.NoError(t, err)

	arbitrary := []byte("not-stun-at-all")
	_, err = src.WriteTo(arbitrary, m.pc.LocalAddr())
	require.NoError(t, err)

	pkt, err := stunView.Receive()
	require.NoError(t, err)
	require.Equal(t, bindingRequest, pkt.Bytes)

	buf := make([]byte, 1500)
	n, _, err := m.ReadFrom(buf)
	require.NoError(t, err)
	require.Equal(t, arbitrary, buf[:n])
}

func binaryPutUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
