package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePriorityOrdersTypesCorrectly(t *testing.T) {
	host := computePriority(TypeHost, 1, 0)
	prflx := computePriority(TypePeerReflexive, 1, 0)
	srflx := computePriority(TypeServerReflexive, 1, 0)
	relay := computePriority(TypeRelayed, 1, 0)

	assert.Greater(t, host, prflx)
	assert.Greater(t, prflx, srflx)
	assert.Greater(t, srflx, relay)
}

func TestComputePriorityComponent2IsLower(t *testing.T) {
	c1 := computePriority(TypeHost, 1, 0)
	c2 := computePriority(TypeHost, 2, 0)
	assert.Greater(t, c1, c2)
}

func TestComputeFoundationStableAndDistinguishing(t *testing.T) {
	base := TransportAddress{Protocol: UDP, IP: "192.0.2.1", Port: 1000}
	other := TransportAddress{Protocol: UDP, IP: "192.0.2.2", Port: 1000}

	f1 := computeFoundation(TypeHost, base, "")
	f2 := computeFoundation(TypeHost, base, "")
	f3 := computeFoundation(TypeHost, other, "")

	assert.Equal(t, f1, f2)
	assert.NotEqual(t, f1, f3)
}

func TestCandidateSDPRoundTrip(t *testing.T) {
	base := TransportAddress{Protocol: UDP, IP: "192.0.2.1", Port: 54321, Family: 4}
	host := NewHostCandidate(1, base, nil)

	line := EncodeCandidateSDP(host)
	parsed, err := ParseCandidateSDP(line)
	require.NoError(t, err)

	assert.Equal(t, host.Component, parsed.Component)
	assert.Equal(t, host.Foundation, parsed.Foundation)
	assert.Equal(t, host.Priority, parsed.Priority)
	assert.Equal(t, host.Address.IP, parsed.Address.IP)
	assert.Equal(t, host.Address.Port, parsed.Address.Port)
	assert.Equal(t, host.Type, parsed.Type)
}

func TestCandidateSDPRoundTripRelayed(t *testing.T) {
	relayed := TransportAddress{Protocol: UDP, IP: "203.0.113.9", Port: 55000, Family: 4}
	cand := NewRelayedCandidate(1, relayed, "turn.example.com", nil)
	cand.RelatedAddress = "192.0.2.1"
	cand.RelatedPort = 54321

	line := EncodeCandidateSDP(cand)
	parsed, err := ParseCandidateSDP(line)
	require.NoError(t, err)

	assert.Equal(t, cand.RelatedAddress, parsed.RelatedAddress)
	assert.Equal(t, cand.RelatedPort, parsed.RelatedPort)
}
