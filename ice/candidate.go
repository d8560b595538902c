package ice

import (
	"encoding/base32"
	"fmt"
	"hash/fnv"
)

// CandidateType identifies how a candidate's transport address was
// obtained (RFC 8445 §5.3).
type CandidateType string

const (
	TypeHost            CandidateType = "host"
	TypeServerReflexive CandidateType = "srflx"
	TypePeerReflexive   CandidateType = "prflx"
	TypeRelayed         CandidateType = "relay"
)

// Candidate is a local or remote ICE candidate (RFC 8445 §5.3). A local
// candidate's Socket is non-nil and is the object connectivity checks send
// through; a remote candidate carries only the information learned from
// SDP or trickle signaling.
type Candidate struct {
	Component  int
	Foundation string
	Priority   uint32
	Address    TransportAddress
	Type       CandidateType

	// Base is the local address this candidate was derived from (itself
	// for a host candidate). Two candidates with the same base and
	// pointing at the same remote are redundant (RFC 8445 §6.1.2.4).
	Base TransportAddress

	// RelatedAddress/RelatedPort carry the srflx/relay base, per RFC 5245
	// §15.1's raddr/rport requirement.
	RelatedAddress string
	RelatedPort    int

	// Socket sends on behalf of this candidate. nil for remote candidates.
	Socket CandidateSocket
}

// CandidateSocket is the minimal send/local-address surface a local
// candidate needs from its owning Connector, RelayedConn, or
// VirtualSocket, so the checklist does not need to know which harvester
// produced the candidate.
type CandidateSocket interface {
	Send(b []byte, destination TransportAddress) error
}

// NewHostCandidate builds a host candidate for a bound local address.
func NewHostCandidate(component int, base TransportAddress, socket CandidateSocket) Candidate {
	return Candidate{
		Component:  component,
		Base:       base,
		Address:    base,
		Type:       TypeHost,
		Priority:   computePriority(TypeHost, component, 0),
		Foundation: computeFoundation(TypeHost, base, ""),
		Socket:     socket,
	}
}

// NewServerReflexiveCandidate builds a srflx candidate from the
// XOR-MAPPED-ADDRESS of a STUN Binding response, keeping the host candidate's
// socket so sends still go out the same local port.
func NewServerReflexiveCandidate(mapped TransportAddress, base Candidate, serverKey string) Candidate {
	return Candidate{
		Component:      base.Component,
		Base:           base.Base,
		Address:        mapped,
		Type:           TypeServerReflexive,
		Priority:       computePriority(TypeServerReflexive, base.Component, 0),
		Foundation:     computeFoundation(TypeServerReflexive, base.Base, serverKey),
		RelatedAddress: base.Base.IP,
		RelatedPort:    base.Base.Port,
		Socket:         base.Socket,
	}
}

// NewRelayedCandidate builds a relay candidate from a TURN allocation's
// relayed address. Its socket is the RelayedConn itself.
func NewRelayedCandidate(component int, relayed TransportAddress, serverKey string, socket CandidateSocket) Candidate {
	return Candidate{
		Component:  component,
		Base:       relayed,
		Address:    relayed,
		Type:       TypeRelayed,
		Priority:   computePriority(TypeRelayed, component, 0),
		Foundation: computeFoundation(TypeRelayed, relayed, serverKey),
		Socket:     socket,
	}
}

// NewPeerReflexiveCandidate builds a prflx candidate learned from the
// source address of an inbound connectivity check (RFC 8445 §7.3.1.3).
func NewPeerReflexiveCandidate(component int, addr TransportAddress, base Candidate, priority uint32) Candidate {
	return Candidate{
		Component:  component,
		Base:       base.Base,
		Address:    addr,
		Type:       TypePeerReflexive,
		Priority:   priority,
		Foundation: computeFoundation(TypePeerReflexive, addr, ""),
		Socket:     base.Socket,
	}
}

// computePriority implements RFC 8445 §5.1.2.1's formula. localPref
// distinguishes candidates sharing a type but bound to different local
// interfaces; a value <= 0 selects the maximum, 65535. Every constructor in
// this package passes 0, so candidates of the same type and component get
// the same priority whatever interface they are bound to.
func computePriority(typ CandidateType, component int, localPref int) uint32 {
	var typePref int
	switch typ {
	case TypeHost:
		typePref = 126
	case TypePeerReflexive:
		typePref = 110
	case TypeServerReflexive:
		typePref = 100
	case TypeRelayed:
		typePref = 0
	}
	if localPref <= 0 {
		localPref = 65535
	}
	return uint32(typePref)<<24 | uint32(localPref)<<8 | uint32(256-component)
}

// computeFoundation implements RFC 8445 §5.1.1.3: unique per (type, base
// IP, protocol, STUN/TURN server).
func computeFoundation(typ CandidateType, base TransportAddress, serverKey string) string {
	fingerprint := fmt.Sprintf("%s/%s/%s", typ, base.Protocol, base.IP)
	if serverKey != "" {
		fingerprint += "/" + serverKey
	}
	h := fnv.New64()
	h.Write([]byte(fingerprint))
	return base32.StdEncoding.EncodeToString(h.Sum(nil))[:8]
}

// PeerPriority recomputes this candidate's priority as if it were
// peer-reflexive, for use in PRIORITY attributes sent during connectivity
// checks (RFC 8445 §7.1.1).
func (c Candidate) PeerPriority() uint32 {
	return computePriority(TypePeerReflexive, c.Component, 0)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s candidate %s (foundation=%s, component=%d, priority=%d)",
		c.Type, c.Address, c.Foundation, c.Component, c.Priority)
}
