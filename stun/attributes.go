package stun

import (
	"encoding/binary"
	"fmt"
	"net"
)

// AttrType is a STUN/TURN attribute type. Comprehension-required attributes
// have a type < 0x8000; comprehension-optional attributes have a type
// >= 0x8000 and must be preserved verbatim by the codec even when unknown.
type AttrType uint16

const (
	AttrMappedAddress     AttrType = 0x0001
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000A
	AttrRealm             AttrType = 0x0014
	AttrNonce             AttrType = 0x0015
	AttrXorRelayedAddress AttrType = 0x0016
	AttrRequestedTransport AttrType = 0x0019
	AttrXorPeerAddress    AttrType = 0x0012
	AttrData              AttrType = 0x0013
	AttrXorMappedAddress  AttrType = 0x0020
	AttrEvenPort           AttrType = 0x0018
	AttrPriority          AttrType = 0x0024
	AttrUseCandidate      AttrType = 0x0025
	AttrLifetime          AttrType = 0x000D
	AttrSoftware          AttrType = 0x8022
	AttrFingerprint       AttrType = 0x8028
	AttrIceControlled     AttrType = 0x8029
	AttrIceControlling    AttrType = 0x802A

	// No CHANNEL-NUMBER attribute is defined: the turn package relays
	// through Send and Data indications only.
)

var attrNames = map[AttrType]string{
	AttrMappedAddress:      "MAPPED-ADDRESS",
	AttrUsername:           "USERNAME",
	AttrMessageIntegrity:   "MESSAGE-INTEGRITY",
	AttrErrorCode:          "ERROR-CODE",
	AttrUnknownAttributes:  "UNKNOWN-ATTRIBUTES",
	AttrRealm:              "REALM",
	AttrNonce:              "NONCE",
	AttrXorRelayedAddress:  "XOR-RELAYED-ADDRESS",
	AttrRequestedTransport: "REQUESTED-TRANSPORT",
	AttrXorPeerAddress:     "XOR-PEER-ADDRESS",
	AttrData:               "DATA",
	AttrXorMappedAddress:   "XOR-MAPPED-ADDRESS",
	AttrEvenPort:           "EVEN-PORT",
	AttrPriority:           "PRIORITY",
	AttrUseCandidate:       "USE-CANDIDATE",
	AttrLifetime:           "LIFETIME",
	AttrSoftware:           "SOFTWARE",
	AttrFingerprint:        "FINGERPRINT",
	AttrIceControlled:      "ICE-CONTROLLED",
	AttrIceControlling:     "ICE-CONTROLLING",
}

func (t AttrType) String() string {
	if name, ok := attrNames[t]; ok {
		return name
	}
	return fmt.Sprintf("attr(%#04x)", uint16(t))
}

// isKnown reports whether this package understands the semantics of the
// attribute (used to decide whether an unknown comprehension-required
// attribute should trigger a 420 error).
func (t AttrType) isKnown() bool {
	_, ok := attrNames[t]
	return ok
}

func (t AttrType) isComprehensionRequired() bool {
	return t < 0x8000
}

// Attribute is a single STUN TLV attribute.
type Attribute struct {
	Type  AttrType
	Value []byte
}

// numBytes is the attribute's size on the wire, including the 4-byte header
// and any padding needed to reach a 4-byte boundary.
func (a *Attribute) numBytes() int {
	return 4 + len(a.Value) + pad4(uint16(len(a.Value)))
}

const familyIPv4 = 0x01
const familyIPv6 = 0x02

// EncodeXorAddress encodes addr as an XOR-MAPPED-ADDRESS-style attribute
// value, obfuscated with the magic cookie and (for the address bits beyond
// the first 32) the transaction ID, per RFC 5389 §15.2.
func EncodeXorAddress(ip net.IP, port int, transactionID TransactionID) []byte {
	var value []byte
	if ip4 := ip.To4(); ip4 != nil {
		value = make([]byte, 8)
		value[1] = familyIPv4
		copy(value[4:8], ip4)
	} else {
		value = make([]byte, 20)
		value[1] = familyIPv6
		copy(value[4:20], ip.To16())
	}

	binary.BigEndian.PutUint16(value[2:4], uint16(port))
	xorBytes(value[2:4], MagicCookieBytes[0:2])
	xorBytes(value[4:8], MagicCookieBytes[:])
	if len(value) > 8 {
		xorBytes(value[8:], transactionID[:])
	}
	return value
}

// DecodeAddress decodes a MAPPED-ADDRESS or XOR-*-ADDRESS attribute value.
// If xor is true, the cookie/transaction-ID obfuscation is undone.
func DecodeAddress(value []byte, transactionID TransactionID, xor bool) (net.IP, int, error) {
	if len(value) < 4 {
		return nil, 0, fmt.Errorf("%w: address attribute too short", ErrCodec)
	}
	family := value[1]
	port := int(binary.BigEndian.Uint16(value[2:4]))

	var ip net.IP
	switch family {
	case familyIPv4:
		if len(value) < 8 {
			return nil, 0, fmt.Errorf("%w: truncated IPv4 address", ErrCodec)
		}
		ip = make(net.IP, 4)
		copy(ip, value[4:8])
	case familyIPv6:
		if len(value) < 20 {
			return nil, 0, fmt.Errorf("%w: truncated IPv6 address", ErrCodec)
		}
		ip = make(net.IP, 16)
		copy(ip, value[4:20])
	default:
		return nil, 0, fmt.Errorf("%w: unknown address family %#x", ErrCodec, family)
	}

	if xor {
		port ^= magicCookie >> 16
		xorBytes(ip[0:4], MagicCookieBytes[:])
		if len(ip) > 4 {
			xorBytes(ip[4:], transactionID[:])
		}
	}
	return ip, port, nil
}

func xorBytes(dst []byte, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// SetXorMappedAddress adds an XOR-MAPPED-ADDRESS attribute for addr.
func (m *Message) SetXorMappedAddress(addr net.Addr) {
	ip, port := addrParts(addr)
	m.AddAttribute(AttrXorMappedAddress, EncodeXorAddress(ip, port, m.TransactionID))
}

// SetXorRelayedAddress adds an XOR-RELAYED-ADDRESS attribute, used in TURN
// Allocate success responses.
func (m *Message) SetXorRelayedAddress(addr net.Addr) {
	ip, port := addrParts(addr)
	m.AddAttribute(AttrXorRelayedAddress, EncodeXorAddress(ip, port, m.TransactionID))
}

// SetXorPeerAddress adds an XOR-PEER-ADDRESS attribute, used in TURN
// Send/Data indications and CreatePermission requests.
func (m *Message) SetXorPeerAddress(addr net.Addr) {
	ip, port := addrParts(addr)
	m.AddAttribute(AttrXorPeerAddress, EncodeXorAddress(ip, port, m.TransactionID))
}

func addrParts(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		panic(fmt.Sprintf("stun: unsupported net.Addr type %T", addr))
	}
}

// GetMappedAddress returns the address carried by MAPPED-ADDRESS or
// XOR-MAPPED-ADDRESS, whichever is present.
func (m *Message) GetMappedAddress() (net.IP, int, error) {
	if a := m.GetAttribute(AttrXorMappedAddress); a != nil {
		return DecodeAddress(a.Value, m.TransactionID, true)
	}
	if a := m.GetAttribute(AttrMappedAddress); a != nil {
		return DecodeAddress(a.Value, m.TransactionID, false)
	}
	return nil, 0, fmt.Errorf("stun: no mapped address attribute")
}

// GetXorRelayedAddress returns the address carried by XOR-RELAYED-ADDRESS.
func (m *Message) GetXorRelayedAddress() (net.IP, int, error) {
	a := m.GetAttribute(AttrXorRelayedAddress)
	if a == nil {
		return nil, 0, fmt.Errorf("stun: no XOR-RELAYED-ADDRESS attribute")
	}
	return DecodeAddress(a.Value, m.TransactionID, true)
}

// GetXorPeerAddress returns the address carried by XOR-PEER-ADDRESS.
func (m *Message) GetXorPeerAddress() (net.IP, int, error) {
	a := m.GetAttribute(AttrXorPeerAddress)
	if a == nil {
		return nil, 0, fmt.Errorf("stun: no XOR-PEER-ADDRESS attribute")
	}
	return DecodeAddress(a.Value, m.TransactionID, true)
}

// AddPriority adds a PRIORITY attribute.
func (m *Message) AddPriority(p uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, p)
	m.AddAttribute(AttrPriority, v)
}

// GetPriority returns the value of the PRIORITY attribute, or 0 if absent.
func (m *Message) GetPriority() uint32 {
	if a := m.GetAttribute(AttrPriority); a != nil {
		return binary.BigEndian.Uint32(a.Value)
	}
	return 0
}

// HasUseCandidate reports whether the message carries USE-CANDIDATE.
func (m *Message) HasUseCandidate() bool {
	return m.GetAttribute(AttrUseCandidate) != nil
}

// AddUseCandidate adds the (zero-length) USE-CANDIDATE attribute.
func (m *Message) AddUseCandidate() {
	m.AddAttribute(AttrUseCandidate, nil)
}

// SetIceControlling/SetIceControlled add the tie-breaker-carrying role
// attribute for the connectivity checker (RFC 8445 §7.1.1).
func (m *Message) SetIceControlling(tieBreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tieBreaker)
	m.AddAttribute(AttrIceControlling, v)
}

func (m *Message) SetIceControlled(tieBreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tieBreaker)
	m.AddAttribute(AttrIceControlled, v)
}

func (m *Message) GetIceControlling() (uint64, bool) {
	if a := m.GetAttribute(AttrIceControlling); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true
	}
	return 0, false
}

func (m *Message) GetIceControlled() (uint64, bool) {
	if a := m.GetAttribute(AttrIceControlled); a != nil && len(a.Value) == 8 {
		return binary.BigEndian.Uint64(a.Value), true
	}
	return 0, false
}

// SetUsername adds a USERNAME attribute.
func (m *Message) SetUsername(username string) {
	m.AddAttribute(AttrUsername, []byte(username))
}

// GetUsername returns the USERNAME attribute value, or "" if absent.
func (m *Message) GetUsername() string {
	if a := m.GetAttribute(AttrUsername); a != nil {
		return string(a.Value)
	}
	return ""
}

// ErrorCode is the (class, number, reason) tuple carried by ERROR-CODE.
type ErrorCode struct {
	Code   int // e.g. 401, 420, 438, 487
	Reason string
}

// SetErrorCode adds an ERROR-CODE attribute.
func (m *Message) SetErrorCode(e ErrorCode) {
	v := make([]byte, 4+len(e.Reason))
	v[2] = byte(e.Code / 100)
	v[3] = byte(e.Code % 100)
	copy(v[4:], e.Reason)
	m.AddAttribute(AttrErrorCode, v)
}

// GetErrorCode decodes the ERROR-CODE attribute, if present.
func (m *Message) GetErrorCode() (ErrorCode, bool) {
	a := m.GetAttribute(AttrErrorCode)
	if a == nil || len(a.Value) < 4 {
		return ErrorCode{}, false
	}
	code := int(a.Value[2])*100 + int(a.Value[3])
	return ErrorCode{Code: code, Reason: string(a.Value[4:])}, true
}

// SetUnknownAttributes adds an UNKNOWN-ATTRIBUTES attribute listing the
// given comprehension-required attribute types.
func (m *Message) SetUnknownAttributes(types []uint16) {
	v := make([]byte, 2*len(types))
	for i, t := range types {
		binary.BigEndian.PutUint16(v[2*i:], t)
	}
	m.AddAttribute(AttrUnknownAttributes, v)
}

// SetRealm / SetNonce add the long-term-credential challenge attributes.
func (m *Message) SetRealm(realm string)  { m.AddAttribute(AttrRealm, []byte(realm)) }
func (m *Message) SetNonce(nonce string)  { m.AddAttribute(AttrNonce, []byte(nonce)) }
func (m *Message) GetRealm() string       { return attrString(m, AttrRealm) }
func (m *Message) GetNonce() string       { return attrString(m, AttrNonce) }

func attrString(m *Message, t AttrType) string {
	if a := m.GetAttribute(t); a != nil {
		return string(a.Value)
	}
	return ""
}

// SetLifetime / GetLifetime carry the TURN allocation lifetime, in seconds.
func (m *Message) SetLifetime(seconds uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, seconds)
	m.AddAttribute(AttrLifetime, v)
}

func (m *Message) GetLifetime() (uint32, bool) {
	if a := m.GetAttribute(AttrLifetime); a != nil && len(a.Value) == 4 {
		return binary.BigEndian.Uint32(a.Value), true
	}
	return 0, false
}

// RequestedTransportUDP is the protocol number for UDP (17), the only
// value REQUESTED-TRANSPORT ever carries in this implementation.
const RequestedTransportUDP = 17

// SetRequestedTransport adds a REQUESTED-TRANSPORT attribute.
func (m *Message) SetRequestedTransport(protocol byte) {
	m.AddAttribute(AttrRequestedTransport, []byte{protocol, 0, 0, 0})
}

// SetEvenPort adds an EVEN-PORT attribute (no reservation requested).
func (m *Message) SetEvenPort() {
	m.AddAttribute(AttrEvenPort, []byte{0})
}

// SetData wraps a relayed payload in a DATA attribute.
func (m *Message) SetData(data []byte) {
	m.AddAttribute(AttrData, data)
}

// GetData returns the DATA attribute's value, if present.
func (m *Message) GetData() ([]byte, bool) {
	if a := m.GetAttribute(AttrData); a != nil {
		return a.Value, true
	}
	return nil, false
}

// SetSoftware adds a SOFTWARE attribute.
func (m *Message) SetSoftware(s string) {
	m.AddAttribute(AttrSoftware, []byte(s))
}
