// Package stun implements the message codec, transaction layer, and
// credential mechanisms of RFC 5389 (STUN), shared by the ICE connectivity
// checker and the TURN client/server paths.
package stun

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/lanikai/goice/internal/logging"
	"github.com/lanikai/goice/internal/packet"
)

var log = logging.DefaultLogger.WithTag("stun")

// Class identifies whether a message is a request, indication, success
// response, or error response.
type Class uint16

const (
	ClassRequest         Class = 0
	ClassIndication      Class = 1
	ClassSuccessResponse Class = 2
	ClassErrorResponse   Class = 3
)

func (c Class) String() string {
	switch c {
	case ClassRequest:
		return "request"
	case ClassIndication:
		return "indication"
	case ClassSuccessResponse:
		return "success response"
	case ClassErrorResponse:
		return "error response"
	default:
		return fmt.Sprintf("class(%#x)", uint16(c))
	}
}

// Method identifies the STUN/TURN method of a message.
type Method uint16

const (
	MethodBinding           Method = 0x001
	MethodAllocate          Method = 0x003
	MethodRefresh           Method = 0x004
	MethodSend              Method = 0x006
	MethodData              Method = 0x007
	MethodCreatePermission  Method = 0x008
	MethodChannelBind       Method = 0x009
)

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

// MagicCookieBytes is the 4-byte magic cookie in network byte order, used
// when XOR-obfuscating addresses.
var MagicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}

// TransactionID is the 96-bit identifier that correlates a STUN request with
// its response. It also serves as the map key for both client and server
// transactions.
type TransactionID [12]byte

// NewTransactionID generates a cryptographically random transaction ID.
func NewTransactionID() TransactionID {
	var id TransactionID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand failing is a fatal environment problem, not something
		// any caller could meaningfully recover from.
		panic("stun: crypto/rand unavailable: " + err.Error())
	}
	return id
}

func (id TransactionID) String() string {
	return hex.EncodeToString(id[:])
}

// Message is a decoded STUN message: header plus an ordered list of
// attributes. Message satisfies encode(decode(x)) == x for well-formed
// input (spec.md §3 StunMessage invariant).
type Message struct {
	Class  Class
	Method Method

	TransactionID TransactionID

	Attributes []Attribute

	// Opaque carries application data associated with this transaction
	// (e.g. the candidate pair a connectivity check belongs to). It is
	// never encoded on the wire.
	Opaque interface{}
}

// NewMessage creates a message with a fresh random transaction ID.
func NewMessage(class Class, method Method) *Message {
	return &Message{
		Class:         class,
		Method:        method,
		TransactionID: NewTransactionID(),
	}
}

// NewMessageWithID creates a message reusing an existing transaction ID,
// e.g. when building a response to a received request.
func NewMessageWithID(class Class, method Method, id TransactionID) *Message {
	return &Message{Class: class, Method: method, TransactionID: id}
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "STUN %s", m.Class)
	if m.Method != MethodBinding {
		fmt.Fprintf(&b, " method=%#x", uint16(m.Method))
	}
	fmt.Fprintf(&b, " tid=%s", m.TransactionID)
	for _, a := range m.Attributes {
		fmt.Fprintf(&b, " %s", a.Type)
	}
	return b.String()
}

// AddAttribute appends a raw attribute and returns it for further mutation
// (e.g. by addMessageIntegrity, which must rewrite Value after the length
// is known).
func (m *Message) AddAttribute(t AttrType, v []byte) *Attribute {
	value := make([]byte, len(v))
	copy(value, v)
	m.Attributes = append(m.Attributes, Attribute{Type: t, Value: value})
	return &m.Attributes[len(m.Attributes)-1]
}

// GetAttribute returns the first attribute of the given type, or nil.
func (m *Message) GetAttribute(t AttrType) *Attribute {
	for i := range m.Attributes {
		if m.Attributes[i].Type == t {
			return &m.Attributes[i]
		}
	}
	return nil
}

func composeMessageType(class Class, method Method) uint16 {
	c := uint16(class)
	me := uint16(method)
	t := (c<<7)&0x0100 | (c<<4)&0x0010
	t |= (me<<2)&0x3e00 | (me<<1)&0x00e0 | (me & 0x000f)
	return t
}

func decomposeMessageType(t uint16) (Class, Method) {
	class := (t&0x0100)>>7 | (t&0x0010)>>4
	method := (t&0x3e00)>>2 | (t&0x00e0)>>1 | (t & 0x000f)
	return Class(class), Method(method)
}

// Decode parses a STUN message from buf. It returns (nil, nil) when buf does
// not look like a STUN message at all (wrong top bits, short header, or bad
// magic cookie) -- this lets callers use Decode as a cheap STUN/non-STUN
// filter. The length field is checked before the magic cookie, so a buffer
// whose length is not a multiple of 4 or runs past the buffer yields an
// error even when its cookie is wrong. An error wrapping ErrCodec means the
// buffer was malformed. A request carrying unknown comprehension-required
// attributes is returned together with an *UnknownAttributesError.
func Decode(buf []byte) (*Message, error) {
	if len(buf) < headerLength {
		return nil, nil
	}

	messageType := binary.BigEndian.Uint16(buf[0:2])
	if messageType>>14 != 0 {
		return nil, nil
	}

	length := binary.BigEndian.Uint16(buf[2:4])
	if length%4 != 0 {
		return nil, fmt.Errorf("%w: length %d not a multiple of 4", ErrCodec, length)
	}
	if int(length) > len(buf)-headerLength {
		return nil, fmt.Errorf("%w: length field exceeds buffer", ErrCodec)
	}

	if binary.BigEndian.Uint32(buf[4:8]) != magicCookie {
		return nil, nil
	}

	class, method := decomposeMessageType(messageType)
	msg := &Message{Class: class, Method: method}
	copy(msg.TransactionID[:], buf[8:20])

	r := packet.NewReader(buf[headerLength : headerLength+int(length)])
	var unknown []uint16
	integritySeen := false
	for r.Remaining() > 0 {
		if err := r.CheckRemaining(4); err != nil {
			return msg, fmt.Errorf("%w: truncated attribute header", ErrCodec)
		}
		typ := AttrType(r.ReadUint16())
		alen := r.ReadUint16()
		if err := r.CheckRemaining(int(alen)); err != nil {
			return msg, fmt.Errorf("%w: attribute %s length %d exceeds message", ErrCodec, typ, alen)
		}
		value := make([]byte, alen)
		copy(value, r.ReadSlice(int(alen)))
		r.Skip(pad4(alen))

		if typ == AttrMessageIntegrity {
			integritySeen = true
		} else if integritySeen && typ != AttrFingerprint {
			// MESSAGE-INTEGRITY must be the last attribute, except for an
			// optional trailing FINGERPRINT.
			return msg, fmt.Errorf("%w: attribute after MESSAGE-INTEGRITY", ErrCodec)
		}

		msg.Attributes = append(msg.Attributes, Attribute{Type: typ, Value: value})

		if class == ClassRequest && typ.isComprehensionRequired() && !typ.isKnown() {
			unknown = append(unknown, uint16(typ))
		}
	}

	if len(unknown) > 0 {
		return msg, &UnknownAttributesError{Types: unknown}
	}
	return msg, nil
}

// Encode serializes the message to wire format. Attribute order is
// preserved, satisfying the round-trip invariant required by spec.md §8.4.
func (m *Message) Encode() []byte {
	length := 0
	for _, a := range m.Attributes {
		length += a.numBytes()
	}

	buf := make([]byte, headerLength+length)
	w := packet.NewWriter(buf)
	w.WriteUint16(composeMessageType(m.Class, m.Method))
	w.WriteUint16(uint16(length))
	w.WriteUint32(magicCookie)
	w.WriteSlice(m.TransactionID[:])

	for _, a := range m.Attributes {
		w.WriteUint16(uint16(a.Type))
		w.WriteUint16(uint16(len(a.Value)))
		w.WriteSlice(a.Value)
		w.ZeroPad(pad4(uint16(len(a.Value))))
	}
	return buf
}

// pad4 returns the number of padding bytes (0-3) needed to round n up to a
// multiple of 4.
func pad4(n uint16) int {
	return -int(n) & 3
}
