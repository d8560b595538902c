package stun

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const fingerprintXor = 0x5354554e

// AddMessageIntegrity computes the HMAC-SHA1 MESSAGE-INTEGRITY attribute
// (RFC 5389 §15.4) using key, over the message as it would be encoded with
// the length field rewritten to include everything up to and including this
// attribute, excluding anything that follows (i.e. FINGERPRINT, if added
// afterwards). Must be called after all other attributes have been added.
func (m *Message) AddMessageIntegrity(key []byte) {
	attr := m.AddAttribute(AttrMessageIntegrity, make([]byte, 20))
	prefix := m.encodeUpTo(attr)

	mac := hmac.New(sha1.New, key)
	mac.Write(prefix)
	copy(attr.Value, mac.Sum(nil))
}

// VerifyMessageIntegrity recomputes the HMAC-SHA1 over the message prefix
// and compares it to the transmitted value. Returns false if no
// MESSAGE-INTEGRITY attribute is present.
func (m *Message) VerifyMessageIntegrity(key []byte) bool {
	attr := m.GetAttribute(AttrMessageIntegrity)
	if attr == nil || len(attr.Value) != 20 {
		return false
	}
	prefix := m.encodeUpTo(attr)
	mac := hmac.New(sha1.New, key)
	mac.Write(prefix)
	return hmac.Equal(mac.Sum(nil), attr.Value)
}

// AddFingerprint computes and appends a FINGERPRINT attribute (RFC 5389
// §15.5) over everything encoded so far. Must be the last attribute added.
func (m *Message) AddFingerprint() {
	attr := m.AddAttribute(AttrFingerprint, make([]byte, 4))
	prefix := m.encodeUpTo(attr)
	crc := crc32.ChecksumIEEE(prefix) ^ fingerprintXor
	binary.BigEndian.PutUint32(attr.Value, crc)
}

// VerifyFingerprint recomputes the CRC32 and compares it to the transmitted
// FINGERPRINT value.
func (m *Message) VerifyFingerprint() bool {
	attr := m.GetAttribute(AttrFingerprint)
	if attr == nil || len(attr.Value) != 4 {
		return false
	}
	prefix := m.encodeUpTo(attr)
	crc := crc32.ChecksumIEEE(prefix) ^ fingerprintXor
	return binary.BigEndian.Uint32(attr.Value) == crc
}

// encodeUpTo returns the wire encoding of the message's header and
// attributes up to, but not including, target, with the header's length
// field rewritten so it covers exactly that prefix plus target's own header
// and padded value. This is the "mandatory codec subtlety" spec.md §3
// requires for MESSAGE-INTEGRITY and FINGERPRINT.
func (m *Message) encodeUpTo(target *Attribute) []byte {
	var buf bytes.Buffer
	length := 0
	for i := range m.Attributes {
		length += m.Attributes[i].numBytes()
		if &m.Attributes[i] == target {
			break
		}
	}

	header := make([]byte, headerLength)
	binary.BigEndian.PutUint16(header[0:2], composeMessageType(m.Class, m.Method))
	binary.BigEndian.PutUint16(header[2:4], uint16(length))
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], m.TransactionID[:])
	buf.Write(header)

	for i := range m.Attributes {
		a := &m.Attributes[i]
		var ah [4]byte
		binary.BigEndian.PutUint16(ah[0:2], uint16(a.Type))
		binary.BigEndian.PutUint16(ah[2:4], uint16(len(a.Value)))
		buf.Write(ah[:])
		buf.Write(a.Value)
		for p := 0; p < pad4(uint16(len(a.Value))); p++ {
			buf.WriteByte(0)
		}
		if a == target {
			break
		}
	}
	return buf.Bytes()
}

// LongTermKey derives the MD5 key used by the long-term credential
// mechanism (RFC 5389 §15.4): MD5(username ":" realm ":" password).
func LongTermKey(username, realm, password string) []byte {
	h := md5.New()
	fmt.Fprintf(h, "%s:%s:%s", username, realm, password)
	return h.Sum(nil)
}
