package stun

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewBindingRequest()
	m.AddPriority(12345)
	m.SetUsername("alice:bob")
	m.AddUseCandidate()
	m.AddMessageIntegrity([]byte("password"))
	m.AddFingerprint()

	encoded := m.Encode()
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.Equal(t, m.Class, decoded.Class)
	assert.Equal(t, m.Method, decoded.Method)
	assert.Equal(t, m.TransactionID, decoded.TransactionID)
	require.Len(t, decoded.Attributes, len(m.Attributes))
	for i := range m.Attributes {
		assert.Equal(t, m.Attributes[i], decoded.Attributes[i])
	}

	assert.Equal(t, encoded, decoded.Encode())
}

func TestDecodeRejectsNonStun(t *testing.T) {
	msg, err := Decode([]byte{0xff, 0xff, 0, 0})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestDecodeRejectsBadLength(t *testing.T) {
	m := NewBindingRequest()
	encoded := m.Encode()
	// Corrupt length field to claim 3 extra bytes (not a multiple of 4).
	encoded[3] = 3
	_, err := Decode(encoded)
	assert.ErrorIs(t, err, ErrCodec)
}

func TestDecodeFlagsUnknownComprehensionRequiredAttribute(t *testing.T) {
	m := NewBindingRequest()
	m.AddAttribute(AttrType(0x0002), []byte("reserved"))
	_, err := Decode(m.Encode())
	require.Error(t, err)
	var uae *UnknownAttributesError
	require.ErrorAs(t, err, &uae)
	assert.Equal(t, []uint16{0x0002}, uae.Types)
}

func TestMessageIntegrityRoundTrip(t *testing.T) {
	m := NewBindingRequest()
	m.SetUsername("u")
	m.AddMessageIntegrity([]byte("s3cr3t"))

	decoded, err := Decode(m.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.VerifyMessageIntegrity([]byte("s3cr3t")))
	assert.False(t, decoded.VerifyMessageIntegrity([]byte("wrong")))
}

func TestFingerprintMustBeLast(t *testing.T) {
	m := NewBindingRequest()
	m.AddMessageIntegrity([]byte("k"))
	m.AddFingerprint()
	decoded, err := Decode(m.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.VerifyFingerprint())
}

func TestXorAddressRoundTrip(t *testing.T) {
	id := NewTransactionID()
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.4"), Port: 40000}

	m := NewMessageWithID(ClassSuccessResponse, MethodBinding, id)
	m.SetXorMappedAddress(addr)

	ip, port, err := m.GetMappedAddress()
	require.NoError(t, err)
	assert.True(t, ip.Equal(addr.IP))
	assert.Equal(t, addr.Port, port)
}
