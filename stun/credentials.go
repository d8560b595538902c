package stun

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// CredentialsAuthority resolves a local ufrag to the password used to key
// MESSAGE-INTEGRITY. It is registered with a CredentialsManager by whichever
// component owns that ufrag (an ICE Agent, a TURN server). A "", false return
// means the ufrag is not recognized.
type CredentialsAuthority interface {
	Key(ufrag string) (password string, ok bool)
}

// CredentialsManager owns the set of registered authorities, keyed by
// local ufrag. It is the stack-wide (spec.md §5, "owned by the stack")
// registry that short-term USERNAME validation consults.
type CredentialsManager struct {
	mu         sync.RWMutex
	authorities map[string]CredentialsAuthority
}

func NewCredentialsManager() *CredentialsManager {
	return &CredentialsManager{authorities: make(map[string]CredentialsAuthority)}
}

// Register associates a local ufrag with the authority that can supply its
// password.
func (cm *CredentialsManager) Register(localUfrag string, authority CredentialsAuthority) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.authorities[localUfrag] = authority
}

// Unregister removes a previously registered ufrag, e.g. when the owning
// component (Agent, Stream) is torn down.
func (cm *CredentialsManager) Unregister(localUfrag string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.authorities, localUfrag)
}

// Key looks up the password for a local ufrag, across all registered
// authorities.
func (cm *CredentialsManager) Key(localUfrag string) (string, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	a, ok := cm.authorities[localUfrag]
	if !ok {
		return "", false
	}
	return a.Key(localUfrag)
}

// ShortTermCredentials implements the short-term credential mechanism used
// by ICE connectivity checks (spec.md §4.6). USERNAME is of the form
// "<remote-ufrag>:<local-ufrag>"; MESSAGE-INTEGRITY is keyed with the
// remote password.
type ShortTermCredentials struct {
	LocalUfrag     string
	RemoteUfrag    string
	LocalPassword  string
	RemotePassword string
}

// Username returns the USERNAME attribute value for a request sent BY the
// owner of LocalUfrag/LocalPassword TO the peer identified by RemoteUfrag.
func (c *ShortTermCredentials) Username() string {
	return c.RemoteUfrag + ":" + c.LocalUfrag
}

// SignRequest adds USERNAME and MESSAGE-INTEGRITY (keyed with the remote
// password) to an outbound connectivity-check request.
func (c *ShortTermCredentials) SignRequest(m *Message) {
	m.SetUsername(c.Username())
	m.AddMessageIntegrity([]byte(c.RemotePassword))
}

// SignResponse adds MESSAGE-INTEGRITY (keyed with the local password) to a
// response this agent sends back.
func (c *ShortTermCredentials) SignResponse(m *Message) {
	m.AddMessageIntegrity([]byte(c.LocalPassword))
}

// LongTermSession remembers the (realm, nonce) pair returned by a 401
// challenge, and updates it on a 438 Stale Nonce. One session exists per
// (client, server) pair -- e.g. per TURN allocation.
type LongTermSession struct {
	mu       sync.Mutex
	Username string
	Password string
	Realm    string
	Nonce    string
}

// Challenge records the REALM/NONCE from a 401 or 438 error response.
func (s *LongTermSession) Challenge(realm, nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Realm = realm
	s.Nonce = nonce
}

// SignRequest adds USERNAME, REALM, NONCE, and MESSAGE-INTEGRITY (keyed
// with MD5(username:realm:password)) to an outbound request. It must only
// be called after a Challenge has populated Realm/Nonce.
func (s *LongTermSession) SignRequest(m *Message) {
	s.mu.Lock()
	realm, nonce := s.Realm, s.Nonce
	s.mu.Unlock()

	m.SetUsername(s.Username)
	m.SetRealm(realm)
	m.SetNonce(nonce)
	m.AddMessageIntegrity(LongTermKey(s.Username, realm, s.Password))
}

// GenerateNonce produces a fresh, opaque NONCE value for a long-term
// challenge, following the common practice of encoding random bytes as hex.
func GenerateNonce() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// GenerateCredential produces one cryptographically random ufrag or
// password: n random bytes, hex-encoded into 2n characters.
func GenerateCredential(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// ValidateRequest implements the server-side validation order specified in
// spec.md §4.6:
//  1. USERNAME must resolve via the CredentialsManager.
//  2. If MESSAGE-INTEGRITY is present, it must verify against the resolved
//     key.
//  3. If MESSAGE-INTEGRITY is absent and requireIntegrity is set, reject.
//  4. Unknown comprehension-required attributes yield 420.
//
// On success, ValidateRequest returns the local ufrag (the portion of
// USERNAME this stack owns) and a nil error. On failure it returns the
// STUN error response that the caller should send back to the peer.
func ValidateRequest(cm *CredentialsManager, req *Message, requireIntegrity bool) (localUfrag string, errResp *Message) {
	username := req.GetUsername()
	if username == "" {
		if requireIntegrity {
			return "", unauthorizedResponse(req)
		}
		return "", nil
	}

	parts := strings.SplitN(username, ":", 2)
	if len(parts) != 2 {
		return "", unauthorizedResponse(req)
	}
	localUfrag = parts[0]

	key, ok := cm.Key(localUfrag)
	if !ok {
		return "", unauthorizedResponse(req)
	}

	if req.GetAttribute(AttrMessageIntegrity) != nil {
		if !req.VerifyMessageIntegrity([]byte(key)) {
			return "", unauthorizedResponse(req)
		}
	} else if requireIntegrity {
		return "", unauthorizedResponse(req)
	}

	var unknown []uint16
	for _, a := range req.Attributes {
		if a.Type.isComprehensionRequired() && !a.Type.isKnown() {
			unknown = append(unknown, uint16(a.Type))
		}
	}
	if len(unknown) > 0 {
		return "", UnknownAttributeResponse(req, unknown)
	}

	return localUfrag, nil
}

func unauthorizedResponse(req *Message) *Message {
	resp := NewMessageWithID(ClassErrorResponse, req.Method, req.TransactionID)
	resp.SetErrorCode(ErrorCode{Code: 401, Reason: "Unauthorized"})
	return resp
}

// UnknownAttributeResponse builds the 420 response for a request carrying
// unrecognized comprehension-required attributes.
func UnknownAttributeResponse(req *Message, types []uint16) *Message {
	resp := NewMessageWithID(ClassErrorResponse, req.Method, req.TransactionID)
	resp.SetErrorCode(ErrorCode{Code: 420, Reason: fmt.Sprintf("Unknown Attribute")})
	resp.SetUnknownAttributes(types)
	return resp
}

// StaleNonceResponse builds the 438 response that restarts a long-term
// challenge with a fresh nonce.
func StaleNonceResponse(req *Message, realm, nonce string) *Message {
	resp := NewMessageWithID(ClassErrorResponse, req.Method, req.TransactionID)
	resp.SetErrorCode(ErrorCode{Code: 438, Reason: "Stale Nonce"})
	resp.SetRealm(realm)
	resp.SetNonce(nonce)
	return resp
}
