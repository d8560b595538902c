package stun

import "errors"

// Typed errors produced by the codec and transaction layer. Callers should
// compare with errors.Is against these sentinels rather than inspecting
// message text.
var (
	// ErrCodec indicates a malformed STUN message. The packet should be
	// dropped; it never reaches a listener.
	ErrCodec = errors.New("stun: malformed message")

	// ErrProtocol indicates a well-formed message that is semantically
	// invalid, e.g. a MESSAGE-INTEGRITY mismatch or a missing required
	// attribute.
	ErrProtocol = errors.New("stun: protocol violation")

	// ErrTransactionTimeout stands for a client transaction that exhausts
	// its retransmissions without a response. The transaction layer reports
	// that through ResponseCollector.ProcessTimeout, which takes no error;
	// turn.Allocation converts it into this value.
	ErrTransactionTimeout = errors.New("stun: transaction timed out")

	// ErrTransactionCancelled stands for a pending client transaction that
	// was cancelled, reported through ResponseCollector.ProcessCancelled
	// (which takes no error); turn.Allocation converts it into this value.
	ErrTransactionCancelled = errors.New("stun: transaction cancelled")

	// ErrTransactionUnreachable is delivered when the network layer
	// reports the destination as unreachable.
	ErrTransactionUnreachable = errors.New("stun: destination unreachable")

	// ErrTransactionDoesNotExist is returned by SendResponse when no
	// server transaction exists for the given transaction ID (either it
	// never existed or has already expired).
	ErrTransactionDoesNotExist = errors.New("stun: transaction does not exist")

	// ErrTransactionAlreadyAnswered is returned by SendResponse when a
	// server transaction already has a cached response. See DESIGN.md for
	// the Open Question this resolves: the cached response is never
	// silently replaced.
	ErrTransactionAlreadyAnswered = errors.New("stun: transaction already answered")

	// ErrAuth indicates a credential mismatch (bad USERNAME, bad
	// MESSAGE-INTEGRITY, stale NONCE).
	ErrAuth = errors.New("stun: authentication failed")

	// ErrResource indicates a bounded queue or worker pool was full; the
	// packet was dropped but the condition is not fatal.
	ErrResource = errors.New("stun: resource exhausted")
)

// UnknownAttributesError is returned by Decode when a request contains one
// or more comprehension-required attributes (type < 0x8000) that this
// package does not recognize. The caller should respond with a 420 Unknown
// Attribute error echoing Types.
type UnknownAttributesError struct {
	Types []uint16
}

func (e *UnknownAttributesError) Error() string {
	return "stun: unknown comprehension-required attributes"
}

func (e *UnknownAttributesError) Unwrap() error {
	return ErrProtocol
}
