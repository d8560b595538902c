package stun

import "time"

// TransactionConfig tunes the client/server transaction layer (spec.md §6).
// The zero value is not usable directly; use DefaultTransactionConfig.
type TransactionConfig struct {
	// RTO is the initial retransmission timeout. Retransmits double this
	// value each time, up to RTO*2^(Rc-1).
	RTO time.Duration

	// Rc is the maximum number of times a request is sent (including the
	// first transmission). RFC 5389 §7.2.1 default is 7.
	Rc int

	// Rm bounds the total time a transaction waits for a final response,
	// as a multiple of RTO: Rm*RTO. RFC 5389 §7.2.1 default is 16.
	Rm int

	// ServerTransactionLifetime is how long a server transaction is kept
	// around after its last activity, to absorb retransmits of the
	// request and resend the cached response (spec.md §4.5). Default
	// 9.5*RTO.
	ServerTransactionLifetime time.Duration

	// RequireMessageIntegrity rejects any request lacking
	// MESSAGE-INTEGRITY with a 401, even when USERNAME is absent.
	RequireMessageIntegrity bool

	// PropagateReceivedRetransmissions controls whether a retransmitted
	// request (one matching an existing server transaction) also fires
	// request listeners again. Default false: only the cached response is
	// resent.
	PropagateReceivedRetransmissions bool
}

// DefaultTransactionConfig returns the RFC 5389 §7.2.1 defaults.
func DefaultTransactionConfig() TransactionConfig {
	rto := 500 * time.Millisecond
	return TransactionConfig{
		RTO:                       rto,
		Rc:                        7,
		Rm:                        16,
		ServerTransactionLifetime: time.Duration(9.5 * float64(rto)),
	}
}
