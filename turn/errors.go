// Package turn implements the TURN (RFC 5766) client-side allocation
// lifecycle: Allocate, Refresh, CreatePermission, and the Send-/Data-
// Indication relay that backs a RelayedCandidate's DatagramSocket (spec.md
// §4.9).
package turn

import "errors"

var (
	// ErrAllocationFailed is returned when an Allocate request cannot be
	// completed after long-term credential negotiation.
	ErrAllocationFailed = errors.New("turn: allocation failed")

	// ErrAllocationExpired means the allocation's Refresh failed or was
	// never sent in time; the RelayedCandidate built on it collapses.
	ErrAllocationExpired = errors.New("turn: allocation expired")

	// ErrRelayClosed is returned from Send/Receive once the relayed socket
	// has been closed.
	ErrRelayClosed = errors.New("turn: relay closed")

	// ErrPermissionDenied stands for a CreatePermission request that the
	// server rejected with an error response; the packets queued for that
	// peer are then dropped. RelayedConn.WriteTo only queues packets, so it
	// never returns this error.
	ErrPermissionDenied = errors.New("turn: permission denied")
)
