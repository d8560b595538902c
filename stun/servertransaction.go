package stun

import (
	"net"
	"sync"
	"time"
)

// ServerTransaction caches the response to an inbound request long enough
// to resend it verbatim if the request is retransmitted (spec.md §3
// ServerTransaction, §4.5).
type ServerTransaction struct {
	id        TransactionID
	localAddr net.Addr
	remoteAddr net.Addr

	mu       sync.Mutex
	response []byte // cached encoded response, nil until SendResponse
	expiry   *time.Timer
}

// ServerTransactionTable owns the map of recent server transactions.
type ServerTransactionTable struct {
	mu   sync.Mutex
	txns map[TransactionID]*ServerTransaction
	cfg  TransactionConfig
}

func NewServerTransactionTable(cfg TransactionConfig) *ServerTransactionTable {
	return &ServerTransactionTable{
		txns: make(map[TransactionID]*ServerTransaction),
		cfg:  cfg,
	}
}

// TransactionOutcome reports how HandleRequest classified an inbound
// request, so the caller knows whether to invoke application logic.
type TransactionOutcome int

const (
	// NewTransaction: no prior transaction existed; the caller should run
	// validation and application logic, then call SendResponse.
	NewTransaction TransactionOutcome = iota

	// Retransmit: a matching transaction exists and already has a cached
	// response, which HandleRequest has resent on the caller's behalf.
	// Application logic must not be invoked again, unless
	// PropagateReceivedRetransmissions is set.
	Retransmit

	// InFlight: a matching transaction exists but has no cached response
	// yet (the original request is still being processed). The duplicate
	// is dropped.
	InFlight
)

// HandleRequest derives the transaction for req (keyed by its transaction
// ID) and reports what the caller should do next. If a cached response
// already exists, it is resent via sendThrough before returning.
func (t *ServerTransactionTable) HandleRequest(req *Message, localAddr, remoteAddr net.Addr, sendThrough SendFunc) TransactionOutcome {
	t.mu.Lock()
	st, exists := t.txns[req.TransactionID]
	if !exists {
		st = &ServerTransaction{id: req.TransactionID, localAddr: localAddr, remoteAddr: remoteAddr}
		t.txns[req.TransactionID] = st
		t.mu.Unlock()

		st.armExpiry(t, t.cfg.ServerTransactionLifetime)
		return NewTransaction
	}
	t.mu.Unlock()

	st.mu.Lock()
	cached := st.response
	st.mu.Unlock()

	if cached == nil {
		return InFlight
	}

	sendThrough(cached, remoteAddr)
	if t.cfg.PropagateReceivedRetransmissions {
		return NewTransaction
	}
	return Retransmit
}

// SendResponse caches resp and sends it. Returns ErrTransactionDoesNotExist
// if id has no (or an expired) transaction, and
// ErrTransactionAlreadyAnswered if a response was already cached -- the
// cached response is never silently overwritten (see DESIGN.md Open
// Questions).
func (t *ServerTransactionTable) SendResponse(id TransactionID, resp *Message, sendThrough SendFunc, destination net.Addr) error {
	t.mu.Lock()
	st, ok := t.txns[id]
	t.mu.Unlock()
	if !ok {
		return ErrTransactionDoesNotExist
	}

	st.mu.Lock()
	if st.response != nil {
		st.mu.Unlock()
		return ErrTransactionAlreadyAnswered
	}
	encoded := resp.Encode()
	st.response = encoded
	st.mu.Unlock()

	return sendThrough(encoded, destination)
}

func (st *ServerTransaction) armExpiry(t *ServerTransactionTable, lifetime time.Duration) {
	st.mu.Lock()
	st.expiry = time.AfterFunc(lifetime, func() {
		t.mu.Lock()
		delete(t.txns, st.id)
		t.mu.Unlock()
	})
	st.mu.Unlock()
}

// ExpireAll removes every server transaction immediately, without waiting
// out their remaining lifetime. Used during stack shutdown.
func (t *ServerTransactionTable) ExpireAll() {
	t.mu.Lock()
	for id, st := range t.txns {
		st.mu.Lock()
		if st.expiry != nil {
			st.expiry.Stop()
		}
		st.mu.Unlock()
		delete(t.txns, id)
	}
	t.mu.Unlock()
}
