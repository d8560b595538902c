package stun

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// ResponseCollector receives the outcome of a client transaction. The
// transaction layer guarantees exactly one of these methods is called per
// transaction (spec.md §8, invariant 1).
type ResponseCollector interface {
	ProcessResponse(resp *Message, raddr net.Addr)
	ProcessTimeout()
	ProcessUnreachable(err error)
	ProcessCancelled()
}

// SendFunc transmits an encoded message to destination. It is supplied by
// whatever owns the socket (a transport.Connector, in the common case),
// keeping this package free of a dependency on the connector/mux layers.
type SendFunc func(b []byte, destination net.Addr) error

type clientTransactionState int

const (
	statePending clientTransactionState = iota
	stateTerminated
)

// ClientTransaction tracks one outstanding request and its retransmissions
// (spec.md §3 ClientTransaction).
type ClientTransaction struct {
	id          TransactionID
	request     *Message
	destination net.Addr
	sendThrough SendFunc
	collector   ResponseCollector

	cfg TransactionConfig

	mu      sync.Mutex
	state   clientTransactionState
	timer   *time.Timer
	attempt int
}

// ClientTransactionTable owns the map of in-flight client transactions,
// guarded by a single lock (spec.md §4.5, §5 locking discipline).
type ClientTransactionTable struct {
	mu    sync.Mutex
	txns  map[TransactionID]*ClientTransaction
	cfg   TransactionConfig
}

func NewClientTransactionTable(cfg TransactionConfig) *ClientTransactionTable {
	return &ClientTransactionTable{
		txns: make(map[TransactionID]*ClientTransaction),
		cfg:  cfg,
	}
}

// SendRequest starts a new client transaction: it stores the transaction,
// sends the first copy of the request, and arms the retransmission timer.
// The transaction ID is taken from request.TransactionID (the caller is
// expected to have set one via NewMessage).
func (t *ClientTransactionTable) SendRequest(request *Message, destination net.Addr, sendThrough SendFunc, collector ResponseCollector) TransactionID {
	ct := &ClientTransaction{
		id:          request.TransactionID,
		request:     request,
		destination: destination,
		sendThrough: sendThrough,
		collector:   collector,
		cfg:         t.cfg,
	}

	t.mu.Lock()
	t.txns[ct.id] = ct
	t.mu.Unlock()

	ct.transmit()
	return ct.id
}

// transmit sends (or resends) the request and schedules the next
// retransmission per RFC 5389 §7.2.1: RTO, 2*RTO, 4*RTO, ..., capped at
// RTO*2^(Rc-1), with a final wait until Rm*RTO total before timing out.
func (ct *ClientTransaction) transmit() {
	ct.mu.Lock()
	if ct.state == stateTerminated {
		ct.mu.Unlock()
		return
	}
	attempt := ct.attempt
	ct.attempt++
	ct.mu.Unlock()

	if err := ct.sendThrough(ct.request.Encode(), ct.destination); err != nil {
		ct.terminate()
		ct.collector.ProcessUnreachable(fmt.Errorf("%w: %w", ErrTransactionUnreachable, err))
		return
	}

	if attempt+1 >= ct.cfg.Rc {
		// Final retransmission sent. Wait out the rest of the Rm*RTO
		// budget, then time out if nothing arrived.
		total := time.Duration(0)
		backoff := ct.cfg.RTO
		for i := 0; i < attempt; i++ {
			total += backoff
			if backoff < ct.cfg.RTO<<uint(ct.cfg.Rc-1) {
				backoff *= 2
			}
		}
		remaining := time.Duration(ct.cfg.Rm)*ct.cfg.RTO - total
		if remaining < 0 {
			remaining = 0
		}
		ct.mu.Lock()
		ct.timer = time.AfterFunc(remaining, ct.onFinalTimeout)
		ct.mu.Unlock()
		return
	}

	backoff := ct.cfg.RTO
	for i := 0; i < attempt; i++ {
		if backoff < ct.cfg.RTO<<uint(ct.cfg.Rc-1) {
			backoff *= 2
		}
	}
	ct.mu.Lock()
	ct.timer = time.AfterFunc(backoff, ct.transmit)
	ct.mu.Unlock()
}

func (ct *ClientTransaction) onFinalTimeout() {
	if ct.terminate() {
		ct.collector.ProcessTimeout()
	}
}

// terminate stops the retransmit timer and marks the transaction
// terminated. Returns true if this call performed the transition (so the
// caller is the one that should notify the collector).
func (ct *ClientTransaction) terminate() bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.state == stateTerminated {
		return false
	}
	ct.state = stateTerminated
	if ct.timer != nil {
		ct.timer.Stop()
	}
	return true
}

// HandleResponse matches an incoming message against a pending transaction.
// Returns false if no such transaction exists (a late or spurious
// response).
func (t *ClientTransactionTable) HandleResponse(resp *Message, raddr net.Addr) bool {
	t.mu.Lock()
	ct, ok := t.txns[resp.TransactionID]
	if ok {
		delete(t.txns, resp.TransactionID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if ct.terminate() {
		ct.collector.ProcessResponse(resp, raddr)
	}
	return true
}

// Cancel stops retransmission of a pending transaction, but keeps the
// transaction table entry for one more RTO so a late response can still be
// matched (and silently dropped) rather than misinterpreted as a reply to a
// new transaction reusing the same ID (spec.md §4.5).
func (t *ClientTransactionTable) Cancel(id TransactionID) {
	t.mu.Lock()
	ct, ok := t.txns[id]
	t.mu.Unlock()
	if !ok {
		return
	}

	wasPending := ct.terminate()
	if wasPending {
		ct.collector.ProcessCancelled()
	}

	time.AfterFunc(ct.cfg.RTO, func() {
		t.mu.Lock()
		delete(t.txns, id)
		t.mu.Unlock()
	})
}

// CancelAll terminates every pending transaction, emitting
// ProcessCancelled to each collector. Used during stack shutdown (spec.md
// §5).
func (t *ClientTransactionTable) CancelAll() {
	t.mu.Lock()
	all := make([]*ClientTransaction, 0, len(t.txns))
	for _, ct := range t.txns {
		all = append(all, ct)
	}
	t.txns = make(map[TransactionID]*ClientTransaction)
	t.mu.Unlock()

	for _, ct := range all {
		if ct.terminate() {
			ct.collector.ProcessCancelled()
		}
	}
}
