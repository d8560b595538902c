package turn

import (
	"net"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/lanikai/goice/internal/logging"
	"github.com/lanikai/goice/stun"
)

var log = logging.DefaultLogger.WithTag("turn")

// outcome is what a round-tripped request produced: either a response or a
// terminal transaction error.
type outcome struct {
	resp *stun.Message
	err  error
}

// syncCollector adapts the transaction layer's asynchronous
// stun.ResponseCollector callback into a single blocking receive, since
// Allocation's control flow (Allocate, Refresh, CreatePermission) is
// naturally request/response (spec.md §4.9).
type syncCollector struct {
	ch chan outcome
}

func newSyncCollector() *syncCollector { return &syncCollector{ch: make(chan outcome, 1)} }

func (c *syncCollector) ProcessResponse(resp *stun.Message, raddr net.Addr) {
	c.ch <- outcome{resp: resp}
}
func (c *syncCollector) ProcessTimeout()         { c.ch <- outcome{err: stun.ErrTransactionTimeout} }
func (c *syncCollector) ProcessUnreachable(err error) { c.ch <- outcome{err: err} }
func (c *syncCollector) ProcessCancelled()       { c.ch <- outcome{err: stun.ErrTransactionCancelled} }

// Allocation is a client-side TURN allocation: it owns the long-term
// credential session with the server, the table of per-peer Channels, and
// the RelayedConn built on top of it (spec.md §4.9).
type Allocation struct {
	// ID tags every log line this allocation emits, since a harvester may
	// hold several concurrent allocations (one per component, or more
	// across an ICE restart).
	ID xid.ID

	cfg        AllocationConfig
	serverAddr net.Addr
	send       stun.SendFunc
	txns       *stun.ClientTransactionTable
	session    *stun.LongTermSession

	mu            sync.Mutex
	channels      map[string]*Channel
	relayedAddr   net.Addr
	reflexiveAddr net.Addr
	expiresAt     time.Time
	refreshStop   chan struct{}

	conn *RelayedConn
}

// NewAllocation constructs an Allocation for the TURN server at serverAddr
// that will send through send and correlate responses via txns. Allocate must be
// called before the allocation is usable.
func NewAllocation(cfg AllocationConfig, serverAddr net.Addr, send stun.SendFunc, txns *stun.ClientTransactionTable) *Allocation {
	return &Allocation{
		ID:         xid.New(),
		cfg:        cfg,
		serverAddr: serverAddr,
		send:       send,
		txns:       txns,
		session:    &stun.LongTermSession{Username: cfg.Username, Password: cfg.Password},
		channels:   make(map[string]*Channel),
	}
}

// roundTrip sends req and blocks for its outcome, retrying exactly once
// with long-term credentials if the server challenges with 401 or 438
// (spec.md §4.8 TURN harvester: "On 401, retries with long-term
// credentials").
func (a *Allocation) roundTrip(req *stun.Message) (*stun.Message, error) {
	resp, err := a.send1(req)
	if err != nil {
		return nil, err
	}
	if resp.Class != stun.ClassErrorResponse {
		return resp, nil
	}
	ec, ok := resp.GetErrorCode()
	if !ok || (ec.Code != 401 && ec.Code != 438) {
		return resp, nil
	}

	a.session.Challenge(resp.GetRealm(), resp.GetNonce())
	retry := stun.NewMessage(req.Class, req.Method)
	for _, attr := range req.Attributes {
		switch attr.Type {
		case stun.AttrUsername, stun.AttrRealm, stun.AttrNonce, stun.AttrMessageIntegrity:
			continue
		default:
			retry.AddAttribute(attr.Type, attr.Value)
		}
	}
	a.session.SignRequest(retry)
	return a.send1(retry)
}

func (a *Allocation) send1(req *stun.Message) (*stun.Message, error) {
	c := newSyncCollector()
	a.txns.SendRequest(req, a.serverAddr, a.send, c)
	o := <-c.ch
	return o.resp, o.err
}

// Allocate sends the initial Allocate(UDP) request, challenges with
// long-term credentials, and on success records the relayed and
// server-reflexive addresses and starts the refresh loop.
func (a *Allocation) Allocate() error {
	req := stun.NewMessage(stun.ClassRequest, stun.MethodAllocate)
	req.SetRequestedTransport(stun.RequestedTransportUDP)
	lifetime := a.cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	req.SetLifetime(uint32(lifetime / time.Second))

	resp, err := a.roundTrip(req)
	if err != nil {
		return err
	}
	if resp.Class == stun.ClassErrorResponse {
		ec, _ := resp.GetErrorCode()
		log.Warn("turn[%s]: allocate failed: %d %s", a.ID, ec.Code, ec.Reason)
		return ErrAllocationFailed
	}

	relayedIP, relayedPort, err := resp.GetXorRelayedAddress()
	if err != nil {
		return ErrAllocationFailed
	}
	a.mu.Lock()
	a.relayedAddr = &net.UDPAddr{IP: relayedIP, Port: relayedPort}
	if ip, port, err := resp.GetMappedAddress(); err == nil {
		a.reflexiveAddr = &net.UDPAddr{IP: ip, Port: port}
	}
	secs, _ := resp.GetLifetime()
	if secs == 0 {
		secs = uint32(lifetime / time.Second)
	}
	a.expiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	a.refreshStop = make(chan struct{})
	a.mu.Unlock()

	a.conn = newRelayedConn(a)
	go a.refreshLoop()
	return nil
}

// RelayedAddr returns the XOR-RELAYED-ADDRESS granted by the server.
func (a *Allocation) RelayedAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relayedAddr
}

// ReflexiveAddr returns the server-reflexive address observed by the
// server while processing the Allocate request.
func (a *Allocation) ReflexiveAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reflexiveAddr
}

// Conn returns the net.PacketConn view of this allocation's relay.
func (a *Allocation) Conn() *RelayedConn { return a.conn }

func (a *Allocation) refreshLoop() {
	for {
		a.mu.Lock()
		wait := time.Until(a.expiresAt) - RefreshLeeway
		stop := a.refreshStop
		a.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		select {
		case <-time.After(wait):
		case <-stop:
			return
		}

		if err := a.refresh(); err != nil {
			log.Error("turn[%s]: allocation refresh failed, collapsing relayed candidate: %v", a.ID, err)
			a.conn.fail(ErrAllocationExpired)
			return
		}
	}
}

func (a *Allocation) refresh() error {
	lifetime := a.cfg.Lifetime
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	req := stun.NewMessage(stun.ClassRequest, stun.MethodRefresh)
	req.SetLifetime(uint32(lifetime / time.Second))
	a.session.SignRequest(req)

	resp, err := a.roundTrip(req)
	if err != nil {
		return err
	}
	if resp.Class == stun.ClassErrorResponse {
		return ErrAllocationExpired
	}
	secs, ok := resp.GetLifetime()
	if !ok {
		secs = uint32(lifetime / time.Second)
	}
	a.mu.Lock()
	a.expiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	a.mu.Unlock()
	return nil
}

// Close tears down the allocation by requesting a zero-lifetime Refresh and
// stopping the refresh loop.
func (a *Allocation) Close() error {
	a.mu.Lock()
	stop := a.refreshStop
	a.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	req := stun.NewMessage(stun.ClassRequest, stun.MethodRefresh)
	req.SetLifetime(0)
	a.session.SignRequest(req)
	a.send1(req)
	return nil
}

func (a *Allocation) channelFor(peer net.Addr) *Channel {
	key := peer.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	ch, ok := a.channels[key]
	if !ok {
		ch = newChannel(peer)
		a.channels[key] = ch
	}
	return ch
}

// createPermission sends a CreatePermission request for peer and, on
// success, marks the Channel BOUND and flushes any packets queued while
// binding was in flight (spec.md §4.9 step 3).
func (a *Allocation) createPermission(ch *Channel, peer net.Addr) {
	ch.setState(ChannelBinding)

	req := stun.NewMessage(stun.ClassRequest, stun.MethodCreatePermission)
	req.SetXorPeerAddress(peer)
	a.session.SignRequest(req)

	resp, err := a.roundTrip(req)
	if err != nil || resp.Class == stun.ClassErrorResponse {
		log.Warn("turn: CreatePermission for %s failed: %v", peer, err)
		ch.setState(ChannelUnbound)
		if err == nil {
			// The server rejected the permission: drop what was queued.
			ch.drainPending()
		}
		return
	}

	ch.setState(ChannelBound)
	for _, pkt := range ch.drainPending() {
		a.sendIndication(peer, pkt)
	}
}

// sendIndication wraps payload in a Send-Indication addressed to peer.
func (a *Allocation) sendIndication(peer net.Addr, payload []byte) error {
	ind := stun.NewMessage(stun.ClassIndication, stun.MethodSend)
	ind.SetXorPeerAddress(peer)
	ind.SetData(payload)
	return a.send(ind.Encode(), a.serverAddr)
}

// HandleDataIndication unwraps an inbound Data Indication from the TURN
// server and delivers (peerAddr, data) to the relayed socket's inbound
// queue (spec.md §4.9).
func (a *Allocation) HandleDataIndication(msg *stun.Message) {
	ip, port, err := msg.GetXorPeerAddress()
	if err != nil {
		return
	}
	data, ok := msg.GetData()
	if !ok {
		return
	}
	a.conn.deliver(&net.UDPAddr{IP: ip, Port: port}, data)
}
