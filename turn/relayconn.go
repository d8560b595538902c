package turn

import (
	"net"
	"sync"
	"time"
)

// outboundPacket is one payload queued for delivery to a peer through the
// relay.
type outboundPacket struct {
	peer    net.Addr
	payload []byte
}

// inboundPacket is one (peerAddr, data) pair unwrapped from a Data
// Indication, waiting for the next Receive.
type inboundPacket struct {
	peer    net.Addr
	payload []byte
}

// RelayedConn is the net.PacketConn view of a TURN allocation's relay.
// WriteTo enqueues onto an outbound queue and wakes a dedicated sender
// task; ReadFrom blocks on the inbound queue (spec.md §4.9).
type RelayedConn struct {
	alloc *Allocation

	outbound chan outboundPacket
	inbound  chan inboundPacket

	mu     sync.Mutex
	err    error
	closed chan struct{}
}

func newRelayedConn(a *Allocation) *RelayedConn {
	c := &RelayedConn{
		alloc:    a,
		outbound: make(chan outboundPacket, 128),
		inbound:  make(chan inboundPacket, 128),
		closed:   make(chan struct{}),
	}
	go c.senderLoop()
	return c
}

// senderLoop implements spec.md §4.9's per-packet dispatch: find or create
// the Channel for the destination, send directly if BOUND and not due for
// refresh, otherwise kick off CreatePermission and defer the packet.
func (c *RelayedConn) senderLoop() {
	for {
		select {
		case pkt := <-c.outbound:
			c.dispatch(pkt)
		case <-c.closed:
			return
		}
	}
}

func (c *RelayedConn) dispatch(pkt outboundPacket) {
	ch := c.alloc.channelFor(pkt.peer)

	if ch.getState() == ChannelBound && !ch.needsRefresh() {
		if err := c.alloc.sendIndication(pkt.peer, pkt.payload); err != nil {
			log.Warn("turn: send-indication to %s failed: %v", pkt.peer, err)
		}
		return
	}

	if ch.getState() == ChannelBinding {
		ch.enqueuePending(pkt.payload)
		return
	}

	ch.enqueuePending(pkt.payload)
	go c.alloc.createPermission(ch, pkt.peer)
}

// WriteTo queues payload for delivery to peer via the relay.
func (c *RelayedConn) WriteTo(b []byte, peer net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, ErrRelayClosed
	default:
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case c.outbound <- outboundPacket{peer: peer, payload: cp}:
		return len(b), nil
	case <-c.closed:
		return 0, ErrRelayClosed
	}
}

// ReadFrom blocks until a Data Indication arrives from the TURN server, or
// the connection is closed/fails.
func (c *RelayedConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case pkt := <-c.inbound:
		n := copy(b, pkt.payload)
		return n, pkt.peer, nil
	case <-c.closed:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return 0, nil, err
		}
		return 0, nil, ErrRelayClosed
	}
}

func (c *RelayedConn) deliver(peer net.Addr, data []byte) {
	select {
	case c.inbound <- inboundPacket{peer: peer, payload: data}:
	default:
		log.Warn("turn: relayed inbound queue full, dropping %d bytes from %s", len(data), peer)
	}
}

// fail collapses the relay: every blocked Receive wakes with err, and
// further Send/Receive fail immediately (spec.md §4.9 "failure collapses
// the RelayedCandidate").
func (c *RelayedConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// Close releases the allocation.
func (c *RelayedConn) Close() error {
	c.fail(ErrRelayClosed)
	return c.alloc.Close()
}

// LocalAddr returns the relayed transport address granted by the server.
func (c *RelayedConn) LocalAddr() net.Addr { return c.alloc.RelayedAddr() }

func (c *RelayedConn) SetDeadline(t time.Time) error      { return nil }
func (c *RelayedConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *RelayedConn) SetWriteDeadline(t time.Time) error { return nil }
