// Package mux implements the packet-filter-based fan-out multiplexer that
// lets several logical consumers (STUN stack, connectivity checker,
// application media reader, TURN relay reader) share one physical socket
// (spec.md §4.7).
package mux

import (
	"net"
	"sync"

	"github.com/lanikai/goice/internal/logging"
	"github.com/lanikai/goice/internal/rfc4571"
)

var log = logging.DefaultLogger.WithTag("mux")

// DefaultMTU bounds a single physical read.
const DefaultMTU = 1472

// DefaultViewQueueCapacity is the default bound on each View's pending
// queue (spec.md §4.7: "default 64").
const DefaultViewQueueCapacity = 64

// MatchFunc reports whether a packet belongs to the View it is registered
// for. Filters are evaluated in registration order and are not mutually
// exclusive: a packet matched by more than one filter is delivered to
// every matching View (spec.md §4.7 invariant (i)).
type MatchFunc func(packet []byte) bool

// Packet is one datagram delivered to a View or read from the fall-through
// path, tagged with the remote address it arrived from.
type Packet struct {
	Bytes      []byte
	RemoteAddr net.Addr
}

type registration struct {
	filter MatchFunc
	view   *View
}

// Mux owns exactly one physical socket -- a UDP net.PacketConn or an
// already-accepted, RFC-4571-framed TCP net.Conn -- and fans each inbound
// packet out to every registered View whose filter accepts it. A packet
// accepted by no View is appended to the fall-through queue, read via the
// Mux's own ReadFrom (spec.md §4.7 invariants (ii)-(iii)).
type Mux struct {
	pc      net.PacketConn
	conn    net.Conn
	framedR *rfc4571.Reader

	bufSize int

	mu    sync.Mutex
	views []*registration

	fallThrough chan Packet
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewUDPMux takes ownership of pc, reading datagrams from it and fanning
// them out to registered views.
func NewUDPMux(pc net.PacketConn, bufSize int) *Mux {
	if bufSize <= 0 {
		bufSize = DefaultMTU
	}
	m := &Mux{
		pc:          pc,
		bufSize:     bufSize,
		fallThrough: make(chan Packet, DefaultViewQueueCapacity),
		closed:      make(chan struct{}),
	}
	go m.readUDPLoop()
	return m
}

// NewTCPMux takes ownership of conn, reading RFC 4571 framed PDUs from it
// and fanning them out to registered views. RemoteAddr on every delivered
// Packet is conn.RemoteAddr(), since a TCP connection has exactly one peer.
func NewTCPMux(conn net.Conn, bufSize int) *Mux {
	if bufSize <= 0 {
		bufSize = rfc4571.MaxFrameLength
	}
	m := &Mux{
		conn:        conn,
		framedR:     rfc4571.NewReader(conn),
		bufSize:     bufSize,
		fallThrough: make(chan Packet, DefaultViewQueueCapacity),
		closed:      make(chan struct{}),
	}
	go m.readTCPLoop()
	return m
}

// Register installs a new View with the given filter, evaluated after all
// previously registered filters (spec.md §4.7: "iterate views" in
// registration order).
func (m *Mux) Register(filter MatchFunc) *View {
	v := newView(m, DefaultViewQueueCapacity)
	m.mu.Lock()
	m.views = append(m.views, &registration{filter: filter, view: v})
	m.mu.Unlock()
	return v
}

// removeView unregisters v. Closing a View removes its registration but
// never closes the physical socket (spec.md §4.7 invariant (iv)).
func (m *Mux) removeView(v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.views {
		if r.view == v {
			m.views = append(m.views[:i], m.views[i+1:]...)
			return
		}
	}
}

// WriteTo sends b to destination over the physical socket. For a TCP mux,
// destination is ignored and the frame is written per RFC 4571.
func (m *Mux) WriteTo(b []byte, destination net.Addr) (int, error) {
	if m.pc != nil {
		return m.pc.WriteTo(b, destination)
	}
	if err := rfc4571.WriteFrame(m.conn, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ReadFrom reads the next packet accepted by no registered View -- "the
// fall-through consumer reads via the physical socket's normal receive"
// (spec.md §4.7 invariant (iii)).
func (m *Mux) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case pkt, ok := <-m.fallThrough:
		if !ok {
			return 0, nil, ErrSocketClosed
		}
		n := copy(p, pkt.Bytes)
		return n, pkt.RemoteAddr, nil
	case <-m.closed:
		return 0, nil, ErrSocketClosed
	}
}

// Close closes every registered View and the underlying physical socket.
func (m *Mux) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		views := m.views
		m.views = nil
		m.mu.Unlock()

		for _, r := range views {
			r.view.closeLocal()
		}
		close(m.closed)

		if m.pc != nil {
			err = m.pc.Close()
		} else {
			err = m.conn.Close()
		}
	})
	return err
}

func (m *Mux) readUDPLoop() {
	defer m.Close()
	buf := make([]byte, m.bufSize)
	for {
		n, raddr, err := m.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		m.dispatch(Packet{Bytes: cp, RemoteAddr: raddr})
	}
}

func (m *Mux) readTCPLoop() {
	defer m.Close()
	raddr := m.conn.RemoteAddr()
	for {
		frame, err := m.framedR.ReadFrame()
		if err != nil {
			return
		}
		m.dispatch(Packet{Bytes: frame, RemoteAddr: raddr})
	}
}

// dispatch implements spec.md §4.7 steps 1-2: offer the packet to every
// view in registration order, cloning it into each one that accepts; if
// none accept, append to the fall-through queue.
func (m *Mux) dispatch(pkt Packet) {
	m.mu.Lock()
	regs := m.views
	m.mu.Unlock()

	matched := false
	for _, r := range regs {
		if r.filter(pkt.Bytes) {
			matched = true
			r.view.deliver(clonePacket(pkt))
		}
	}

	if !matched {
		select {
		case m.fallThrough <- pkt:
		default:
			log.Warn("mux: fall-through queue full, dropping %d bytes from %s", len(pkt.Bytes), pkt.RemoteAddr)
		}
	}
}

func clonePacket(pkt Packet) Packet {
	cp := make([]byte, len(pkt.Bytes))
	copy(cp, pkt.Bytes)
	return Packet{Bytes: cp, RemoteAddr: pkt.RemoteAddr}
}
