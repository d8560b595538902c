package ice

import (
	"net"
	"sync"

	"github.com/lanikai/goice/internal/logging"
	"github.com/lanikai/goice/mux"
	"github.com/lanikai/goice/stun"
)

var log = logging.DefaultLogger.WithTag("ice")

// socketHandle is one physical local socket a Component listens on: the
// host candidate it backs, the Mux demultiplexing STUN traffic from
// application data on it, and the STUN view the Stream reads connectivity
// checks from.
type socketHandle struct {
	pc        net.PacketConn
	m         *mux.Mux
	stunView  *mux.View
	candidate Candidate
}

func (s *socketHandle) Send(b []byte, dst TransportAddress) error {
	_, err := s.m.WriteTo(b, dst.NetAddr())
	return err
}

// Component is one addressable endpoint within an ICE stream -- RTP and
// RTCP are typically components 1 and 2 of the same stream, but this core
// treats the component count as a configuration, not a hardcoded constant
// (spec.md §4.10, generalizing the single-component assumption of the
// reference implementation this package is modeled on).
type Component struct {
	ID int

	mu       sync.Mutex
	sockets  []*socketHandle
	data     chan DataPacket
	closed   chan struct{}
	closeErr error
}

// DataPacket is one non-STUN datagram received on any of a Component's
// sockets. It is handed to the application as soon as it arrives, whether
// or not a pair has been selected; its payload is opaque to this package.
type DataPacket struct {
	Bytes      []byte
	RemoteAddr net.Addr
}

func newComponent(id int) *Component {
	return &Component{
		ID:     id,
		data:   make(chan DataPacket, 64),
		closed: make(chan struct{}),
	}
}

// addSocket wraps pc in a Mux with a STUN view, constructs the host
// candidate for it, and starts the fall-through data reader. Every STUN
// message received on the socket is first offered to txns: a message that
// correlates with an outstanding client transaction (a response to our own
// check or harvest query) is consumed there, exactly as the event
// dispatcher's "matches to a transaction or invokes a listener" split
// describes; anything else (an inbound request or indication, or a response
// no transaction claims) is handed to onRequest.
func (c *Component) addSocket(pc net.PacketConn, txns *stun.ClientTransactionTable, onRequest func(msg *stun.Message, raddr net.Addr, sh *socketHandle)) *socketHandle {
	m := mux.NewUDPMux(pc, 0)
	view := m.Register(mux.IsSTUN)

	sh := &socketHandle{pc: pc, m: m, stunView: view}
	sh.candidate = NewHostCandidate(c.ID, MakeTransportAddress(pc.LocalAddr()), sh)

	c.mu.Lock()
	c.sockets = append(c.sockets, sh)
	c.mu.Unlock()

	go c.readStunLoop(sh, view, txns, onRequest)
	go c.readDataLoop(m)

	return sh
}

func (c *Component) readStunLoop(sh *socketHandle, view *mux.View, txns *stun.ClientTransactionTable, onRequest func(*stun.Message, net.Addr, *socketHandle)) {
	for {
		pkt, err := view.Receive()
		if err != nil {
			return
		}
		msg, err := stun.Decode(pkt.Bytes)
		if err != nil || msg == nil {
			continue
		}
		if (msg.Class == stun.ClassSuccessResponse || msg.Class == stun.ClassErrorResponse) && txns.HandleResponse(msg, pkt.RemoteAddr) {
			continue
		}
		onRequest(msg, pkt.RemoteAddr, sh)
	}
}

func (c *Component) readDataLoop(m *mux.Mux) {
	buf := make([]byte, mux.DefaultMTU)
	for {
		n, raddr, err := m.ReadFrom(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case c.data <- DataPacket{Bytes: cp, RemoteAddr: raddr}:
		default:
			log.Warn("ice: component %d data queue full, dropping %d bytes from %s", c.ID, n, raddr)
		}
	}
}

// Data returns the channel of application datagrams received on any of
// this component's sockets, regardless of which candidate pair is
// eventually selected.
func (c *Component) Data() <-chan DataPacket { return c.data }

// LocalCandidates returns every candidate harvested so far for this
// component.
func (c *Component) LocalCandidates() []Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	cands := make([]Candidate, 0, len(c.sockets))
	for _, sh := range c.sockets {
		cands = append(cands, sh.candidate)
	}
	return cands
}

func (c *Component) close() {
	c.mu.Lock()
	sockets := c.sockets
	c.mu.Unlock()
	for _, sh := range sockets {
		sh.m.Close()
	}
}
