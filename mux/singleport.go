package mux

import (
	"net"
	"sync"

	"github.com/lanikai/goice/stun"
)

// UfragLookup reports whether ufrag names a Component this agent is
// currently listening for on this physical socket.
type UfragLookup func(ufrag string) bool

// VirtualSocket is a per-peer demultiplexed view over a single-port UDP
// socket. It does not own the physical socket: Send delegates to it and
// Close only forgets the peer mapping (spec.md §4.7 "Single-port UDP
// demultiplexer").
type VirtualSocket struct {
	demux      *SinglePortUDPDemuxer
	remoteAddr net.Addr
	queue      chan Packet
	closed     chan struct{}
	once       sync.Once
}

// Receive blocks until a datagram from this peer arrives, or the virtual
// socket is closed.
func (v *VirtualSocket) Receive() (Packet, error) {
	select {
	case pkt, ok := <-v.queue:
		if !ok {
			return Packet{}, ErrSocketClosed
		}
		return pkt, nil
	case <-v.closed:
		return Packet{}, ErrSocketClosed
	}
}

// Send delegates to the physical socket, addressed back to this peer.
func (v *VirtualSocket) Send(b []byte) error {
	_, err := v.demux.pc.WriteTo(b, v.remoteAddr)
	return err
}

// Close forgets this peer's mapping. The physical socket is untouched.
func (v *VirtualSocket) Close() error {
	v.once.Do(func() {
		close(v.closed)
		v.demux.forget(v.remoteAddr)
	})
	return nil
}

func (v *VirtualSocket) deliver(pkt Packet) {
	select {
	case v.queue <- pkt:
	default:
		log.Warn("mux: virtual socket queue full for %s, dropping %d bytes", v.remoteAddr, len(pkt.Bytes))
	}
}

// SinglePortUDPDemuxer lets many remote peers share one physical UDP socket,
// mapping each to a dedicated VirtualSocket on first receipt of a
// well-formed STUN Binding Request carrying a recognized local ufrag
// (spec.md §4.7).
type SinglePortUDPDemuxer struct {
	pc     net.PacketConn
	lookup UfragLookup

	mu       sync.Mutex
	byRemote map[string]*VirtualSocket

	onNewPeer func(ufrag string, vs *VirtualSocket)
}

// NewSinglePortUDPDemuxer takes ownership of pc, reading datagrams from it.
// onNewPeer is invoked synchronously (under no lock) the first time a peer
// is mapped, so the caller can hand the VirtualSocket to the matching
// Component.
func NewSinglePortUDPDemuxer(pc net.PacketConn, lookup UfragLookup, onNewPeer func(ufrag string, vs *VirtualSocket)) *SinglePortUDPDemuxer {
	d := &SinglePortUDPDemuxer{
		pc:        pc,
		lookup:    lookup,
		byRemote:  make(map[string]*VirtualSocket),
		onNewPeer: onNewPeer,
	}
	go d.readLoop()
	return d
}

func (d *SinglePortUDPDemuxer) readLoop() {
	buf := make([]byte, DefaultMTU)
	for {
		n, raddr, err := d.pc.ReadFrom(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		d.dispatch(Packet{Bytes: cp, RemoteAddr: raddr})
	}
}

func (d *SinglePortUDPDemuxer) dispatch(pkt Packet) {
	key := pkt.RemoteAddr.String()

	d.mu.Lock()
	vs, known := d.byRemote[key]
	d.mu.Unlock()

	if known {
		vs.deliver(pkt)
		return
	}

	msg, err := stun.Decode(pkt.Bytes)
	if err != nil || msg == nil || msg.Class != stun.ClassRequest || msg.Method != stun.MethodBinding {
		log.Debug("mux: dropping datagram from unmapped peer %s", pkt.RemoteAddr)
		return
	}
	ufrag, _, ok := splitUsername(msg.GetUsername())
	if !ok || !d.lookup(ufrag) {
		log.Debug("mux: dropping Binding Request from %s with unrecognized ufrag", pkt.RemoteAddr)
		return
	}

	vs = &VirtualSocket{demux: d, remoteAddr: pkt.RemoteAddr, queue: make(chan Packet, DefaultViewQueueCapacity), closed: make(chan struct{})}
	d.mu.Lock()
	d.byRemote[key] = vs
	d.mu.Unlock()

	if d.onNewPeer != nil {
		d.onNewPeer(ufrag, vs)
	}
	vs.deliver(pkt)
}

func (d *SinglePortUDPDemuxer) forget(remoteAddr net.Addr) {
	d.mu.Lock()
	delete(d.byRemote, remoteAddr.String())
	d.mu.Unlock()
}

// splitUsername splits a USERNAME attribute of the form "localUfrag:remoteUfrag"
// (RFC 5245 §7.1.2.3) and reports whether it was well-formed.
func splitUsername(username string) (local, remote string, ok bool) {
	for i := 0; i < len(username); i++ {
		if username[i] == ':' {
			return username[:i], username[i+1:], true
		}
	}
	return "", "", false
}
