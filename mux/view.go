package mux

import (
	"net"
	"sync"
)

// View is one logical consumer of a Mux: a bounded FIFO of packets that
// have passed its filter, preserving arrival order (spec.md §4.7, §8
// property 3).
type View struct {
	mux   *Mux
	queue chan Packet

	mu     sync.Mutex
	closed bool
	dead   chan struct{}
}

func newView(m *Mux, capacity int) *View {
	return &View{
		mux:   m,
		queue: make(chan Packet, capacity),
		dead:  make(chan struct{}),
	}
}

// deliver enqueues pkt for this view, dropping it if the queue is full
// rather than blocking the Mux's single read loop.
func (v *View) deliver(pkt Packet) {
	select {
	case v.queue <- pkt:
	default:
		log.Warn("mux: view queue full, dropping %d bytes from %s", len(pkt.Bytes), pkt.RemoteAddr)
	}
}

// Receive blocks until a packet accepted by this view's filter arrives, or
// the view is closed.
func (v *View) Receive() (Packet, error) {
	select {
	case pkt, ok := <-v.queue:
		if !ok {
			return Packet{}, ErrSocketClosed
		}
		return pkt, nil
	case <-v.dead:
		return Packet{}, ErrSocketClosed
	}
}

// Send writes b over the Mux's physical socket to destination.
func (v *View) Send(b []byte, destination net.Addr) error {
	_, err := v.mux.WriteTo(b, destination)
	return err
}

// Close unregisters the view from its Mux. The physical socket is left
// open (spec.md §4.7 invariant (iv)).
func (v *View) Close() error {
	v.closeLocal()
	v.mux.removeView(v)
	return nil
}

func (v *View) closeLocal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	close(v.dead)
}
