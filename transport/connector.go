package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/lanikai/goice/internal/metrics"
	"github.com/lanikai/goice/internal/rfc4571"
)

// DefaultMTU bounds a single read from the wire (spec.md §4.2).
const DefaultMTU = 1472

// ErrorHandler is invoked once, from the Connector's own receive goroutine,
// the first time a read fails for a reason other than the socket being
// closed locally. The NetAccessManager uses this to unregister the
// connector and cancel transactions addressed through it (spec.md §4.2).
type ErrorHandler func(c *Connector, err error)

// Connector owns exactly one bound local address -- a UDP net.PacketConn or
// a single accepted TCP net.Conn framed per RFC 4571 -- and is responsible
// for reading datagrams off it, wrapping them as RawMessages, and enqueuing
// them into a shared Queue (spec.md §4.2).
type Connector struct {
	packetConn net.PacketConn // set for UDP connectors
	streamConn net.Conn       // set for TCP connectors
	framedR    *rfc4571.Reader

	queue   *Queue
	onError ErrorHandler

	closed int32
	mu     sync.Mutex
}

// NewUDPConnector wraps an already-bound net.PacketConn. The caller retains
// ownership of binding the socket; the Connector takes ownership of closing
// it.
func NewUDPConnector(pc net.PacketConn, queue *Queue, onError ErrorHandler) *Connector {
	c := &Connector{packetConn: pc, queue: queue, onError: onError}
	go c.readUDPLoop()
	return c
}

// NewTCPConnector wraps an already-accepted net.Conn, framing reads and
// writes per RFC 4571.
func NewTCPConnector(conn net.Conn, queue *Queue, onError ErrorHandler) *Connector {
	c := &Connector{
		streamConn: conn,
		framedR:    rfc4571.NewReader(conn),
		queue:      queue,
		onError:    onError,
	}
	go c.readTCPLoop()
	return c
}

// LocalAddr reports the address this connector is bound to.
func (c *Connector) LocalAddr() net.Addr {
	if c.packetConn != nil {
		return c.packetConn.LocalAddr()
	}
	return c.streamConn.LocalAddr()
}

// Send writes b to destination. For a TCP connector destination is ignored
// (the underlying net.Conn is already addressed) and the frame is prefixed
// per RFC 4571.
func (c *Connector) Send(b []byte, destination net.Addr) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrSocketClosed
	}
	if c.packetConn != nil {
		_, err := c.packetConn.WriteTo(b, destination)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return rfc4571.WriteFrame(c.streamConn, b)
}

// Stop closes the underlying socket. Pending reads wake with an error,
// which is swallowed rather than reported to onError since the closure was
// locally requested.
func (c *Connector) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.packetConn != nil {
		return c.packetConn.Close()
	}
	return c.streamConn.Close()
}

func (c *Connector) isStopped() bool {
	return atomic.LoadInt32(&c.closed) != 0
}

func (c *Connector) readUDPLoop() {
	buf := make([]byte, DefaultMTU)
	for {
		n, raddr, err := c.packetConn.ReadFrom(buf)
		if err != nil {
			if !c.isStopped() && c.onError != nil {
				c.onError(c, err)
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		if !c.queue.Enqueue(RawMessage{Bytes: cp, RemoteAddr: raddr, LocalAddr: c.LocalAddr()}) {
			log.Warn("transport: queue full, dropping %d bytes from %s", n, raddr)
		}
		metrics.QueueDepth.Set(float64(c.queue.Len()))
	}
}

func (c *Connector) readTCPLoop() {
	raddr := c.streamConn.RemoteAddr()
	for {
		frame, err := c.framedR.ReadFrame()
		if err != nil {
			if !c.isStopped() && c.onError != nil {
				c.onError(c, err)
			}
			return
		}
		if !c.queue.Enqueue(RawMessage{Bytes: frame, RemoteAddr: raddr, LocalAddr: c.LocalAddr()}) {
			log.Warn("transport: queue full, dropping %d bytes from %s", len(frame), raddr)
		}
		metrics.QueueDepth.Set(float64(c.queue.Len()))
	}
}
