package mux

import (
	"bufio"
	"net"
	"time"

	"github.com/lanikai/goice/internal/rfc4571"
	"github.com/lanikai/goice/stun"
)

// acceptReadTimeout bounds how long a freshly accepted TCP connection has
// to present a framed STUN Binding Request before it is dropped (spec.md
// §4.7 "Single-port TCP accept demultiplexer").
const acceptReadTimeout = 10 * time.Second

// pseudoSSLPrefix is the fixed byte sequence an "ssl-tcp" candidate's peer
// sends before the first STUN frame, mirroring the pseudo-TLS handshake
// some ICE-TCP implementations use to traverse proxies that sniff for TLS.
var pseudoSSLPrefix = []byte{0x16, 0xfe, 0xff}

// TCPAcceptDemuxer accepts TCP connections on a listener, reads the first
// RFC 4571 framed STUN Binding Request to recover the local ufrag, and
// hands the accepted, already-peeked connection to the matching Component
// via onAccepted. A connection that does not present a recognized Binding
// Request within acceptReadTimeout is closed.
type TCPAcceptDemuxer struct {
	ln         net.Listener
	lookup     UfragLookup
	onAccepted func(ufrag string, conn net.Conn, firstFrame []byte)
	sslTCP     bool
}

// NewTCPAcceptDemuxer starts an accept loop on ln. If sslTCP is true, each
// connection is expected to send pseudoSSLPrefix before its first STUN
// frame.
func NewTCPAcceptDemuxer(ln net.Listener, sslTCP bool, lookup UfragLookup, onAccepted func(ufrag string, conn net.Conn, firstFrame []byte)) *TCPAcceptDemuxer {
	d := &TCPAcceptDemuxer{ln: ln, lookup: lookup, onAccepted: onAccepted, sslTCP: sslTCP}
	go d.acceptLoop()
	return d
}

func (d *TCPAcceptDemuxer) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

func (d *TCPAcceptDemuxer) handle(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(acceptReadTimeout))

	r := bufio.NewReader(conn)
	if d.sslTCP {
		prefix := make([]byte, len(pseudoSSLPrefix))
		if _, err := readFull(r, prefix); err != nil {
			log.Debug("mux: tcp accept: waiting for ssl-tcp prefix: %v", err)
			conn.Close()
			return
		}
	}

	frame, err := rfc4571.NewReader(r).ReadFrame()
	if err != nil {
		log.Debug("mux: tcp accept: reading first frame: %v", err)
		conn.Close()
		return
	}

	msg, err := stun.Decode(frame)
	if err != nil || msg == nil || msg.Class != stun.ClassRequest || msg.Method != stun.MethodBinding {
		log.Debug("mux: tcp accept: first frame is not a Binding Request from %s", conn.RemoteAddr())
		conn.Close()
		return
	}
	ufrag, _, ok := splitUsername(msg.GetUsername())
	if !ok || !d.lookup(ufrag) {
		log.Debug("mux: tcp accept: unrecognized ufrag from %s", conn.RemoteAddr())
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	d.onAccepted(ufrag, conn, frame)
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops accepting new connections.
func (d *TCPAcceptDemuxer) Close() error {
	return d.ln.Close()
}
