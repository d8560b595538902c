// Package transport implements the socket-owning Connector, the bounded
// message queue, and the worker pool that decodes and dispatches inbound
// datagrams (spec.md §4.2-§4.3).
package transport

import (
	"net"

	"github.com/lanikai/goice/internal/logging"
)

var log = logging.DefaultLogger.WithTag("transport")

// RawMessage is an inbound payload as read off the wire, before decoding.
// It is immutable after construction (spec.md §3).
type RawMessage struct {
	Bytes      []byte
	RemoteAddr net.Addr
	LocalAddr  net.Addr
}
