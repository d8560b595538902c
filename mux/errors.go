package mux

import "errors"

// ErrSocketClosed is returned from View.Receive and Mux.ReadFrom once the
// underlying physical socket has been closed.
var ErrSocketClosed = errors.New("mux: socket closed")
