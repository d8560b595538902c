package transport

import "errors"

// ErrSocketClosed is terminal: every pending receive on a closed connector
// wakes with this error, and no further sends are accepted (spec.md §7).
var ErrSocketClosed = errors.New("transport: socket closed")

// ErrBind indicates every port in a configured range was exhausted while
// binding (spec.md §7 BindError).
var ErrBind = errors.New("transport: unable to bind")
