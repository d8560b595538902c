// Package ice implements the connectivity-establishment core described in
// RFC 5245/8445: candidate representation, checklist construction and
// pacing, the connectivity checker, and the harvesters that produce host,
// server-reflexive, and relayed candidates.
package ice

import "errors"

// ErrBind is returned when every port in a harvester's configured range
// was exhausted while binding (spec.md §4.8).
var ErrBind = errors.New("ice: unable to bind any candidate for component")

// ErrNoValidPair is returned when connectivity checks for a stream have
// exhausted the checklist without producing a valid pair for every
// component.
var ErrNoValidPair = errors.New("ice: no valid candidate pair")

// ErrAgentClosed is returned by any Agent operation invoked after Close.
var ErrAgentClosed = errors.New("ice: agent closed")
