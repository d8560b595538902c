package ice

import "fmt"

// PairState is a CandidatePair's state in the RFC 8445 §6.1.2.6 state
// machine: Frozen -> Waiting -> InProgress -> {Succeeded, Failed}.
type PairState int

const (
	Frozen PairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

func (s PairState) String() string {
	switch s {
	case Frozen:
		return "FROZEN"
	case Waiting:
		return "WAITING"
	case InProgress:
		return "IN_PROGRESS"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CandidatePair is one local x remote candidate pairing tracked by a
// CheckList (RFC 8445 §6.1.2).
type CandidatePair struct {
	ID         int
	Local      Candidate
	Remote     Candidate
	Foundation string
	Component  int

	State      PairState
	Nominated  bool
	TxID       [12]byte
	hasTx      bool
}

func newCandidatePair(id int, local, remote Candidate) *CandidatePair {
	if local.Component != remote.Component {
		panic(fmt.Sprintf("ice: candidate pair component mismatch: %d != %d", local.Component, remote.Component))
	}
	return &CandidatePair{
		ID:         id,
		Local:      local,
		Remote:     remote,
		Foundation: local.Foundation + "/" + remote.Foundation,
		Component:  local.Component,
	}
}

// Priority implements RFC 8445 §6.1.2.3's pair priority formula. G is the
// controlling agent's priority and D the controlled agent's; since a pair
// is symmetric from either side's perspective, isControlling selects which
// of Local/Remote plays G.
func (p *CandidatePair) Priority(isControlling bool) uint64 {
	var g, d uint64
	if isControlling {
		g, d = uint64(p.Local.Priority), uint64(p.Remote.Priority)
	} else {
		g, d = uint64(p.Remote.Priority), uint64(p.Local.Priority)
	}
	lo, hi := g, d
	if lo > hi {
		lo, hi = hi, lo
	}
	var extra uint64
	if g > d {
		extra = 1
	}
	return lo<<32 | hi<<1 | extra
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("pair#%d %s -> %s [%s]", p.ID, p.Local.Address, p.Remote.Address, p.State)
}

// isRedundant implements RFC 8445 §6.1.2.4: same remote candidate and same
// local base.
func isRedundant(a, b *CandidatePair) bool {
	return a.Remote.Address == b.Remote.Address && a.Local.Base == b.Local.Base
}
