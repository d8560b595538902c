package turn

import (
	"net"
	"sync"
	"time"
)

// ChannelState is a peer permission's binding state (spec.md §3 Channel).
type ChannelState int

const (
	ChannelUnbound ChannelState = iota
	ChannelBinding
	ChannelBound
)

func (s ChannelState) String() string {
	switch s {
	case ChannelUnbound:
		return "UNBOUND"
	case ChannelBinding:
		return "BINDING"
	case ChannelBound:
		return "BOUND"
	default:
		return "UNKNOWN"
	}
}

// Channel is the per-peer permission object created by CreatePermission: it
// tracks whether this allocation is currently authorized to exchange
// traffic with peerAddr (spec.md §3, §4.9).
type Channel struct {
	mu             sync.Mutex
	peerAddr       net.Addr
	state          ChannelState
	lastRefresh    time.Time
	pendingPackets [][]byte
}

func newChannel(peerAddr net.Addr) *Channel {
	return &Channel{peerAddr: peerAddr, state: ChannelUnbound}
}

// needsRefresh reports whether this channel must be re-bound before
// further use: now - lastRefresh > PermissionLifetime - PermissionLeeway
// (spec.md §3 Channel invariant).
func (c *Channel) needsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelBound {
		return true
	}
	return time.Since(c.lastRefresh) > PermissionLifetime-PermissionLeeway
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	if s == ChannelBound {
		c.lastRefresh = time.Now()
	}
	c.mu.Unlock()
}

func (c *Channel) getState() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// enqueuePending defers a packet awaiting the outcome of a CreatePermission
// request in flight for this channel.
func (c *Channel) enqueuePending(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.pendingPackets = append(c.pendingPackets, cp)
}

// drainPending returns and clears packets deferred while binding.
func (c *Channel) drainPending() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pendingPackets
	c.pendingPackets = nil
	return pending
}
