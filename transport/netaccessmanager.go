package transport

import (
	"net"
	"sync"
)

// TransactionCanceller is the slice of stun.ClientTransactionTable the
// NetAccessManager needs in order to cancel transactions addressed through
// a connector that has failed. Declared here, rather than importing stun
// directly, to avoid a transport<->stun import cycle (stun.SendFunc already
// closes over a *Connector via a plain function value).
type TransactionCanceller interface {
	CancelAll()
}

// NetAccessManager owns every live Connector for an agent, and is the
// single place a fatal socket error is handled: the failing connector is
// unregistered and any transactions still addressed through it are
// cancelled (spec.md §4.2, §7).
type NetAccessManager struct {
	mu         sync.Mutex
	connectors map[net.Addr]*Connector
	queue      *Queue
	cancellers []TransactionCanceller
}

// NewNetAccessManager creates a manager whose connectors all feed the given
// shared Queue.
func NewNetAccessManager(queue *Queue) *NetAccessManager {
	return &NetAccessManager{
		connectors: make(map[net.Addr]*Connector),
		queue:      queue,
	}
}

// AddTransactionCanceller registers a table whose pending transactions must
// be cancelled whenever any connector this manager owns fails.
func (m *NetAccessManager) AddTransactionCanceller(tc TransactionCanceller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellers = append(m.cancellers, tc)
}

// BindUDP binds a new UDP socket at addr (":0" for an ephemeral port) and
// registers a Connector for it.
func (m *NetAccessManager) BindUDP(addr *net.UDPAddr) (*Connector, error) {
	pc, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return m.Register(NewUDPConnector(pc, m.queue, m.onConnectorError)), nil
}

// Register adopts an already-constructed Connector (built with
// NewUDPConnector/NewTCPConnector against this manager's onConnectorError
// would be typical, but any Connector can be registered for bookkeeping).
func (m *NetAccessManager) Register(c *Connector) *Connector {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectors[c.LocalAddr()] = c
	return c
}

// Unregister removes a connector without stopping it.
func (m *NetAccessManager) Unregister(c *Connector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connectors, c.LocalAddr())
}

// Connector looks up the connector bound to localAddr, if any.
func (m *NetAccessManager) Connector(localAddr net.Addr) (*Connector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connectors[localAddr]
	return c, ok
}

// Close stops every owned connector.
func (m *NetAccessManager) Close() {
	m.mu.Lock()
	connectors := make([]*Connector, 0, len(m.connectors))
	for _, c := range m.connectors {
		connectors = append(connectors, c)
	}
	m.connectors = make(map[net.Addr]*Connector)
	m.mu.Unlock()

	for _, c := range connectors {
		c.Stop()
	}
}

// onConnectorError is the ErrorHandler passed to connectors this manager
// binds itself: it unregisters the connector and cancels every pending
// transaction, since none of them can possibly complete over a dead socket.
func (m *NetAccessManager) onConnectorError(c *Connector, err error) {
	log.Warn("transport: connector %s failed: %v", c.LocalAddr(), err)
	m.Unregister(c)

	m.mu.Lock()
	cancellers := append([]TransactionCanceller(nil), m.cancellers...)
	m.mu.Unlock()

	for _, tc := range cancellers {
		tc.CancelAll()
	}
}
