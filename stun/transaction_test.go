package stun

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCollector struct {
	mu        sync.Mutex
	responses int
	timeouts  int
	cancelled int
}

func (c *recordingCollector) ProcessResponse(resp *Message, raddr net.Addr) {
	c.mu.Lock()
	c.responses++
	c.mu.Unlock()
}

func (c *recordingCollector) ProcessTimeout() {
	c.mu.Lock()
	c.timeouts++
	c.mu.Unlock()
}

func (c *recordingCollector) ProcessUnreachable(err error) {}

func (c *recordingCollector) ProcessCancelled() {
	c.mu.Lock()
	c.cancelled++
	c.mu.Unlock()
}

func (c *recordingCollector) snapshot() (responses, timeouts, cancelled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responses, c.timeouts, c.cancelled
}

// Scenario 2: server drops all requests; the client sends the request Rc
// times in all (Rc-1 retransmissions), then times out exactly once.
func TestClientTransactionTimeout(t *testing.T) {
	cfg := TransactionConfig{RTO: 20 * time.Millisecond, Rc: 3, Rm: 16}
	table := NewClientTransactionTable(cfg)

	var mu sync.Mutex
	var sent int
	send := func(b []byte, dst net.Addr) error {
		mu.Lock()
		sent++
		mu.Unlock()
		return nil // Simulate the server silently dropping every request.
	}

	collector := &recordingCollector{}
	dest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	table.SendRequest(NewBindingRequest(), dest, send, collector)

	require.Eventually(t, func() bool {
		_, timeouts, _ := collector.snapshot()
		return timeouts == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	gotSent := sent
	mu.Unlock()
	assert.Equal(t, cfg.Rc, gotSent)

	responses, timeouts, cancelled := collector.snapshot()
	assert.Equal(t, 0, responses)
	assert.Equal(t, 1, timeouts)
	assert.Equal(t, 0, cancelled)
}

func TestClientTransactionResponseStopsRetransmission(t *testing.T) {
	cfg := TransactionConfig{RTO: 20 * time.Millisecond, Rc: 7, Rm: 16}
	table := NewClientTransactionTable(cfg)

	send := func(b []byte, dst net.Addr) error { return nil }
	collector := &recordingCollector{}
	dest := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9}
	req := NewBindingRequest()
	id := table.SendRequest(req, dest, send, collector)

	resp := NewBindingSuccessResponse(id, dest)
	ok := table.HandleResponse(resp, dest)
	assert.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	responses, timeouts, _ := collector.snapshot()
	assert.Equal(t, 1, responses)
	assert.Equal(t, 0, timeouts)

	// A second, late response for the same (now removed) transaction ID is
	// simply ignored.
	assert.False(t, table.HandleResponse(resp, dest))
}

// Scenario 3: a retransmitted request within the server transaction
// lifetime gets the byte-identical cached response, without re-invoking
// application logic.
func TestServerTransactionRetransmitCache(t *testing.T) {
	cfg := DefaultTransactionConfig()
	table := NewServerTransactionTable(cfg)

	req := NewBindingRequest()
	local := &net.UDPAddr{Port: 1}
	remote := &net.UDPAddr{Port: 2}

	var sentResponses [][]byte
	send := func(b []byte, dst net.Addr) error {
		sentResponses = append(sentResponses, append([]byte(nil), b...))
		return nil
	}

	outcome := table.HandleRequest(req, local, remote, send)
	require.Equal(t, NewTransaction, outcome)

	resp := NewBindingSuccessResponse(req.TransactionID, remote)
	require.NoError(t, table.SendResponse(req.TransactionID, resp, send, remote))
	require.Len(t, sentResponses, 1)

	// Retransmit of the same request.
	outcome = table.HandleRequest(req, local, remote, send)
	assert.Equal(t, Retransmit, outcome)
	require.Len(t, sentResponses, 2)
	assert.Equal(t, sentResponses[0], sentResponses[1])

	// A second SendResponse call is rejected rather than silently
	// replacing the cache.
	err := table.SendResponse(req.TransactionID, resp, send, remote)
	assert.ErrorIs(t, err, ErrTransactionAlreadyAnswered)
}

func TestServerTransactionDoesNotExist(t *testing.T) {
	table := NewServerTransactionTable(DefaultTransactionConfig())
	send := func(b []byte, dst net.Addr) error { return nil }
	err := table.SendResponse(NewTransactionID(), NewBindingRequest(), send, &net.UDPAddr{})
	assert.ErrorIs(t, err, ErrTransactionDoesNotExist)
}
