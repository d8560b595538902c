package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUDPConnectorRoundTrip(t *testing.T) {
	queueA := NewQueue(8)
	connA, err := NewNetAccessManager(queueA).BindUDP(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer connA.Stop()

	queueB := NewQueue(8)
	connB, err := NewNetAccessManager(queueB).BindUDP(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer connB.Stop()

	require.NoError(t, connA.Send([]byte("hello"), connB.LocalAddr()))

	msg, ok := queueB.Dequeue(nil)
	require.True(t, ok)
	require.Equal(t, "hello", string(msg.Bytes))
	require.Equal(t, connA.LocalAddr().String(), msg.RemoteAddr.String())
}

func TestNetAccessManagerCancelsOnConnectorFailure(t *testing.T) {
	queue := NewQueue(8)
	nam := NewNetAccessManager(queue)
	conn, err := nam.BindUDP(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	canceller := &countingCanceller{}
	nam.AddTransactionCanceller(canceller)

	require.NoError(t, conn.Stop())
	// Stop() is a local close, so onConnectorError must not fire for it;
	// force a genuine read error by closing the raw socket out from under
	// the connector a second time is not meaningful, so instead verify the
	// manager's bookkeeping directly.
	_, stillThere := nam.Connector(conn.LocalAddr())
	require.True(t, stillThere, "Stop() alone must not unregister the connector")

	nam.onConnectorError(conn, net.ErrClosed)
	_, stillThere = nam.Connector(conn.LocalAddr())
	require.False(t, stillThere)
	require.Equal(t, 1, canceller.calls)
}

type countingCanceller struct{ calls int }

func (c *countingCanceller) CancelAll() { c.calls++ }

func TestWorkerPoolSurvivesPanic(t *testing.T) {
	queue := NewQueue(8)
	handled := make(chan RawMessage, 2)
	first := true
	pool := NewWorkerPool(queue, 1, func(m RawMessage) {
		if first {
			first = false
			panic("boom")
		}
		handled <- m
	})
	pool.Start()
	defer pool.Stop()

	queue.Enqueue(RawMessage{Bytes: []byte("panics")})
	queue.Enqueue(RawMessage{Bytes: []byte("survives")})

	select {
	case m := <-handled:
		require.Equal(t, "survives", string(m.Bytes))
	case <-time.After(time.Second):
		t.Fatal("worker pool did not recover from panic in time")
	}
}
