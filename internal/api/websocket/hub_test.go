package websocket

import (
	"context"
	"testing"
	"time"

	"patchbay/internal/api/handler/response"
	"patchbay/internal/graph"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(id string, username string, hub *Hub) *Client {
	return &Client{
		ID:       id,
		Username: username,
		Hub:      hub,
		Send:     make(chan Message, 16),
		Logger:   zerolog.Nop(),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

// next reads from c until a message of type want arrives.
func next(t *testing.T, c *Client, want MessageType) Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-c.Send:
			require.True(t, ok, "send channel closed while waiting for %s", want)
			if msg.Type == want {
				return msg
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for message", "type %s", want)
		}
	}
}

// ============ Hub Tests ============

func TestHub_NotifyBroadcastsToAllClients(t *testing.T) {
	hub := startHub(t)
	a := newTestClient("a", "alice", hub)
	b := newTestClient("b", "bob", hub)
	hub.Register <- a
	hub.Register <- b

	hub.Notify(graph.Event{Type: graph.EventConnectionAdded, Connection: &graph.Connection{ID: 7, Emitter: 1, Receiver: 2}})

	for _, c := range []*Client{a, b} {
		msg := next(t, c, MessageTypeGraphEvent)
		ev, ok := msg.Data.(response.GraphEventDTO)
		require.True(t, ok)
		assert.Equal(t, "connection_added", ev.Type)
		require.NotNil(t, ev.Connection)
		assert.Equal(t, uint64(7), ev.Connection.ID)
	}
}

func TestHub_SendToTargetsOneClient(t *testing.T) {
	hub := startHub(t)
	a := newTestClient("a", "alice", hub)
	b := newTestClient("b", "bob", hub)
	hub.Register <- a
	hub.Register <- b

	hub.SendTo(a, NewSnapshotMessage(graph.Snapshot{}))
	hub.Notify(graph.Event{Type: graph.EventBlockRemoved, Block: &graph.Block{ID: 3}})

	first := next(t, a, MessageTypeSnapshot)
	assert.Equal(t, MessageTypeSnapshot, first.Type)

	msg := next(t, b, MessageTypeGraphEvent)
	ev := msg.Data.(response.GraphEventDTO)
	assert.Equal(t, "block_removed", ev.Type, "b never sees a's snapshot")
	assert.Len(t, b.Send, 0)
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.Broadcast)+10; i++ {
			hub.Notify(graph.Event{Type: graph.EventPortChanged, Port: &graph.Port{ID: graph.PortID(i + 1)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Notify blocked on a full queue")
	}
	stats := hub.Stats()
	assert.Equal(t, uint64(10), stats.Dropped)
	assert.Equal(t, cap(hub.Broadcast), stats.Queued)
}

func TestHub_UnregisterClosesAndRunsOnLeave(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	left := make(chan string, 1)
	hub.OnLeave = func(c *Client) { left <- c.ID }
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	defer func() {
		cancel()
		<-hub.Done()
	}()

	a := newTestClient("a", "alice", hub)
	hub.Register <- a
	hub.Unregister <- a

	select {
	case id := <-left:
		assert.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "OnLeave not called")
	}
	_, ok := <-a.Send
	assert.False(t, ok)
	assert.False(t, a.trySend(NewErrorMessage("late", nil)), "sending to a closed client is a no-op")

	hub.Unregister <- a
	assert.Equal(t, 0, hub.Stats().Clients)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	a := newTestClient("a", "alice", hub)
	hub.Register <- a
	cancel()
	<-hub.Done()

	_, ok := <-a.Send
	assert.False(t, ok)
}

func TestHub_Stats(t *testing.T) {
	hub := startHub(t)
	hub.Register <- newTestClient("1", "bob", hub)
	hub.Register <- newTestClient("2", "alice", hub)
	hub.Register <- newTestClient("3", "bob", hub)

	require.Eventually(t, func() bool { return hub.Stats().Clients == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, hub.Stats().Users)
}
