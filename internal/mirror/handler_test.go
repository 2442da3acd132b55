package mirror

import (
	"context"
	"testing"
	"time"

	"patchbay/internal/graph"
	"patchbay/internal/interaction"
	"patchbay/internal/peer"
	"patchbay/internal/reconcile"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockOf(loop *Loop, engine *reconcile.Engine, peerID string) (graph.Block, bool) {
	var (
		block graph.Block
		found bool
	)
	err := loop.Call(context.Background(), func() {
		id, ok := engine.Block(peerID)
		if !ok {
			return
		}
		block, found = engine.Store().Block(id)
	})
	return block, found && err == nil
}

// ============ Handler Tests ============

func TestHandler_EventsReachEngine(t *testing.T) {
	engine := newEngine(reconcile.Options{})
	loop := startLoop(t, engine, LoopOptions{})
	h := NewHandler(context.Background(), loop, engine, nil, zerolog.Nop())

	require.NoError(t, h.PeerEnter("a", "source"))
	require.NoError(t, h.PeerEnter("b", "sink"))
	require.NoError(t, h.PeerModified("b", "sink", peer.PortUpdates{{Name: "in", Data: peer.Capability("s", 0)}}))
	out := peer.Capability("e", 0).WithSubscribers(peer.SubscriberRef{Peer: "b", Port: "in"})
	require.NoError(t, h.PeerModified("a", "source", peer.PortUpdates{{Name: "out", Data: out}}))
	require.NoError(t, h.PeerSignaled("a", "source", peer.Signal{Port: "out", Value: 0.5}))

	var conns []graph.Connection
	var value any
	require.NoError(t, loop.Call(context.Background(), func() {
		conns = engine.Store().Connections()
		id, _ := engine.Block("a")
		p, _ := engine.Store().PortByName(id, "out")
		value = p.Value
	}))
	assert.Len(t, conns, 1)
	assert.Equal(t, 0.5, value)

	require.NoError(t, h.PeerExit("a", "source"))
	require.NoError(t, loop.Call(context.Background(), func() { conns = engine.Store().Connections() }))
	assert.Empty(t, conns)
}

func TestHandler_UnknownPeerDoesNotFail(t *testing.T) {
	engine := newEngine(reconcile.Options{})
	loop := startLoop(t, engine, LoopOptions{})
	h := NewHandler(context.Background(), loop, engine, nil, zerolog.Nop())

	assert.NoError(t, h.PeerExit("ghost", ""))
	assert.NoError(t, h.PeerSignaled("ghost", "", peer.Signal{Port: "x"}))

	ran := false
	require.NoError(t, loop.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestHandler_RestoresRememberedPosition(t *testing.T) {
	engine := newEngine(reconcile.Options{})
	loop := startLoop(t, engine, LoopOptions{})
	positions := newMemoryPositions()
	require.NoError(t, positions.SavePosition(context.Background(), "mixer", 30, 40))
	h := NewHandler(context.Background(), loop, engine, positions, zerolog.Nop())

	require.NoError(t, h.PeerEnter("a", "mixer"))
	require.NoError(t, h.PeerEnter("b", "unknown-name"))

	assert.Eventually(t, func() bool {
		b, ok := blockOf(loop, engine, "a")
		return ok && b.X == 30 && b.Y == 40
	}, time.Second, 5*time.Millisecond)

	b, ok := blockOf(loop, engine, "b")
	require.True(t, ok)
	assert.Zero(t, b.X)
	assert.Zero(t, b.Y)
}

// ============ Round trip ============

func TestMirror_GestureRelaysSubscribe(t *testing.T) {
	engine := newEngine(reconcile.Options{})
	loop := startLoop(t, engine, LoopOptions{})
	h := NewHandler(context.Background(), loop, engine, nil, zerolog.Nop())
	pub := newFakePublisher()
	relay := NewRelay(pub, nil, nil, zerolog.Nop())
	ctrl := interaction.NewController(engine.Store(), relay, zerolog.Nop())

	require.NoError(t, h.PeerEnter("a", "source"))
	require.NoError(t, h.PeerEnter("b", "sink"))
	require.NoError(t, h.PeerModified("a", "source", peer.PortUpdates{{Name: "out", Data: peer.Capability("e", 0)}}))
	require.NoError(t, h.PeerModified("b", "sink", peer.PortUpdates{{Name: "in", Data: peer.Capability("s", 0)}}))

	var ok bool
	require.NoError(t, loop.Call(context.Background(), func() {
		a, _ := engine.Block("a")
		b, _ := engine.Block("b")
		out, _ := engine.Store().PortByName(a, "out")
		in, _ := engine.Store().PortByName(b, "in")
		ctrl.PointerDown(interaction.PortTarget(out.ID, interaction.SideOutput), interaction.Point{})
		_, ok = ctrl.PointerUp(interaction.PortTarget(in.ID, interaction.SideInput))
	}))
	require.True(t, ok)
	relay.Wait()

	require.Len(t, pub.subscribed, 1)
	assert.Equal(t, peer.Subscription{ReceiverPeer: "b", ReceiverPort: "in", EmitterPeer: "a", EmitterPort: "out"}, pub.subscribed[0])

	// the peer confirms by announcing the subscriber: no duplicate edge appears
	out := peer.Capability("e", 0).WithSubscribers(peer.SubscriberRef{Peer: "b", Port: "in"})
	require.NoError(t, h.PeerModified("a", "source", peer.PortUpdates{{Name: "out", Data: out}}))
	var conns []graph.Connection
	require.NoError(t, loop.Call(context.Background(), func() { conns = engine.Store().Connections() }))
	assert.Len(t, conns, 1)
}
