package service

import (
	"context"
	"testing"

	"patchbay/internal/api/handler/request"
	"patchbay/internal/graph"
	"patchbay/internal/interaction"
	"patchbay/internal/mirror"
	"patchbay/internal/peer"
	"patchbay/internal/reconcile"
	"patchbay/internal/value"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listenerCall struct {
	kind     string
	from, to interaction.PortRef
	value    any
}

type recordingListener struct {
	calls []listenerCall
}

func (l *recordingListener) OnAddConnection(e interaction.PortRef, r interaction.PortRef) {
	l.calls = append(l.calls, listenerCall{kind: "add", from: e, to: r})
}

func (l *recordingListener) OnRemoveConnection(e interaction.PortRef, r interaction.PortRef) {
	l.calls = append(l.calls, listenerCall{kind: "remove", from: e, to: r})
}

func (l *recordingListener) OnBlockMoved(graph.Block) {
	l.calls = append(l.calls, listenerCall{kind: "moved"})
}

func (l *recordingListener) OnChangeValue(p interaction.PortRef, v any) {
	l.calls = append(l.calls, listenerCall{kind: "value", from: p, value: v})
}

func setupMirrorService(t *testing.T) (*MirrorService, *recordingListener) {
	t.Helper()
	engine := reconcile.NewEngine(graph.NewStore(nil), zerolog.Nop(), reconcile.Options{})
	loop := mirror.NewLoop(engine, zerolog.Nop(), mirror.LoopOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})

	var setupErr error
	require.NoError(t, loop.Call(context.Background(), func() {
		for _, id := range []string{"osc", "mixer"} {
			if err := engine.PeerEnter(id, id); err != nil {
				setupErr = err
				return
			}
		}
		setupErr = engine.PeerModified("osc", "osc", peer.PortUpdates{
			{Name: "out", Data: peer.Capability("e", 0.0)},
		})
		if setupErr != nil {
			return
		}
		setupErr = engine.PeerModified("mixer", "mixer", peer.PortUpdates{
			{Name: "in", Data: peer.Capability("s", 0.0)},
			{Name: "gain", Data: peer.Capability("s", 0.5).WithTypeHint("flt")},
		})
	}))
	require.NoError(t, setupErr)

	listener := &recordingListener{}
	return NewMirrorService(loop, engine, listener, zerolog.Nop()), listener
}

// ============ Mirror Service Tests ============

func TestMirror_Snapshot(t *testing.T) {
	svc, _ := setupMirrorService(t)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Blocks, 2)
	assert.Len(t, snap.Ports, 5, "two headers and three data ports")
	assert.Empty(t, snap.Connections)

	peers, err := svc.Peers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "mixer", peers[0].ID)
	assert.Equal(t, "entered", peers[0].State)
}

func TestMirror_ConnectAndDisconnect(t *testing.T) {
	svc, listener := setupMirrorService(t)
	ctx := context.Background()

	conn, err := svc.Connect(ctx, request.ConnectDTO{
		EmitterPeer: "osc", EmitterPort: "out",
		ReceiverPeer: "mixer", ReceiverPort: "in",
	})
	require.NoError(t, err)
	require.Len(t, listener.calls, 1)
	assert.Equal(t, "add", listener.calls[0].kind)
	assert.Equal(t, "osc", listener.calls[0].from.Peer)
	assert.Equal(t, "in", listener.calls[0].to.Name)

	_, err = svc.Connect(ctx, request.ConnectDTO{
		EmitterPeer: "osc", EmitterPort: "out",
		ReceiverPeer: "mixer", ReceiverPort: "in",
	})
	assert.ErrorIs(t, err, ErrConnectionRejected, "already connected")

	require.NoError(t, svc.Disconnect(ctx, conn.ID))
	require.Len(t, listener.calls, 2)
	assert.Equal(t, "remove", listener.calls[1].kind)

	assert.ErrorIs(t, svc.Disconnect(ctx, conn.ID), ErrConnectionNotFound)
}

func TestMirror_ConnectRejections(t *testing.T) {
	svc, listener := setupMirrorService(t)
	ctx := context.Background()

	_, err := svc.Connect(ctx, request.ConnectDTO{EmitterPeer: "ghost", EmitterPort: "out", ReceiverPeer: "mixer", ReceiverPort: "in"})
	assert.ErrorIs(t, err, reconcile.ErrUnknownPeer)

	_, err = svc.Connect(ctx, request.ConnectDTO{EmitterPeer: "osc", EmitterPort: "nope", ReceiverPeer: "mixer", ReceiverPort: "in"})
	assert.ErrorIs(t, err, ErrPortNotFound)

	_, err = svc.Connect(ctx, request.ConnectDTO{EmitterPeer: "osc", EmitterPort: "osc", ReceiverPeer: "mixer", ReceiverPort: "in"})
	assert.ErrorIs(t, err, ErrPortNotFound, "header ports are not addressable")

	_, err = svc.Connect(ctx, request.ConnectDTO{EmitterPeer: "mixer", EmitterPort: "in", ReceiverPeer: "osc", ReceiverPort: "out"})
	assert.ErrorIs(t, err, ErrConnectionRejected)

	assert.Empty(t, listener.calls)
}

func TestMirror_EditValue(t *testing.T) {
	svc, listener := setupMirrorService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.EditValue(ctx, "mixer", "gain", "loud"), value.ErrInvalidValue)
	assert.Empty(t, listener.calls)

	require.NoError(t, svc.EditValue(ctx, "mixer", "gain", "0.75"))
	require.Len(t, listener.calls, 1)
	assert.Equal(t, 0.75, listener.calls[0].value)
	assert.Equal(t, "gain", listener.calls[0].from.Name)

	assert.ErrorIs(t, svc.EditValue(ctx, "mixer", "missing", "1"), ErrPortNotFound)
}

func TestMirror_Sessions(t *testing.T) {
	svc, listener := setupMirrorService(t)
	ctx := context.Background()
	session := svc.NewSession()

	var out, in graph.Port
	require.NoError(t, svc.Gesture(ctx, session, func(ctrl *interaction.Controller) {
		o, _ := svc.resolve("osc", "out")
		i, _ := svc.resolve("mixer", "in")
		out, in = o, i
		ctrl.PointerDown(interaction.PortTarget(out.ID, interaction.SideOutput), interaction.Point{})
	}))

	var state interaction.State
	require.NoError(t, svc.Gesture(ctx, session, func(ctrl *interaction.Controller) { state = ctrl.State() }))
	assert.Equal(t, interaction.Dragging, state)

	svc.EndSession(session)
	require.NoError(t, svc.Gesture(ctx, session, func(ctrl *interaction.Controller) {
		state = ctrl.State()
		ctrl.PointerUp(interaction.PortTarget(in.ID, interaction.SideInput))
	}))
	assert.Equal(t, interaction.Idle, state)
	assert.Empty(t, listener.calls)
}
