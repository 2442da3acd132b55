package interaction

import (
	"testing"

	"patchbay/internal/graph"
	"patchbay/internal/value"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	kind     string
	from, to PortRef
	block    graph.Block
	value    any
}

type recordingListener struct {
	calls []call
}

func (l *recordingListener) OnAddConnection(emitter PortRef, receiver PortRef) {
	l.calls = append(l.calls, call{kind: "add", from: emitter, to: receiver})
}

func (l *recordingListener) OnRemoveConnection(emitter PortRef, receiver PortRef) {
	l.calls = append(l.calls, call{kind: "remove", from: emitter, to: receiver})
}

func (l *recordingListener) OnBlockMoved(block graph.Block) {
	l.calls = append(l.calls, call{kind: "moved", block: block})
}

func (l *recordingListener) OnChangeValue(port PortRef, v any) {
	l.calls = append(l.calls, call{kind: "value", from: port, value: v})
}

type fixture struct {
	store    *graph.Store
	ctrl     *Controller
	listener *recordingListener
	events   []graph.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{listener: &recordingListener{}}
	f.store = graph.NewStore(graph.NotifierFunc(func(ev graph.Event) {
		f.events = append(f.events, ev)
	}))
	f.ctrl = NewController(f.store, f.listener, zerolog.Nop())
	return f
}

func (f *fixture) block(t *testing.T, peerID string) graph.BlockID {
	t.Helper()
	b := f.store.AddBlock(peerID, "node-"+peerID)
	return b.ID
}

func (f *fixture) port(t *testing.T, block graph.BlockID, name string, canReceive, canEmit bool) graph.PortID {
	t.Helper()
	p, err := f.store.AddPort(block, name, canReceive, canEmit, graph.PortData)
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) drag(from Target, to Target) (graph.Connection, bool) {
	f.ctrl.PointerDown(from, Point{X: 0, Y: 0})
	f.ctrl.PointerMove(Point{X: 40, Y: 10})
	return f.ctrl.PointerUp(to)
}

// ============ Drag-connect Tests ============

func TestController_DragConnect_OutputToInput(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	out := f.port(t, a, "out", false, true)
	in := f.port(t, b, "in", true, false)

	f.ctrl.PointerDown(PortTarget(out, SideOutput), Point{X: 1, Y: 1})
	assert.Equal(t, Dragging, f.ctrl.State())
	assert.Empty(t, f.store.Connections(), "provisional connection is not stored")

	f.ctrl.PointerMove(Point{X: 50, Y: 60})
	prov, ok := f.ctrl.Provisional()
	require.True(t, ok)
	assert.Equal(t, Point{X: 50, Y: 60}, prov.Pointer)
	assert.Equal(t, out, prov.Anchor.Port)

	conn, ok := f.ctrl.PointerUp(PortTarget(in, SideInput))
	require.True(t, ok)
	assert.Equal(t, out, conn.Emitter)
	assert.Equal(t, in, conn.Receiver)
	assert.Equal(t, Idle, f.ctrl.State())

	require.Len(t, f.listener.calls, 1)
	c := f.listener.calls[0]
	assert.Equal(t, "add", c.kind)
	assert.Equal(t, PortRef{Peer: "a", Block: a, Port: out, Name: "out"}, c.from)
	assert.Equal(t, PortRef{Peer: "b", Block: b, Port: in, Name: "in"}, c.to)
}

func TestController_DragConnect_FromInputAssignsByCapability(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	in := f.port(t, a, "in", true, false)
	out := f.port(t, b, "out", false, true)

	conn, ok := f.drag(PortTarget(in, SideInput), PortTarget(out, SideOutput))
	require.True(t, ok)
	assert.Equal(t, out, conn.Emitter)
	assert.Equal(t, in, conn.Receiver)
	require.Len(t, f.listener.calls, 1)
	assert.Equal(t, "out", f.listener.calls[0].from.Name)
	assert.Equal(t, "in", f.listener.calls[0].to.Name)
}

func TestController_DragConnect_SideAnyUsesCapabilities(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	in := f.port(t, a, "in", true, false)
	out := f.port(t, b, "out", false, true)

	conn, ok := f.drag(PortTarget(in, SideAny), PortTarget(out, SideAny))
	require.True(t, ok)
	assert.Equal(t, out, conn.Emitter)
}

func TestController_DragConnect_SameBlockRejected(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	out := f.port(t, a, "out", false, true)
	in := f.port(t, a, "in", true, false)

	_, ok := f.drag(PortTarget(out, SideOutput), PortTarget(in, SideInput))
	assert.False(t, ok)
	assert.Empty(t, f.store.Connections())
	assert.Empty(t, f.listener.calls)
	assert.Equal(t, Idle, f.ctrl.State())
}

func TestController_DragConnect_InvalidTargets(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	out := f.port(t, a, "out", false, true)
	otherOut := f.port(t, b, "out", false, true)
	both := f.port(t, b, "both", true, true)
	header, err := f.store.AddPort(b, "header", false, false, graph.PortName)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target Target
	}{
		{"empty space", Target{}},
		{"block body", BlockTarget(b)},
		{"output to output side", PortTarget(otherOut, SideOutput)},
		{"receiver cannot receive", PortTarget(otherOut, SideInput)},
		{"header port", PortTarget(header.ID, SideInput)},
		{"unknown port", PortTarget(9999, SideInput)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := f.drag(PortTarget(out, SideOutput), tt.target)
			assert.False(t, ok)
			assert.Empty(t, f.store.Connections())
			assert.Empty(t, f.listener.calls)
		})
	}

	// both ends able to go either way with no side given is ambiguous
	_, ok := f.drag(PortTarget(both, SideAny), PortTarget(f.port(t, a, "both", true, true), SideAny))
	assert.False(t, ok)
	assert.Empty(t, f.listener.calls)
}

func TestController_DragConnect_AlreadyConnected(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	pa := f.port(t, a, "io", true, true)
	pb := f.port(t, b, "io", true, true)
	_, err := f.store.AddDirected(pa, pb)
	require.NoError(t, err)

	// reverse direction is also refused: the ports are already connected
	_, ok := f.drag(PortTarget(pb, SideOutput), PortTarget(pa, SideInput))
	assert.False(t, ok)
	assert.Len(t, f.store.Connections(), 1)
	assert.Empty(t, f.listener.calls)
}

func TestController_PointerDown_SideWithoutCapability(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	in := f.port(t, a, "in", true, false)

	f.ctrl.PointerDown(PortTarget(in, SideOutput), Point{})
	assert.Equal(t, Idle, f.ctrl.State())
	_, ok := f.ctrl.Provisional()
	assert.False(t, ok)
}

func TestController_AnchorRemovedMidDrag(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	out := f.port(t, a, "out", false, true)
	in := f.port(t, b, "in", true, false)

	f.ctrl.PointerDown(PortTarget(out, SideOutput), Point{})
	_, err := f.store.RemoveBlock(a)
	require.NoError(t, err)

	_, ok := f.ctrl.PointerUp(PortTarget(in, SideInput))
	assert.False(t, ok)
	assert.Empty(t, f.listener.calls)
}

func TestController_Cancel(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	out := f.port(t, a, "out", false, true)

	f.ctrl.PointerDown(PortTarget(out, SideOutput), Point{})
	f.ctrl.Cancel()
	assert.Equal(t, Idle, f.ctrl.State())
	_, ok := f.ctrl.PointerUp(Target{})
	assert.False(t, ok)
}

// ============ Block Move Tests ============

func TestController_BlockMove(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	require.NoError(t, f.store.SetBlockPosition(b, 100, 100))

	require.True(t, f.ctrl.Select(BlockItem(a), false))
	require.True(t, f.ctrl.Select(BlockItem(b), true))

	f.ctrl.PointerDown(BlockTarget(a), Point{X: 10, Y: 10})
	f.ctrl.PointerMove(Point{X: 15, Y: 30})
	f.ctrl.PointerUp(BlockTarget(a))

	ba, _ := f.store.Block(a)
	bb, _ := f.store.Block(b)
	assert.Equal(t, 5.0, ba.X)
	assert.Equal(t, 20.0, ba.Y)
	assert.Equal(t, 105.0, bb.X)
	assert.Equal(t, 120.0, bb.Y)

	require.Len(t, f.listener.calls, 2)
	assert.Equal(t, "moved", f.listener.calls[0].kind)
	assert.Equal(t, a, f.listener.calls[0].block.ID)
	assert.Equal(t, b, f.listener.calls[1].block.ID)
	assert.Equal(t, 105.0, f.listener.calls[1].block.X)
}

func TestController_BlockPressWithoutMove(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")

	f.ctrl.PointerDown(BlockTarget(a), Point{X: 10, Y: 10})
	f.ctrl.PointerMove(Point{X: 10, Y: 10})
	f.ctrl.PointerUp(BlockTarget(a))

	assert.Empty(t, f.listener.calls)
	assert.Equal(t, []Item{BlockItem(a)}, f.ctrl.Selection(), "pressing a block selects it")
}

func TestController_PressOnUnselectedBlockReplacesSelection(t *testing.T) {
	f := newFixture(t)
	a, b := f.block(t, "a"), f.block(t, "b")
	require.True(t, f.ctrl.Select(BlockItem(a), false))

	f.ctrl.PointerDown(BlockTarget(b), Point{})
	f.ctrl.PointerMove(Point{X: 1})
	f.ctrl.PointerUp(Target{})

	require.Len(t, f.listener.calls, 1)
	assert.Equal(t, b, f.listener.calls[0].block.ID)
	ba, _ := f.store.Block(a)
	assert.Zero(t, ba.X)
}

// ============ Selection Tests ============

func connectedPair(t *testing.T, f *fixture, suffix string) graph.Connection {
	t.Helper()
	a, b := f.block(t, "a"+suffix), f.block(t, "b"+suffix)
	conn, err := f.store.AddDirected(f.port(t, a, "out", false, true), f.port(t, b, "in", true, false))
	require.NoError(t, err)
	return conn
}

func TestController_DeleteSelected(t *testing.T) {
	f := newFixture(t)
	first := connectedPair(t, f, "1")
	second := connectedPair(t, f, "2")

	require.True(t, f.ctrl.Select(ConnectionItem(first.ID), false))
	require.True(t, f.ctrl.Select(BlockItem(1), true))

	assert.Equal(t, 1, f.ctrl.DeleteSelected())
	_, ok := f.store.Connection(first.ID)
	assert.False(t, ok)
	_, ok = f.store.Connection(second.ID)
	assert.True(t, ok)

	require.Len(t, f.listener.calls, 1)
	c := f.listener.calls[0]
	assert.Equal(t, "remove", c.kind)
	assert.Equal(t, first.Emitter, c.from.Port)
	assert.Equal(t, first.Receiver, c.to.Port)
	assert.Equal(t, "a1", c.from.Peer)
	assert.Equal(t, "b1", c.to.Peer)
	assert.Equal(t, "out", c.from.Name)
	assert.Equal(t, "in", c.to.Name)

	assert.Len(t, f.store.Blocks(), 4, "blocks are never deleted locally")
	assert.Equal(t, []Item{BlockItem(1)}, f.ctrl.Selection())
}

func TestController_SelectAllNoneInverse(t *testing.T) {
	f := newFixture(t)
	conn := connectedPair(t, f, "")
	hidden := f.store.AddBlock("", "hidden")
	for _, b := range f.store.Blocks() {
		if b.ID != hidden.ID {
			_, err := f.store.RefreshVisibility(b.ID)
			require.NoError(t, err)
		}
	}

	f.ctrl.SelectAll()
	items := f.ctrl.Selection()
	assert.Len(t, items, 3, "two visible blocks and one connection")
	assert.NotContains(t, items, BlockItem(hidden.ID))

	f.ctrl.SelectNone()
	assert.Empty(t, f.ctrl.Selection())

	require.True(t, f.ctrl.Select(ConnectionItem(conn.ID), false))
	f.ctrl.SelectInverse()
	items = f.ctrl.Selection()
	assert.Len(t, items, 2)
	assert.NotContains(t, items, ConnectionItem(conn.ID))
}

func TestController_SelectUnknownItem(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.ctrl.Select(ConnectionItem(42), false))
	assert.Empty(t, f.ctrl.Selection())
}

func TestController_SelectionPrunesRemovedItems(t *testing.T) {
	f := newFixture(t)
	conn := connectedPair(t, f, "")
	require.True(t, f.ctrl.Select(ConnectionItem(conn.ID), false))

	_, err := f.store.RemoveConnection(conn.ID)
	require.NoError(t, err)
	assert.Empty(t, f.ctrl.Selection())
	assert.Zero(t, f.ctrl.DeleteSelected())
	assert.Empty(t, f.listener.calls)
}

func TestController_PointerDownOnEmptySpaceClearsSelection(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	require.True(t, f.ctrl.Select(BlockItem(a), false))

	f.ctrl.PointerDown(Target{}, Point{})
	assert.Empty(t, f.ctrl.Selection())
	assert.Equal(t, Idle, f.ctrl.State())
}

// ============ Value Edit Tests ============

func TestController_EditValue_VectorArity(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	p := f.port(t, a, "pos", true, false)
	require.NoError(t, f.store.SetPortTypeHint(p, "vec3f"))
	require.NoError(t, f.store.SetPortValue(p, []float64{0, 0, 0}))
	f.events = nil

	err := f.ctrl.EditValue(p, "[1,2]")
	require.ErrorIs(t, err, value.ErrInvalidValue)
	port, _ := f.store.Port(p)
	assert.Equal(t, []float64{0, 0, 0}, port.Value, "value reverts to last known")
	assert.Empty(t, f.listener.calls)
	require.Len(t, f.events, 1, "display is refreshed")
	assert.Equal(t, graph.EventPortChanged, f.events[0].Type)

	require.NoError(t, f.ctrl.EditValue(p, "[1,2,3]"))
	port, _ = f.store.Port(p)
	assert.Equal(t, []float64{1, 2, 3}, port.Value)
	require.Len(t, f.listener.calls, 1)
	c := f.listener.calls[0]
	assert.Equal(t, "value", c.kind)
	assert.Equal(t, "a", c.from.Peer)
	assert.Equal(t, "pos", c.from.Name)
	assert.Equal(t, []float64{1.0, 2.0, 3.0}, c.value)
}

func TestController_EditValue_RevertsToPeerValue(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	p := f.port(t, a, "gain", true, false)
	require.NoError(t, f.store.SetPortTypeHint(p, "flt"))
	require.NoError(t, f.store.SetPortValue(p, 0.25))

	require.NoError(t, f.ctrl.EditValue(p, "0.9"))
	port, _ := f.store.Port(p)
	assert.Equal(t, 0.9, port.Value)
	assert.Equal(t, 0.25, port.Confirmed, "local edit is not confirmed yet")

	require.ErrorIs(t, f.ctrl.EditValue(p, "loud"), value.ErrInvalidValue)
	port, _ = f.store.Port(p)
	assert.Equal(t, 0.25, port.Value, "reverts to what the peer last reported")

	require.NoError(t, f.store.SetPortValue(p, 0.9))
	require.ErrorIs(t, f.ctrl.EditValue(p, "loud"), value.ErrInvalidValue)
	port, _ = f.store.Port(p)
	assert.Equal(t, 0.9, port.Value)
}

func TestController_EditValue_Scalars(t *testing.T) {
	f := newFixture(t)
	a := f.block(t, "a")
	count := f.port(t, a, "count", true, false)
	require.NoError(t, f.store.SetPortTypeHint(count, "int"))
	flag := f.port(t, a, "flag", true, false)
	require.NoError(t, f.store.SetPortTypeHint(flag, "bool"))

	assert.ErrorIs(t, f.ctrl.EditValue(count, "abc"), value.ErrInvalidValue)
	require.NoError(t, f.ctrl.EditValue(count, "12"))
	require.NoError(t, f.ctrl.EditValue(flag, "YES"))

	require.Len(t, f.listener.calls, 2)
	assert.Equal(t, 12, f.listener.calls[0].value)
	assert.Equal(t, true, f.listener.calls[1].value)
}

func TestController_EditValue_UnknownPort(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ctrl.EditValue(77, "1"), ErrNoSuchPort)
	assert.Empty(t, f.listener.calls)
}

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideInput, ParseSide("input"))
	assert.Equal(t, SideOutput, ParseSide("out"))
	assert.Equal(t, SideAny, ParseSide(""))
	assert.Equal(t, "output", SideOutput.String())
}
