// Package interaction turns pointer gestures and editing commands into graph
// mutations and listener notifications. A drag-connect gesture keeps its
// provisional connection here, outside the store, until it is released over
// a valid port.
package interaction

import (
	"errors"
	"fmt"
	"slices"

	"patchbay/internal/graph"
	"patchbay/internal/value"

	"github.com/rs/zerolog"
)

var ErrNoSuchPort = errors.New("no such port")

// Side tells which end of a port the pointer is over: the input circle or
// the output knob. SideAny leaves the direction to the port capabilities.
type Side int

const (
	SideAny Side = iota
	SideInput
	SideOutput
)

func ParseSide(s string) Side {
	switch s {
	case "input", "in":
		return SideInput
	case "output", "out":
		return SideOutput
	default:
		return SideAny
	}
}

func (s Side) String() string {
	switch s {
	case SideInput:
		return "input"
	case SideOutput:
		return "output"
	default:
		return "any"
	}
}

// Target is what lies under the pointer. The zero value is empty space.
type Target struct {
	Port  graph.PortID
	Side  Side
	Block graph.BlockID
}

func PortTarget(port graph.PortID, side Side) Target {
	return Target{Port: port, Side: side}
}

func BlockTarget(block graph.BlockID) Target {
	return Target{Block: block}
}

func (t Target) IsPort() bool {
	return t.Port != 0
}

func (t Target) IsBlock() bool {
	return t.Port == 0 && t.Block != 0
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PortRef names a port the way the peer network does.
type PortRef struct {
	Peer  string
	Block graph.BlockID
	Port  graph.PortID
	Name  string
}

// Listener receives the user-initiated changes that must be relayed to the
// peer network. Calls happen after the store reflects the change, except for
// OnRemoveConnection which is called just before the connection is removed.
type Listener interface {
	OnAddConnection(emitter PortRef, receiver PortRef)
	OnRemoveConnection(emitter PortRef, receiver PortRef)
	OnBlockMoved(block graph.Block)
	OnChangeValue(port PortRef, value any)
}

type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Provisional is the connection being dragged out of a port.
type Provisional struct {
	Anchor  Target
	Pointer Point
}

type gesture struct {
	connect bool
	anchor  Target
	origin  Point
	pointer Point
	moved   bool
	// start positions of the blocks being dragged
	blocks map[graph.BlockID]Point
}

// Controller is not safe for concurrent use; all calls must come from the
// goroutine that owns the store.
type Controller struct {
	store    *graph.Store
	listener Listener
	logger   zerolog.Logger

	gesture   *gesture
	selection Selection
}

func NewController(store *graph.Store, listener Listener, logger zerolog.Logger) *Controller {
	return &Controller{
		store:     store,
		listener:  listener,
		logger:    logger,
		selection: newSelection(),
	}
}

func (c *Controller) State() State {
	if c.gesture == nil {
		return Idle
	}
	return Dragging
}

// Provisional returns the in-flight drag connection, if any.
func (c *Controller) Provisional() (Provisional, bool) {
	if c.gesture == nil || !c.gesture.connect {
		return Provisional{}, false
	}
	return Provisional{Anchor: c.gesture.anchor, Pointer: c.gesture.pointer}, true
}

// ============ Pointer gestures ============

// PointerDown starts a drag-connect on a port or a block move on a block.
// Pressing empty space clears the selection.
func (c *Controller) PointerDown(target Target, at Point) {
	if c.gesture != nil {
		c.Cancel()
	}

	switch {
	case target.IsPort():
		p, ok := c.store.Port(target.Port)
		if !ok || !canAnchor(p, target.Side) {
			return
		}
		c.gesture = &gesture{connect: true, anchor: target, origin: at, pointer: at}

	case target.IsBlock():
		if _, ok := c.store.Block(target.Block); !ok {
			return
		}
		item := BlockItem(target.Block)
		if !c.selection.Has(item) {
			c.selection.Clear()
			c.selection.Add(item)
		}
		g := &gesture{anchor: target, origin: at, pointer: at, blocks: make(map[graph.BlockID]Point)}
		for _, id := range c.selection.Blocks() {
			if b, ok := c.store.Block(id); ok {
				g.blocks[id] = Point{X: b.X, Y: b.Y}
			}
		}
		c.gesture = g

	default:
		c.selection.Clear()
	}
}

// PointerMove tracks the pointer. A connect drag only moves its free end;
// a block drag moves every selected block by the pointer displacement.
func (c *Controller) PointerMove(at Point) {
	g := c.gesture
	if g == nil {
		return
	}
	g.pointer = at
	if g.connect {
		return
	}
	dx, dy := at.X-g.origin.X, at.Y-g.origin.Y
	if dx == 0 && dy == 0 {
		return
	}
	for id, start := range g.blocks {
		if err := c.store.SetBlockPosition(id, start.X+dx, start.Y+dy); err != nil {
			delete(g.blocks, id)
			continue
		}
		g.moved = true
	}
}

// PointerUp ends the current gesture. It returns the connection created by a
// drag-connect, if any.
func (c *Controller) PointerUp(target Target) (graph.Connection, bool) {
	g := c.gesture
	c.gesture = nil
	if g == nil {
		return graph.Connection{}, false
	}

	if !g.connect {
		if !g.moved {
			return graph.Connection{}, false
		}
		ids := make([]graph.BlockID, 0, len(g.blocks))
		for id := range g.blocks {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			if b, ok := c.store.Block(id); ok {
				c.listener.OnBlockMoved(b)
			}
		}
		return graph.Connection{}, false
	}

	if !target.IsPort() {
		c.logger.Debug().Msg("Drag released over empty space")
		return graph.Connection{}, false
	}
	conn, err := c.finalize(g.anchor, target)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Drag-connect discarded")
		return graph.Connection{}, false
	}
	c.listener.OnAddConnection(c.ref(conn.Emitter), c.ref(conn.Receiver))
	return conn, true
}

// Cancel drops the current gesture without side effects.
func (c *Controller) Cancel() {
	c.gesture = nil
}

func (c *Controller) finalize(anchor Target, target Target) (graph.Connection, error) {
	p, ok := c.store.Port(anchor.Port)
	if !ok {
		return graph.Connection{}, fmt.Errorf("anchor %d: %w", anchor.Port, ErrNoSuchPort)
	}
	q, ok := c.store.Port(target.Port)
	if !ok {
		return graph.Connection{}, fmt.Errorf("target %d: %w", target.Port, ErrNoSuchPort)
	}
	if p.Block == q.Block {
		return graph.Connection{}, fmt.Errorf("%w: ports %d and %d share a block", graph.ErrInvalidEdge, p.ID, q.ID)
	}
	if c.store.IsConnected(p.ID, q.ID) {
		return graph.Connection{}, fmt.Errorf("%w: ports %d and %d are already connected", graph.ErrInvalidEdge, p.ID, q.ID)
	}

	var emitter, receiver graph.Port
	switch {
	case anchor.Side == SideOutput && target.Side != SideOutput:
		emitter, receiver = p, q
	case anchor.Side == SideInput && target.Side != SideInput:
		emitter, receiver = q, p
	case anchor.Side == SideAny && target.Side == SideOutput:
		emitter, receiver = q, p
	case anchor.Side == SideAny && target.Side == SideInput:
		emitter, receiver = p, q
	case anchor.Side == SideAny && target.Side == SideAny:
		return c.store.AddConnection(p.ID, q.ID)
	default:
		return graph.Connection{}, fmt.Errorf("%w: both ends on the %s side", graph.ErrInvalidEdge, anchor.Side)
	}

	if !emitter.CanEmit || !receiver.CanReceive {
		return graph.Connection{}, fmt.Errorf("%w: port %d cannot feed port %d", graph.ErrInvalidEdge, emitter.ID, receiver.ID)
	}
	return c.store.AddDirected(emitter.ID, receiver.ID)
}

func canAnchor(p graph.Port, side Side) bool {
	if p.Kind.Structural() {
		return false
	}
	switch side {
	case SideInput:
		return p.CanReceive
	case SideOutput:
		return p.CanEmit
	default:
		return p.CanReceive || p.CanEmit
	}
}

// ============ Selection commands ============

func (c *Controller) Selection() []Item {
	c.prune()
	return c.selection.Items()
}

// Select adds item to the selection, replacing it unless additive is set.
func (c *Controller) Select(item Item, additive bool) bool {
	if !c.exists(item) {
		return false
	}
	if !additive {
		c.selection.Clear()
	}
	c.selection.Add(item)
	return true
}

func (c *Controller) SelectAll() {
	c.selection.Clear()
	for _, item := range c.all() {
		c.selection.Add(item)
	}
}

func (c *Controller) SelectNone() {
	c.selection.Clear()
}

func (c *Controller) SelectInverse() {
	prev := c.selection
	c.selection = newSelection()
	for _, item := range c.all() {
		if !prev.Has(item) {
			c.selection.Add(item)
		}
	}
}

// DeleteSelected removes the selected connections. Blocks belong to their
// peers and stay. It returns the number of connections removed.
func (c *Controller) DeleteSelected() int {
	c.prune()
	removed := 0
	for _, item := range c.selection.Items() {
		if item.Kind != ItemConnection {
			continue
		}
		id := graph.ConnectionID(item.ID)
		conn, ok := c.store.Connection(id)
		if !ok {
			continue
		}
		c.listener.OnRemoveConnection(c.ref(conn.Emitter), c.ref(conn.Receiver))
		if _, err := c.store.RemoveConnection(id); err != nil {
			c.logger.Warn().Err(err).Uint64("connection", item.ID).Msg("Failed to remove connection")
			continue
		}
		c.selection.Remove(item)
		removed++
	}
	return removed
}

func (c *Controller) all() []Item {
	var items []Item
	for _, b := range c.store.Blocks() {
		if b.Visible {
			items = append(items, BlockItem(b.ID))
		}
	}
	for _, conn := range c.store.Connections() {
		items = append(items, ConnectionItem(conn.ID))
	}
	return items
}

func (c *Controller) exists(item Item) bool {
	switch item.Kind {
	case ItemBlock:
		_, ok := c.store.Block(graph.BlockID(item.ID))
		return ok
	case ItemConnection:
		_, ok := c.store.Connection(graph.ConnectionID(item.ID))
		return ok
	}
	return false
}

// prune forgets selected items that were removed from the store since.
func (c *Controller) prune() {
	for _, item := range c.selection.Items() {
		if !c.exists(item) {
			c.selection.Remove(item)
		}
	}
}

// ============ Value editing ============

// EditValue validates user input against the port's type hint. Valid input
// is shown locally and relayed; invalid input reverts the port to the last
// value its peer confirmed and returns an error wrapping value.ErrInvalidValue.
func (c *Controller) EditValue(port graph.PortID, input string) error {
	p, ok := c.store.Port(port)
	if !ok {
		return fmt.Errorf("port %d: %w", port, ErrNoSuchPort)
	}
	v, err := value.Parse(p.TypeHint, input)
	if err != nil {
		c.store.RevertPort(port)
		c.logger.Debug().Err(err).Uint64("port", uint64(port)).Str("input", input).Msg("Value edit rejected")
		return err
	}
	if err := c.store.SetLocalValue(port, v); err != nil {
		return err
	}
	c.listener.OnChangeValue(c.ref(port), v)
	return nil
}

func (c *Controller) ref(port graph.PortID) PortRef {
	r := PortRef{Port: port}
	p, ok := c.store.Port(port)
	if !ok {
		return r
	}
	r.Name = p.Name
	r.Block = p.Block
	if b, ok := c.store.Block(p.Block); ok {
		r.Peer = b.PeerID
	}
	return r
}
