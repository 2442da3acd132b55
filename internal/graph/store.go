// Package graph holds the blocks, ports and connections of the mirrored
// network. Entities live in an arena and refer to each other by id, so a
// connection never owns its ports and removing a block only has to walk the
// indexes.
package graph

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNotFound    = errors.New("graph: not found")
	ErrInvalidEdge = errors.New("graph: invalid edge")
)

type edgeKey struct {
	emitter  PortID
	receiver PortID
}

// Store is not safe for concurrent use. It is owned by the mirror loop.
type Store struct {
	blocks      map[BlockID]*Block
	ports       map[PortID]*Port
	connections map[ConnectionID]*Connection

	// port -> connections touching it
	portConnections map[PortID]map[ConnectionID]struct{}
	edges           map[edgeKey]ConnectionID

	nextID   uint64
	notifier Notifier
}

func NewStore(notifier Notifier) *Store {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Store{
		blocks:          make(map[BlockID]*Block),
		ports:           make(map[PortID]*Port),
		connections:     make(map[ConnectionID]*Connection),
		portConnections: make(map[PortID]map[ConnectionID]struct{}),
		edges:           make(map[edgeKey]ConnectionID),
		notifier:        notifier,
	}
}

func (slf *Store) id() uint64 {
	slf.nextID++
	return slf.nextID
}

// ============ Blocks ============

// AddBlock creates a hidden block. peerID is empty for purely local blocks.
func (slf *Store) AddBlock(peerID string, name string) Block {
	b := &Block{
		ID:     BlockID(slf.id()),
		PeerID: peerID,
		Name:   name,
		Meta:   make(map[string]any),
	}
	slf.blocks[b.ID] = b
	slf.notifyBlock(EventBlockAdded, b)
	return copyBlock(b)
}

// RemoveBlock deletes the block, its ports and every connection touching
// them. The removed connections are returned in id order.
func (slf *Store) RemoveBlock(id BlockID) ([]Connection, error) {
	b, ok := slf.blocks[id]
	if !ok {
		return nil, fmt.Errorf("block %d: %w", id, ErrNotFound)
	}

	var removed []Connection
	for _, pid := range b.Ports {
		for _, cid := range slf.sortedConnectionIDs(pid) {
			removed = append(removed, slf.removeConnection(cid))
		}
	}
	for _, pid := range b.Ports {
		p := slf.ports[pid]
		delete(slf.ports, pid)
		delete(slf.portConnections, pid)
		slf.notifyPort(EventPortRemoved, p)
	}
	delete(slf.blocks, id)
	slf.notifyBlock(EventBlockRemoved, b)
	return removed, nil
}

func (slf *Store) Block(id BlockID) (Block, bool) {
	b, ok := slf.blocks[id]
	if !ok {
		return Block{}, false
	}
	return copyBlock(b), true
}

// Blocks returns all blocks ordered by id.
func (slf *Store) Blocks() []Block {
	ids := make([]BlockID, 0, len(slf.blocks))
	for id := range slf.blocks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Block, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyBlock(slf.blocks[id]))
	}
	return out
}

// SetBlockPosition moves a block. It never triggers outbound notifications,
// only a block_changed event for local observers.
func (slf *Store) SetBlockPosition(id BlockID, x, y float64) error {
	b, ok := slf.blocks[id]
	if !ok {
		return fmt.Errorf("block %d: %w", id, ErrNotFound)
	}
	if b.X == x && b.Y == y {
		return nil
	}
	b.X, b.Y = x, y
	slf.notifyBlock(EventBlockChanged, b)
	return nil
}

func (slf *Store) SetBlockMeta(id BlockID, key string, value any) error {
	b, ok := slf.blocks[id]
	if !ok {
		return fmt.Errorf("block %d: %w", id, ErrNotFound)
	}
	b.Meta[key] = value
	slf.notifyBlock(EventBlockChanged, b)
	return nil
}

// RefreshVisibility shows the block once it owns a non-header port.
// It reports the resulting visibility.
func (slf *Store) RefreshVisibility(id BlockID) (bool, error) {
	b, ok := slf.blocks[id]
	if !ok {
		return false, fmt.Errorf("block %d: %w", id, ErrNotFound)
	}
	visible := false
	for _, pid := range b.Ports {
		if !slf.ports[pid].Kind.Structural() {
			visible = true
			break
		}
	}
	if visible != b.Visible {
		b.Visible = visible
		slf.notifyBlock(EventBlockChanged, b)
	}
	return visible, nil
}

// ============ Ports ============

// AddPort appends a port to the block. Data port names are unique per
// block; header ports take the peer's name and never collide with them.
func (slf *Store) AddPort(block BlockID, name string, canReceive bool, canEmit bool, kind PortKind) (Port, error) {
	b, ok := slf.blocks[block]
	if !ok {
		return Port{}, fmt.Errorf("block %d: %w", block, ErrNotFound)
	}
	if _, exists := slf.portByName(b, name); exists && !kind.Structural() {
		return Port{}, fmt.Errorf("port %q already exists on block %d", name, block)
	}

	p := &Port{
		ID:    PortID(slf.id()),
		Block: block,
		Name:  name,
		Kind:  kind,
	}
	if !kind.Structural() {
		p.CanReceive = canReceive
		p.CanEmit = canEmit
	}
	slf.ports[p.ID] = p
	b.Ports = append(b.Ports, p.ID)
	slf.notifyPort(EventPortAdded, p)
	return *p, nil
}

// RemovePort deletes the port and its connections.
func (slf *Store) RemovePort(id PortID) ([]Connection, error) {
	p, ok := slf.ports[id]
	if !ok {
		return nil, fmt.Errorf("port %d: %w", id, ErrNotFound)
	}

	var removed []Connection
	for _, cid := range slf.sortedConnectionIDs(id) {
		removed = append(removed, slf.removeConnection(cid))
	}
	b := slf.blocks[p.Block]
	b.Ports = slices.DeleteFunc(b.Ports, func(pid PortID) bool { return pid == id })
	delete(slf.ports, id)
	delete(slf.portConnections, id)
	slf.notifyPort(EventPortRemoved, p)
	return removed, nil
}

func (slf *Store) Port(id PortID) (Port, bool) {
	p, ok := slf.ports[id]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// PortByName finds a data port. Header ports are not addressable by name.
func (slf *Store) PortByName(block BlockID, name string) (Port, bool) {
	b, ok := slf.blocks[block]
	if !ok {
		return Port{}, false
	}
	p, ok := slf.portByName(b, name)
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// Ports returns the ports of a block in display order.
func (slf *Store) Ports(block BlockID) []Port {
	b, ok := slf.blocks[block]
	if !ok {
		return nil
	}
	out := make([]Port, 0, len(b.Ports))
	for _, pid := range b.Ports {
		out = append(out, *slf.ports[pid])
	}
	return out
}

// SetPortValue records a value reported by the owning peer.
func (slf *Store) SetPortValue(id PortID, value any) error {
	p, ok := slf.ports[id]
	if !ok {
		return fmt.Errorf("port %d: %w", id, ErrNotFound)
	}
	p.Value = value
	p.Confirmed = value
	slf.notifyPort(EventPortChanged, p)
	return nil
}

// SetLocalValue shows a locally edited value without confirming it.
func (slf *Store) SetLocalValue(id PortID, value any) error {
	p, ok := slf.ports[id]
	if !ok {
		return fmt.Errorf("port %d: %w", id, ErrNotFound)
	}
	p.Value = value
	slf.notifyPort(EventPortChanged, p)
	return nil
}

// RevertPort puts back the last confirmed value and re-emits port_changed
// so observers redraw it.
func (slf *Store) RevertPort(id PortID) {
	if p, ok := slf.ports[id]; ok {
		p.Value = p.Confirmed
		slf.notifyPort(EventPortChanged, p)
	}
}

// SetPortAccess changes capabilities in place. Existing connections are
// left untouched.
func (slf *Store) SetPortAccess(id PortID, access string, canReceive bool, canEmit bool) error {
	p, ok := slf.ports[id]
	if !ok {
		return fmt.Errorf("port %d: %w", id, ErrNotFound)
	}
	if p.Kind.Structural() {
		return nil
	}
	p.Access = access
	p.CanReceive = canReceive
	p.CanEmit = canEmit
	slf.notifyPort(EventPortChanged, p)
	return nil
}

func (slf *Store) SetPortTypeHint(id PortID, hint string) error {
	p, ok := slf.ports[id]
	if !ok {
		return fmt.Errorf("port %d: %w", id, ErrNotFound)
	}
	p.TypeHint = hint
	return nil
}

// ============ Connections ============

// AddConnection connects two ports and works out the direction from their
// capabilities. Exactly one orientation must be possible.
func (slf *Store) AddConnection(a PortID, b PortID) (Connection, error) {
	pa, ok := slf.ports[a]
	if !ok {
		return Connection{}, fmt.Errorf("port %d: %w", a, ErrNotFound)
	}
	pb, ok := slf.ports[b]
	if !ok {
		return Connection{}, fmt.Errorf("port %d: %w", b, ErrNotFound)
	}

	forward := pa.CanEmit && pb.CanReceive
	backward := pb.CanEmit && pa.CanReceive
	switch {
	case forward && !backward:
		return slf.AddDirected(a, b)
	case backward && !forward:
		return slf.AddDirected(b, a)
	case forward && backward:
		return Connection{}, fmt.Errorf("%w: direction between ports %d and %d is ambiguous", ErrInvalidEdge, a, b)
	default:
		return Connection{}, fmt.Errorf("%w: ports %d and %d have no compatible capabilities", ErrInvalidEdge, a, b)
	}
}

// AddDirected connects emitter to receiver. Only structural invariants are
// checked: distinct blocks, no header ports, no duplicate edge.
func (slf *Store) AddDirected(emitter PortID, receiver PortID) (Connection, error) {
	pe, ok := slf.ports[emitter]
	if !ok {
		return Connection{}, fmt.Errorf("port %d: %w", emitter, ErrNotFound)
	}
	pr, ok := slf.ports[receiver]
	if !ok {
		return Connection{}, fmt.Errorf("port %d: %w", receiver, ErrNotFound)
	}
	if pe.Block == pr.Block {
		return Connection{}, fmt.Errorf("%w: ports %d and %d share block %d", ErrInvalidEdge, emitter, receiver, pe.Block)
	}
	if pe.Kind.Structural() || pr.Kind.Structural() {
		return Connection{}, fmt.Errorf("%w: header ports cannot be connected", ErrInvalidEdge)
	}
	key := edgeKey{emitter: emitter, receiver: receiver}
	if _, exists := slf.edges[key]; exists {
		return Connection{}, fmt.Errorf("%w: ports %d and %d are already connected", ErrInvalidEdge, emitter, receiver)
	}

	c := &Connection{
		ID:       ConnectionID(slf.id()),
		Emitter:  emitter,
		Receiver: receiver,
	}
	slf.connections[c.ID] = c
	slf.edges[key] = c.ID
	slf.link(emitter, c.ID)
	slf.link(receiver, c.ID)
	slf.notifyConnection(EventConnectionAdded, c)
	return *c, nil
}

func (slf *Store) RemoveConnection(id ConnectionID) (Connection, error) {
	if _, ok := slf.connections[id]; !ok {
		return Connection{}, fmt.Errorf("connection %d: %w", id, ErrNotFound)
	}
	return slf.removeConnection(id), nil
}

func (slf *Store) Connection(id ConnectionID) (Connection, bool) {
	c, ok := slf.connections[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Edge returns the connection from emitter to receiver, if any.
func (slf *Store) Edge(emitter PortID, receiver PortID) (Connection, bool) {
	id, ok := slf.edges[edgeKey{emitter: emitter, receiver: receiver}]
	if !ok {
		return Connection{}, false
	}
	return *slf.connections[id], true
}

// ConnectionsOf returns the connections touching port, ordered by id.
func (slf *Store) ConnectionsOf(port PortID) []Connection {
	ids := slf.sortedConnectionIDs(port)
	out := make([]Connection, 0, len(ids))
	for _, id := range ids {
		out = append(out, *slf.connections[id])
	}
	return out
}

// IsConnected reports whether a connection exists between a and b in
// either direction.
func (slf *Store) IsConnected(a PortID, b PortID) bool {
	_, forward := slf.edges[edgeKey{emitter: a, receiver: b}]
	_, backward := slf.edges[edgeKey{emitter: b, receiver: a}]
	return forward || backward
}

func (slf *Store) Connections() []Connection {
	ids := make([]ConnectionID, 0, len(slf.connections))
	for id := range slf.connections {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Connection, 0, len(ids))
	for _, id := range ids {
		out = append(out, *slf.connections[id])
	}
	return out
}

func (slf *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Blocks:      slf.Blocks(),
		Connections: slf.Connections(),
	}
	for _, b := range snap.Blocks {
		snap.Ports = append(snap.Ports, slf.Ports(b.ID)...)
	}
	return snap
}

// ============ internals ============

func (slf *Store) removeConnection(id ConnectionID) Connection {
	c := slf.connections[id]
	delete(slf.connections, id)
	delete(slf.edges, edgeKey{emitter: c.Emitter, receiver: c.Receiver})
	slf.unlink(c.Emitter, id)
	slf.unlink(c.Receiver, id)
	slf.notifyConnection(EventConnectionRemoved, c)
	return *c
}

func (slf *Store) link(port PortID, id ConnectionID) {
	set, ok := slf.portConnections[port]
	if !ok {
		set = make(map[ConnectionID]struct{})
		slf.portConnections[port] = set
	}
	set[id] = struct{}{}
}

func (slf *Store) unlink(port PortID, id ConnectionID) {
	if set, ok := slf.portConnections[port]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(slf.portConnections, port)
		}
	}
}

func (slf *Store) sortedConnectionIDs(port PortID) []ConnectionID {
	set := slf.portConnections[port]
	ids := make([]ConnectionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (slf *Store) portByName(b *Block, name string) (*Port, bool) {
	for _, pid := range b.Ports {
		if p := slf.ports[pid]; p.Name == name && !p.Kind.Structural() {
			return p, true
		}
	}
	return nil, false
}

func (slf *Store) notifyBlock(t EventType, b *Block) {
	c := copyBlock(b)
	slf.notifier.Notify(Event{Type: t, Block: &c})
}

func (slf *Store) notifyPort(t EventType, p *Port) {
	c := *p
	slf.notifier.Notify(Event{Type: t, Port: &c})
}

func (slf *Store) notifyConnection(t EventType, conn *Connection) {
	c := *conn
	slf.notifier.Notify(Event{Type: t, Connection: &c})
}

func copyBlock(b *Block) Block {
	c := *b
	c.Ports = slices.Clone(b.Ports)
	c.Meta = make(map[string]any, len(b.Meta))
	for k, v := range b.Meta {
		c.Meta[k] = v
	}
	return c
}
