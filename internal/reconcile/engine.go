// Package reconcile keeps the graph store in line with what remote peers
// announce. Peer lifecycle events create and destroy blocks, port updates
// create and update ports, and every announced subscriber list is treated
// as the authority for the connections leaving that port.
package reconcile

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"patchbay/internal/graph"
	"patchbay/internal/peer"

	"github.com/rs/zerolog"
)

var ErrUnknownPeer = errors.New("unknown peer")

type PeerState int

const (
	PeerUnknown PeerState = iota
	PeerEntered
	PeerExited
)

func (s PeerState) String() string {
	switch s {
	case PeerEntered:
		return "entered"
	case PeerExited:
		return "exited"
	default:
		return "unknown"
	}
}

// pendingEntry is a subscriber reference to a port that does not exist yet.
// It is stored on the record of the peer that should own the port.
type pendingEntry struct {
	emitter graph.PortID
	port    string
	since   time.Time
}

// peerRecord is everything the engine knows about one peer id. Records in
// the Unknown state only exist to hold pending entries.
type peerRecord struct {
	id         string
	name       string
	state      PeerState
	block      graph.BlockID
	ports      map[string]graph.PortID
	pending    []pendingEntry
	positioned bool
}

type Options struct {
	// PendingTTL bounds how long an entry may wait for a peer that never
	// entered. Zero keeps such entries forever.
	PendingTTL time.Duration
	Clock      func() time.Time
}

// Engine is not safe for concurrent use; run it on the mirror loop.
type Engine struct {
	store      *graph.Store
	peers      map[string]*peerRecord
	pendingTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewEngine(store *graph.Store, logger zerolog.Logger, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:      store,
		peers:      make(map[string]*peerRecord),
		pendingTTL: opts.PendingTTL,
		now:        clock,
		logger:     logger,
	}
}

func (slf *Engine) Store() *graph.Store {
	return slf.store
}

// ============ Peer lifecycle ============

// PeerEnter creates a hidden block holding a single name header.
func (slf *Engine) PeerEnter(id string, name string) error {
	rec := slf.peers[id]
	if rec != nil {
		switch rec.state {
		case PeerEntered:
			slf.logger.Debug().Str("peer", id).Msg("Duplicate peer enter ignored")
			return nil
		case PeerExited:
			return fmt.Errorf("%w: peer %s already exited", ErrUnknownPeer, id)
		}
	} else {
		rec = &peerRecord{id: id}
		slf.peers[id] = rec
	}

	block := slf.store.AddBlock(id, name)
	if _, err := slf.store.AddPort(block.ID, name, false, false, graph.PortName); err != nil {
		_, _ = slf.store.RemoveBlock(block.ID)
		return fmt.Errorf("failed to add header for peer %s: %w", id, err)
	}
	rec.name = name
	rec.state = PeerEntered
	rec.block = block.ID
	rec.ports = make(map[string]graph.PortID)

	slf.logger.Info().Str("peer", id).Str("name", name).Msg("Peer entered")
	return nil
}

// PeerExit destroys the peer's block with its ports and connections. Pending
// entries emitted from that block, and entries waiting on this peer, are
// dropped: an exited peer never comes back.
func (slf *Engine) PeerExit(id string, name string) error {
	rec, err := slf.entered(id)
	if err != nil {
		return err
	}

	removed, err := slf.store.RemoveBlock(rec.block)
	if err != nil {
		return fmt.Errorf("failed to remove block of peer %s: %w", id, err)
	}

	dropped := len(rec.pending)
	rec.pending = nil
	for _, other := range slf.peers {
		dropped += slf.dropDangling(other)
	}

	rec.state = PeerExited
	rec.block = 0
	rec.ports = nil

	slf.logger.Info().
		Str("peer", id).
		Str("name", name).
		Int("connections", len(removed)).
		Int("pendingDropped", dropped).
		Msg("Peer exited")
	return nil
}

// PeerModified applies port updates in the order given, then resolves the
// pending entries waiting on this peer.
func (slf *Engine) PeerModified(id string, name string, updates peer.PortUpdates) error {
	rec, err := slf.entered(id)
	if err != nil {
		return err
	}

	for _, update := range updates {
		slf.applyUpdate(rec, update)
	}

	if _, err := slf.store.RefreshVisibility(rec.block); err != nil {
		return err
	}
	slf.resolvePending(rec)
	return nil
}

// PeerSignaled only refreshes the displayed value of a known port.
func (slf *Engine) PeerSignaled(id string, name string, signal peer.Signal) error {
	rec, err := slf.entered(id)
	if err != nil {
		return err
	}
	pid, ok := rec.ports[signal.Port]
	if !ok {
		slf.logger.Debug().Str("peer", id).Str("port", signal.Port).Msg("Signal for unknown port ignored")
		return nil
	}
	return slf.store.SetPortValue(pid, signal.Value)
}

// RestorePosition places a block at a remembered position unless the peer
// already announced one.
func (slf *Engine) RestorePosition(id string, x float64, y float64) {
	rec, err := slf.entered(id)
	if err != nil || rec.positioned {
		return
	}
	if err := slf.store.SetBlockPosition(rec.block, x, y); err != nil {
		slf.logger.Warn().Err(err).Str("peer", id).Msg("Failed to restore block position")
	}
}

func (slf *Engine) entered(id string) (*peerRecord, error) {
	rec := slf.peers[id]
	if rec == nil || rec.state != PeerEntered {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return rec, nil
}

// ============ Port updates ============

func (slf *Engine) applyUpdate(rec *peerRecord, update peer.PortUpdate) {
	data := update.Data
	pid, exists := rec.ports[update.Name]

	if !exists {
		if !data.HasAccess() {
			slf.applyMetadata(rec, update.Name, data)
			return
		}
		port, err := slf.store.AddPort(rec.block, update.Name, data.CanReceive(), data.CanEmit(), graph.PortData)
		if err != nil {
			slf.logger.Warn().Err(err).Str("peer", rec.id).Str("port", update.Name).Msg("Failed to add port")
			return
		}
		pid = port.ID
		rec.ports[update.Name] = pid
	}

	if data.HasAccess() {
		_ = slf.store.SetPortAccess(pid, *data.Access, data.CanReceive(), data.CanEmit())
	}
	if data.TypeHint != "" {
		_ = slf.store.SetPortTypeHint(pid, data.TypeHint)
	}
	if data.HasValue {
		_ = slf.store.SetPortValue(pid, data.Value)
	}
	if data.HasSubscribers {
		slf.diff(pid, data.Subscribers)
	}
}

func (slf *Engine) applyMetadata(rec *peerRecord, key string, data peer.PortData) {
	if key != peer.MetaPosition {
		_ = slf.store.SetBlockMeta(rec.block, key, data.Raw)
		return
	}
	x, y, ok := position(data.Raw)
	if !ok {
		slf.logger.Warn().Str("peer", rec.id).Interface("value", data.Raw).Msg("Malformed position hint")
		return
	}
	rec.positioned = true
	_ = slf.store.SetBlockPosition(rec.block, x, y)
}

func position(raw any) (float64, float64, bool) {
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, false
	}
	x, okX := pair[0].(float64)
	y, okY := pair[1].(float64)
	return x, y, okX && okY
}

// ============ Subscriber diff ============

// diff makes the connections leaving emitter match subs exactly. References
// to ports that are not known yet are queued on the target peer.
func (slf *Engine) diff(emitter graph.PortID, subs []peer.SubscriberRef) {
	want := make(map[peer.SubscriberRef]struct{}, len(subs))
	for _, ref := range subs {
		want[ref] = struct{}{}
	}

	for _, c := range slf.store.ConnectionsOf(emitter) {
		if c.Emitter != emitter {
			continue
		}
		if _, keep := want[slf.refOf(c.Receiver)]; keep {
			continue
		}
		if _, err := slf.store.RemoveConnection(c.ID); err == nil {
			slf.logger.Debug().Uint64("emitter", uint64(emitter)).Uint64("receiver", uint64(c.Receiver)).Msg("Connection no longer subscribed")
		}
	}

	for _, rec := range slf.peers {
		rec.pending = slices.DeleteFunc(rec.pending, func(e pendingEntry) bool {
			if e.emitter != emitter {
				return false
			}
			_, keep := want[peer.SubscriberRef{Peer: rec.id, Port: e.port}]
			return !keep
		})
	}

	seen := make(map[peer.SubscriberRef]struct{}, len(subs))
	for _, ref := range subs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		slf.subscribe(emitter, ref)
	}
}

func (slf *Engine) subscribe(emitter graph.PortID, ref peer.SubscriberRef) {
	target := slf.peers[ref.Peer]
	if target != nil && target.state == PeerExited {
		slf.logger.Debug().Str("peer", ref.Peer).Str("port", ref.Port).Msg("Subscriber on exited peer ignored")
		return
	}
	if target != nil && target.state == PeerEntered {
		if receiver, ok := target.ports[ref.Port]; ok {
			slf.connect(emitter, receiver)
			return
		}
	}
	slf.enqueue(ref.Peer, emitter, ref.Port)
}

// connect mirrors one subscription. Edges are directed: b.y -> a.x is its own
// subscription even when a.x -> b.y exists.
func (slf *Engine) connect(emitter graph.PortID, receiver graph.PortID) {
	if _, exists := slf.store.Edge(emitter, receiver); exists {
		return
	}
	if _, err := slf.store.AddDirected(emitter, receiver); err != nil {
		slf.logger.Warn().Err(err).
			Uint64("emitter", uint64(emitter)).
			Uint64("receiver", uint64(receiver)).
			Msg("Subscriber rejected")
	}
}

// refOf names a port the way subscriber lists do.
func (slf *Engine) refOf(port graph.PortID) peer.SubscriberRef {
	p, ok := slf.store.Port(port)
	if !ok {
		return peer.SubscriberRef{}
	}
	b, ok := slf.store.Block(p.Block)
	if !ok {
		return peer.SubscriberRef{}
	}
	return peer.SubscriberRef{Peer: b.PeerID, Port: p.Name}
}

// ============ Pending entries ============

func (slf *Engine) enqueue(peerID string, emitter graph.PortID, port string) {
	rec := slf.peers[peerID]
	if rec == nil {
		rec = &peerRecord{id: peerID}
		slf.peers[peerID] = rec
	}
	for _, e := range rec.pending {
		if e.emitter == emitter && e.port == port {
			return
		}
	}
	rec.pending = append(rec.pending, pendingEntry{emitter: emitter, port: port, since: slf.now()})
	slf.logger.Debug().Str("peer", peerID).Str("port", port).Msg("Subscriber queued until port is announced")
}

func (slf *Engine) resolvePending(rec *peerRecord) {
	if len(rec.pending) == 0 {
		return
	}
	rec.pending = slices.DeleteFunc(rec.pending, func(e pendingEntry) bool {
		if _, ok := slf.store.Port(e.emitter); !ok {
			return true
		}
		receiver, ok := rec.ports[e.port]
		if !ok {
			return false
		}
		slf.connect(e.emitter, receiver)
		return true
	})
}

// dropDangling removes entries whose emitting port is gone.
func (slf *Engine) dropDangling(rec *peerRecord) int {
	before := len(rec.pending)
	rec.pending = slices.DeleteFunc(rec.pending, func(e pendingEntry) bool {
		_, ok := slf.store.Port(e.emitter)
		return !ok
	})
	return before - len(rec.pending)
}

// Sweep drops entries that waited longer than the TTL for a peer that never
// entered, and forgets records left empty. It returns the number dropped.
func (slf *Engine) Sweep() int {
	if slf.pendingTTL <= 0 {
		return 0
	}
	cutoff := slf.now().Add(-slf.pendingTTL)
	dropped := 0
	for id, rec := range slf.peers {
		if rec.state != PeerUnknown {
			continue
		}
		before := len(rec.pending)
		rec.pending = slices.DeleteFunc(rec.pending, func(e pendingEntry) bool {
			return e.since.Before(cutoff)
		})
		dropped += before - len(rec.pending)
		if len(rec.pending) == 0 {
			delete(slf.peers, id)
		}
	}
	if dropped > 0 {
		slf.logger.Info().Int("dropped", dropped).Msg("Expired pending subscribers")
	}
	return dropped
}

// ============ Queries ============

type PeerInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	State   string        `json:"state"`
	Block   graph.BlockID `json:"block,omitempty"`
	Ports   int           `json:"ports"`
	Pending int           `json:"pending"`
}

// Peers lists every known peer record ordered by id.
func (slf *Engine) Peers() []PeerInfo {
	out := make([]PeerInfo, 0, len(slf.peers))
	for _, rec := range slf.peers {
		out = append(out, PeerInfo{
			ID:      rec.id,
			Name:    rec.name,
			State:   rec.state.String(),
			Block:   rec.block,
			Ports:   len(rec.ports),
			Pending: len(rec.pending),
		})
	}
	slices.SortFunc(out, func(a, b PeerInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (slf *Engine) State(id string) PeerState {
	if rec := slf.peers[id]; rec != nil {
		return rec.state
	}
	return PeerUnknown
}

// Block returns the block of an entered peer.
func (slf *Engine) Block(id string) (graph.BlockID, bool) {
	rec := slf.peers[id]
	if rec == nil || rec.state != PeerEntered {
		return 0, false
	}
	return rec.block, true
}

// PendingCount counts entries waiting on peerID, or on all peers when
// peerID is empty.
func (slf *Engine) PendingCount(peerID string) int {
	if peerID != "" {
		if rec := slf.peers[peerID]; rec != nil {
			return len(rec.pending)
		}
		return 0
	}
	n := 0
	for _, rec := range slf.peers {
		n += len(rec.pending)
	}
	return n
}
