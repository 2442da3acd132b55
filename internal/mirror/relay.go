package mirror

import (
	"context"
	"sync"
	"time"

	"patchbay/internal/graph"
	"patchbay/internal/interaction"
	"patchbay/internal/peer"

	"github.com/rs/zerolog"
)

const relayTimeout = 5 * time.Second

// Request is one outbound call as recorded in the journal.
type Request struct {
	Action  string
	Peer    string
	Payload any
	Err     error
	At      time.Time
}

type Journal interface {
	Record(ctx context.Context, req Request) error
}

// Relay turns controller notifications into peer requests. Every call is
// dispatched on its own goroutine so the loop never waits on the network.
type Relay struct {
	publisher peer.Publisher
	positions PositionStore
	journal   Journal
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

var _ interaction.Listener = (*Relay)(nil)

// NewRelay builds a relay. positions and journal may be nil.
func NewRelay(publisher peer.Publisher, positions PositionStore, journal Journal, logger zerolog.Logger) *Relay {
	return &Relay{
		publisher: publisher,
		positions: positions,
		journal:   journal,
		logger:    logger,
	}
}

func subscription(emitter interaction.PortRef, receiver interaction.PortRef) peer.Subscription {
	return peer.Subscription{
		ReceiverPeer: receiver.Peer,
		ReceiverPort: receiver.Name,
		EmitterPeer:  emitter.Peer,
		EmitterPort:  emitter.Name,
	}
}

func (r *Relay) OnAddConnection(emitter interaction.PortRef, receiver interaction.PortRef) {
	if emitter.Peer == "" || receiver.Peer == "" {
		return
	}
	sub := subscription(emitter, receiver)
	r.dispatch(peer.ActionSubscribe, sub.ReceiverPeer, sub, func() error {
		return r.publisher.Subscribe(sub)
	})
}

func (r *Relay) OnRemoveConnection(emitter interaction.PortRef, receiver interaction.PortRef) {
	if emitter.Peer == "" || receiver.Peer == "" {
		return
	}
	sub := subscription(emitter, receiver)
	r.dispatch(peer.ActionUnsubscribe, sub.ReceiverPeer, sub, func() error {
		return r.publisher.Unsubscribe(sub)
	})
}

func (r *Relay) OnBlockMoved(block graph.Block) {
	if block.PeerID == "" {
		return
	}
	state := map[string]any{peer.MetaPosition: []float64{block.X, block.Y}}
	r.dispatch(peer.ActionSet, block.PeerID, state, func() error {
		return r.publisher.SetPeerState(block.PeerID, state)
	})

	if r.positions == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		if err := r.positions.SavePosition(ctx, block.Name, block.X, block.Y); err != nil {
			r.logger.Warn().Err(err).Str("peer", block.PeerID).Msg("Failed to remember block position")
		}
	}()
}

func (r *Relay) OnChangeValue(port interaction.PortRef, value any) {
	if port.Peer == "" {
		return
	}
	state := map[string]any{port.Name: value}
	r.dispatch(peer.ActionSet, port.Peer, state, func() error {
		return r.publisher.SetPeerState(port.Peer, state)
	})
}

func (r *Relay) dispatch(action string, peerID string, payload any, call func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := call()
		if err != nil {
			r.logger.Error().Err(err).Str("action", action).Str("peer", peerID).Msg("Peer request failed")
		} else {
			r.logger.Debug().Str("action", action).Str("peer", peerID).Msg("Peer request sent")
		}

		if r.journal == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		req := Request{Action: action, Peer: peerID, Payload: payload, Err: err, At: time.Now()}
		if jerr := r.journal.Record(ctx, req); jerr != nil {
			r.logger.Warn().Err(jerr).Str("action", action).Msg("Failed to journal peer request")
		}
	}()
}

// Wait blocks until every dispatched request has completed.
func (r *Relay) Wait() {
	r.wg.Wait()
}
