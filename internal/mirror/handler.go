package mirror

import (
	"context"
	"errors"
	"time"

	"patchbay/internal/peer"
	"patchbay/internal/reconcile"

	"github.com/rs/zerolog"
)

const restoreTimeout = 2 * time.Second

// PositionStore remembers where blocks were placed, keyed by peer name so a
// position survives the peer coming back under a new id.
type PositionStore interface {
	SavePosition(ctx context.Context, peerName string, x float64, y float64) error
	LoadPosition(ctx context.Context, peerName string) (x float64, y float64, found bool, err error)
}

// Handler feeds peer events to the engine through the loop. It implements
// peer.Handler and is safe to call from transport goroutines.
type Handler struct {
	ctx       context.Context
	loop      *Loop
	engine    *reconcile.Engine
	positions PositionStore
	logger    zerolog.Logger
}

var _ peer.Handler = (*Handler)(nil)

// NewHandler binds event delivery to ctx. positions may be nil.
func NewHandler(ctx context.Context, loop *Loop, engine *reconcile.Engine, positions PositionStore, logger zerolog.Logger) *Handler {
	return &Handler{
		ctx:       ctx,
		loop:      loop,
		engine:    engine,
		positions: positions,
		logger:    logger,
	}
}

func (h *Handler) PeerEnter(id string, name string) error {
	return h.loop.Submit(h.ctx, func() {
		if err := h.engine.PeerEnter(id, name); err != nil {
			h.reject("enter", id, err)
			return
		}
		if h.positions != nil {
			go h.restore(id, name)
		}
	})
}

func (h *Handler) PeerExit(id string, name string) error {
	return h.loop.Submit(h.ctx, func() {
		if err := h.engine.PeerExit(id, name); err != nil {
			h.reject("exit", id, err)
		}
	})
}

func (h *Handler) PeerModified(id string, name string, updates peer.PortUpdates) error {
	return h.loop.Submit(h.ctx, func() {
		if err := h.engine.PeerModified(id, name, updates); err != nil {
			h.reject("modified", id, err)
		}
	})
}

func (h *Handler) PeerSignaled(id string, name string, signal peer.Signal) error {
	return h.loop.Submit(h.ctx, func() {
		if err := h.engine.PeerSignaled(id, name, signal); err != nil {
			h.reject("signaled", id, err)
		}
	})
}

func (h *Handler) reject(event string, id string, err error) {
	level := h.logger.Warn()
	if errors.Is(err, reconcile.ErrUnknownPeer) {
		level = h.logger.Debug()
	}
	level.Err(err).Str("event", event).Str("peer", id).Msg("Peer event dropped")
}

// restore runs off the loop: the lookup may hit the network.
func (h *Handler) restore(id string, name string) {
	ctx, cancel := context.WithTimeout(h.ctx, restoreTimeout)
	defer cancel()

	x, y, found, err := h.positions.LoadPosition(ctx, name)
	if err != nil {
		h.logger.Warn().Err(err).Str("peer", id).Msg("Failed to load remembered position")
		return
	}
	if !found {
		return
	}
	if err := h.loop.Submit(ctx, func() { h.engine.RestorePosition(id, x, y) }); err != nil {
		h.logger.Debug().Err(err).Str("peer", id).Msg("Position restore skipped")
	}
}
