package service

import (
	"context"
	"errors"
	"fmt"

	"patchbay/internal/api/handler/request"
	"patchbay/internal/graph"
	"patchbay/internal/interaction"
	"patchbay/internal/mirror"
	"patchbay/internal/reconcile"

	"github.com/rs/zerolog"
)

var (
	ErrPortNotFound       = errors.New("port not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionRejected = errors.New("connection rejected")
)

// MirrorService is the entry point of HTTP and websocket handlers into the
// mirrored graph. Every method runs its work on the mirror loop.
type MirrorService struct {
	loop     *mirror.Loop
	engine   *reconcile.Engine
	listener interaction.Listener
	operator *interaction.Controller
	logger   zerolog.Logger
}

func NewMirrorService(loop *mirror.Loop, engine *reconcile.Engine, listener interaction.Listener, logger zerolog.Logger) *MirrorService {
	return &MirrorService{
		loop:     loop,
		engine:   engine,
		listener: listener,
		operator: interaction.NewController(engine.Store(), listener, logger),
		logger:   logger,
	}
}

func (slf *MirrorService) Snapshot(ctx context.Context) (graph.Snapshot, error) {
	var snap graph.Snapshot
	err := slf.loop.Call(ctx, func() {
		snap = slf.engine.Store().Snapshot()
	})
	return snap, err
}

// WithSnapshot hands a snapshot to fn on the loop, so that anything fn
// queues is ordered before the events of later mutations.
func (slf *MirrorService) WithSnapshot(ctx context.Context, fn func(snap graph.Snapshot)) error {
	return slf.loop.Call(ctx, func() {
		fn(slf.engine.Store().Snapshot())
	})
}

func (slf *MirrorService) Peers(ctx context.Context) ([]reconcile.PeerInfo, error) {
	var peers []reconcile.PeerInfo
	err := slf.loop.Call(ctx, func() {
		peers = slf.engine.Peers()
	})
	return peers, err
}

// NewSession returns a controller for one interactive client.
func (slf *MirrorService) NewSession() *interaction.Controller {
	return interaction.NewController(slf.engine.Store(), slf.listener, slf.logger)
}

// Gesture runs fn against ctrl on the loop and waits for it.
func (slf *MirrorService) Gesture(ctx context.Context, ctrl *interaction.Controller, fn func(ctrl *interaction.Controller)) error {
	return slf.loop.Call(ctx, func() { fn(ctrl) })
}

// EndSession discards whatever gesture ctrl had in flight.
func (slf *MirrorService) EndSession(ctrl *interaction.Controller) {
	if err := slf.loop.TrySubmit(ctrl.Cancel); err != nil {
		slf.logger.Debug().Err(err).Msg("Session end not queued")
	}
}

// Connect performs a drag from the emitter's output to the receiver's input.
func (slf *MirrorService) Connect(ctx context.Context, dto request.ConnectDTO) (graph.Connection, error) {
	var (
		conn   graph.Connection
		result error
	)
	err := slf.loop.Call(ctx, func() {
		emitter, err := slf.resolve(dto.EmitterPeer, dto.EmitterPort)
		if err != nil {
			result = err
			return
		}
		receiver, err := slf.resolve(dto.ReceiverPeer, dto.ReceiverPort)
		if err != nil {
			result = err
			return
		}
		slf.operator.PointerDown(interaction.PortTarget(emitter.ID, interaction.SideOutput), interaction.Point{})
		c, ok := slf.operator.PointerUp(interaction.PortTarget(receiver.ID, interaction.SideInput))
		if !ok {
			result = fmt.Errorf("%w: %s@%s cannot feed %s@%s", ErrConnectionRejected, dto.EmitterPort, dto.EmitterPeer, dto.ReceiverPort, dto.ReceiverPeer)
			return
		}
		conn = c
	})
	if err != nil {
		return graph.Connection{}, err
	}
	return conn, result
}

func (slf *MirrorService) Disconnect(ctx context.Context, id graph.ConnectionID) error {
	var result error
	err := slf.loop.Call(ctx, func() {
		if !slf.operator.Select(interaction.ConnectionItem(id), false) {
			result = fmt.Errorf("connection %d: %w", id, ErrConnectionNotFound)
			return
		}
		slf.operator.DeleteSelected()
	})
	if err != nil {
		return err
	}
	return result
}

// EditValue validates input against the port type hint and relays it.
func (slf *MirrorService) EditValue(ctx context.Context, peerID string, portName string, input string) error {
	var result error
	err := slf.loop.Call(ctx, func() {
		p, err := slf.resolve(peerID, portName)
		if err != nil {
			result = err
			return
		}
		result = slf.operator.EditValue(p.ID, input)
	})
	if err != nil {
		return err
	}
	return result
}

func (slf *MirrorService) resolve(peerID string, portName string) (graph.Port, error) {
	block, ok := slf.engine.Block(peerID)
	if !ok {
		return graph.Port{}, fmt.Errorf("%w: %s", reconcile.ErrUnknownPeer, peerID)
	}
	p, ok := slf.engine.Store().PortByName(block, portName)
	if !ok || p.Kind.Structural() {
		return graph.Port{}, fmt.Errorf("%s@%s: %w", portName, peerID, ErrPortNotFound)
	}
	return p, nil
}
