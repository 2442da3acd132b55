package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"patchbay/internal/api/service"
	"patchbay/internal/graph"
	"patchbay/internal/interaction"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var (
	ErrUnsupportedMessage = errors.New("unsupported message type")
	ErrUnknownItem        = errors.New("unknown selection item")
)

var validate = validator.New()

// MessageProcessor turns client messages into gestures on the mirror loop.
type MessageProcessor struct {
	mirror *service.MirrorService
	logger zerolog.Logger
}

func NewMessageProcessor(mirror *service.MirrorService, logger zerolog.Logger) *MessageProcessor {
	return &MessageProcessor{
		mirror: mirror,
		logger: logger,
	}
}

// Join sends the initial snapshot to a freshly registered client.
func (p *MessageProcessor) Join(ctx context.Context, c *Client) error {
	return p.mirror.WithSnapshot(ctx, func(snap graph.Snapshot) {
		c.Hub.SendTo(c, NewSnapshotMessage(snap))
	})
}

// Leave drops whatever gesture the client had in flight.
func (p *MessageProcessor) Leave(c *Client) {
	p.mirror.EndSession(c.Controller)
}

// ProcessMessage applies one gesture and returns the reply for the sender.
// Graph changes reach every client through the hub, not through the reply.
func (p *MessageProcessor) ProcessMessage(ctx context.Context, c *Client, msg *Message) (*Message, error) {
	var (
		ack     GestureAck
		gesture func(ctrl *interaction.Controller) error
	)

	switch msg.Type {
	case MessageTypePointerDown, MessageTypePointerMove, MessageTypePointerUp:
		var data PointerPayload
		if err := p.validateData(msg, &data); err != nil {
			return nil, err
		}
		gesture = func(ctrl *interaction.Controller) error {
			switch msg.Type {
			case MessageTypePointerDown:
				ctrl.PointerDown(data.Target.toTarget(), data.At)
			case MessageTypePointerMove:
				ctrl.PointerMove(data.At)
			default:
				if conn, ok := ctrl.PointerUp(data.Target.toTarget()); ok {
					dto := graphMapper.ConnectionToResponse(conn)
					ack.Connection = &dto
				}
			}
			return nil
		}

	case MessageTypeCancel:
		gesture = func(ctrl *interaction.Controller) error {
			ctrl.Cancel()
			return nil
		}

	case MessageTypeSelect:
		var data SelectPayload
		if err := p.validateData(msg, &data); err != nil {
			return nil, err
		}
		gesture = func(ctrl *interaction.Controller) error {
			if !ctrl.Select(data.Item, data.Additive) {
				return fmt.Errorf("%w: %s %d", ErrUnknownItem, data.Item.Kind, data.Item.ID)
			}
			return nil
		}

	case MessageTypeSelectAll, MessageTypeSelectNone, MessageTypeSelectInverse:
		gesture = func(ctrl *interaction.Controller) error {
			switch msg.Type {
			case MessageTypeSelectAll:
				ctrl.SelectAll()
			case MessageTypeSelectNone:
				ctrl.SelectNone()
			default:
				ctrl.SelectInverse()
			}
			return nil
		}

	case MessageTypeDelete:
		gesture = func(ctrl *interaction.Controller) error {
			ack.Deleted = ctrl.DeleteSelected()
			return nil
		}

	case MessageTypeEditValue:
		var data EditValuePayload
		if err := p.validateData(msg, &data); err != nil {
			return nil, err
		}
		gesture = func(ctrl *interaction.Controller) error {
			return ctrl.EditValue(graph.PortID(data.Port), *data.Value)
		}

	case MessageTypeSnapshot:
		return nil, p.Join(ctx, c)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMessage, msg.Type)
	}

	var result error
	err := p.mirror.Gesture(ctx, c.Controller, func(ctrl *interaction.Controller) {
		result = gesture(ctrl)
		p.fillAck(ctrl, &ack)
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		return nil, result
	}

	reply := newAckMessage(ack)
	reply.ClientID = c.ID
	return &reply, nil
}

func (p *MessageProcessor) fillAck(ctrl *interaction.Controller, ack *GestureAck) {
	ack.State = ctrl.State().String()
	ack.Selection = ctrl.Selection()
	if prov, ok := ctrl.Provisional(); ok {
		ack.Provisional = &ProvisionalDTO{
			Anchor:  targetToDTO(prov.Anchor),
			Pointer: prov.Pointer,
		}
	}
}

func (p *MessageProcessor) validateData(msg *Message, out any) error {
	dataBytes, err := json.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal message data: %w", err)
	}

	if err := json.Unmarshal(dataBytes, out); err != nil {
		return fmt.Errorf("invalid message data: %w", err)
	}

	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid message data: %w", err)
	}

	return nil
}
