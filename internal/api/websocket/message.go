package websocket

import (
	"time"

	"patchbay/internal/api/handler/mapper"
	"patchbay/internal/api/handler/response"
	"patchbay/internal/graph"
	"patchbay/internal/interaction"
)

// TargetDTO is what lies under the client's pointer. Port wins over Block;
// neither means empty space.
type TargetDTO struct {
	Port  uint64 `json:"port,omitempty"`
	Side  string `json:"side,omitempty" validate:"omitempty,oneof=input output in out any"`
	Block uint64 `json:"block,omitempty"`
}

func (t TargetDTO) toTarget() interaction.Target {
	if t.Port != 0 {
		return interaction.PortTarget(graph.PortID(t.Port), interaction.ParseSide(t.Side))
	}
	return interaction.BlockTarget(graph.BlockID(t.Block))
}

func targetToDTO(t interaction.Target) TargetDTO {
	dto := TargetDTO{Port: uint64(t.Port), Block: uint64(t.Block)}
	if t.IsPort() {
		dto.Side = t.Side.String()
	}
	return dto
}

type PointerPayload struct {
	Target TargetDTO         `json:"target"`
	At     interaction.Point `json:"at"`
}

type SelectPayload struct {
	Item     interaction.Item `json:"item"`
	Additive bool             `json:"additive"`
}

type EditValuePayload struct {
	Port  uint64  `json:"port" validate:"required"`
	Value *string `json:"value" validate:"required"`
}

type ProvisionalDTO struct {
	Anchor  TargetDTO         `json:"anchor"`
	Pointer interaction.Point `json:"pointer"`
}

// GestureAck answers a gesture with the sender's controller state.
type GestureAck struct {
	State       string                  `json:"state"`
	Provisional *ProvisionalDTO         `json:"provisional,omitempty"`
	Selection   []interaction.Item      `json:"selection"`
	Connection  *response.ConnectionDTO `json:"connection,omitempty"`
	Deleted     int                     `json:"deleted,omitempty"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Error         string `json:"error,omitempty"`
	CustomMessage string `json:"customMessage"`
}

var graphMapper = mapper.GraphMapper{}

// NewErrorMessage creates a new error message
func NewErrorMessage(errorText string, err error) Message {
	data := ErrorMessage{CustomMessage: errorText}
	if err != nil {
		data.Error = err.Error()
	}
	return Message{
		Type:      MessageTypeError,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewGraphEventMessage(ev graph.Event) Message {
	return Message{
		Type:      MessageTypeGraphEvent,
		Timestamp: time.Now(),
		Data:      graphMapper.EventToResponse(ev),
	}
}

func NewSnapshotMessage(snap graph.Snapshot) Message {
	return Message{
		Type:      MessageTypeSnapshot,
		Timestamp: time.Now(),
		Data:      graphMapper.SnapshotToResponse(snap),
	}
}

func newAckMessage(ack GestureAck) Message {
	return Message{
		Type:      MessageTypeAck,
		Timestamp: time.Now(),
		Data:      ack,
	}
}
