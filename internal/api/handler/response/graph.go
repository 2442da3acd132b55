package response

type PortDTO struct {
	ID         uint64 `json:"id"`
	Block      uint64 `json:"block"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	CanReceive bool   `json:"canReceive"`
	CanEmit    bool   `json:"canEmit"`
	Access     string `json:"access,omitempty"`
	TypeHint   string `json:"typeHint,omitempty"`
	Value      any    `json:"value"`
	Display    string `json:"display"`
}

type BlockDTO struct {
	ID      uint64         `json:"id"`
	PeerID  string         `json:"peerId,omitempty"`
	Name    string         `json:"name"`
	X       float64        `json:"x"`
	Y       float64        `json:"y"`
	Visible bool           `json:"visible"`
	Meta    map[string]any `json:"meta,omitempty"`
	Ports   []PortDTO      `json:"ports,omitempty"`
	PortIDs []uint64       `json:"portIds,omitempty"`
}

type ConnectionDTO struct {
	ID       uint64 `json:"id"`
	Emitter  uint64 `json:"emitter"`
	Receiver uint64 `json:"receiver"`
}

type GraphResponseDTO struct {
	Blocks      []BlockDTO      `json:"blocks"`
	Connections []ConnectionDTO `json:"connections"`
}

type PeerDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Block   uint64 `json:"block,omitempty"`
	Ports   int    `json:"ports"`
	Pending int    `json:"pending"`
}

// GraphEventDTO is pushed to websocket clients for every store change.
type GraphEventDTO struct {
	Type       string         `json:"type"`
	Block      *BlockDTO      `json:"block,omitempty"`
	Port       *PortDTO       `json:"port,omitempty"`
	Connection *ConnectionDTO `json:"connection,omitempty"`
}
