package graph

type BlockID uint64
type PortID uint64
type ConnectionID uint64

// PortKind tells a plain data port apart from the structural header ports
// drawn at the top of a block.
type PortKind int

const (
	PortData PortKind = iota
	PortName
	PortType
)

func (k PortKind) String() string {
	switch k {
	case PortName:
		return "name"
	case PortType:
		return "type"
	default:
		return "data"
	}
}

// Structural reports whether the port is a header (name or type label).
// Structural ports never participate in connections.
func (k PortKind) Structural() bool {
	return k != PortData
}

type Port struct {
	ID         PortID   `json:"id"`
	Block      BlockID  `json:"block"`
	Name       string   `json:"name"`
	Kind       PortKind `json:"kind"`
	CanReceive bool     `json:"canReceive"`
	CanEmit    bool     `json:"canEmit"`
	Access     string   `json:"access,omitempty"`
	TypeHint   string   `json:"typeHint,omitempty"`
	Value      any      `json:"value,omitempty"`

	// Confirmed is the last value the peer itself reported. Local edits
	// only change Value until the peer echoes them.
	Confirmed any `json:"-"`
}

type Block struct {
	ID      BlockID        `json:"id"`
	PeerID  string         `json:"peerId,omitempty"`
	Name    string         `json:"name"`
	X       float64        `json:"x"`
	Y       float64        `json:"y"`
	Visible bool           `json:"visible"`
	Meta    map[string]any `json:"meta,omitempty"`
	Ports   []PortID       `json:"ports"`
}

// Connection is a directed edge from an emitting port to a receiving port.
type Connection struct {
	ID       ConnectionID `json:"id"`
	Emitter  PortID       `json:"emitter"`
	Receiver PortID       `json:"receiver"`
}

// Other returns the endpoint opposite to port, or 0 when port is not an endpoint.
func (c Connection) Other(port PortID) PortID {
	switch port {
	case c.Emitter:
		return c.Receiver
	case c.Receiver:
		return c.Emitter
	}
	return 0
}

// Snapshot is a value copy of the whole store, ordered by id.
type Snapshot struct {
	Blocks      []Block      `json:"blocks"`
	Ports       []Port       `json:"ports"`
	Connections []Connection `json:"connections"`
}
