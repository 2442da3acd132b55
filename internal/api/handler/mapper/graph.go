package mapper

import (
	"patchbay/internal/api/handler/response"
	"patchbay/internal/graph"
	"patchbay/internal/reconcile"
	"patchbay/internal/value"
)

type GraphMapper struct{}

func (m *GraphMapper) PortToResponse(p graph.Port) response.PortDTO {
	return response.PortDTO{
		ID:         uint64(p.ID),
		Block:      uint64(p.Block),
		Name:       p.Name,
		Kind:       p.Kind.String(),
		CanReceive: p.CanReceive,
		CanEmit:    p.CanEmit,
		Access:     p.Access,
		TypeHint:   p.TypeHint,
		Value:      p.Value,
		Display:    value.Display(p.Value),
	}
}

func (m *GraphMapper) ConnectionToResponse(c graph.Connection) response.ConnectionDTO {
	return response.ConnectionDTO{
		ID:       uint64(c.ID),
		Emitter:  uint64(c.Emitter),
		Receiver: uint64(c.Receiver),
	}
}

// SnapshotToResponse nests each block's ports under it, keeping port order.
func (m *GraphMapper) SnapshotToResponse(snap graph.Snapshot) response.GraphResponseDTO {
	ports := make(map[graph.PortID]graph.Port, len(snap.Ports))
	for _, p := range snap.Ports {
		ports[p.ID] = p
	}

	out := response.GraphResponseDTO{
		Blocks:      make([]response.BlockDTO, 0, len(snap.Blocks)),
		Connections: make([]response.ConnectionDTO, 0, len(snap.Connections)),
	}
	for _, b := range snap.Blocks {
		dto := response.BlockDTO{
			ID:      uint64(b.ID),
			PeerID:  b.PeerID,
			Name:    b.Name,
			X:       b.X,
			Y:       b.Y,
			Visible: b.Visible,
			Meta:    b.Meta,
			Ports:   make([]response.PortDTO, 0, len(b.Ports)),
		}
		for _, id := range b.Ports {
			if p, ok := ports[id]; ok {
				dto.Ports = append(dto.Ports, m.PortToResponse(p))
			}
		}
		out.Blocks = append(out.Blocks, dto)
	}
	for _, c := range snap.Connections {
		out.Connections = append(out.Connections, m.ConnectionToResponse(c))
	}
	return out
}

func (m *GraphMapper) PeersToResponse(peers []reconcile.PeerInfo) []response.PeerDTO {
	out := make([]response.PeerDTO, 0, len(peers))
	for _, p := range peers {
		out = append(out, response.PeerDTO{
			ID:      p.ID,
			Name:    p.Name,
			State:   p.State,
			Block:   uint64(p.Block),
			Ports:   p.Ports,
			Pending: p.Pending,
		})
	}
	return out
}

// EventToResponse carries port ids only for block events; ports follow in
// their own events.
func (m *GraphMapper) EventToResponse(ev graph.Event) response.GraphEventDTO {
	out := response.GraphEventDTO{Type: string(ev.Type)}
	if ev.Block != nil {
		b := ev.Block
		dto := response.BlockDTO{
			ID:      uint64(b.ID),
			PeerID:  b.PeerID,
			Name:    b.Name,
			X:       b.X,
			Y:       b.Y,
			Visible: b.Visible,
			Meta:    b.Meta,
			PortIDs: make([]uint64, 0, len(b.Ports)),
		}
		for _, id := range b.Ports {
			dto.PortIDs = append(dto.PortIDs, uint64(id))
		}
		out.Block = &dto
	}
	if ev.Port != nil {
		dto := m.PortToResponse(*ev.Port)
		out.Port = &dto
	}
	if ev.Connection != nil {
		dto := m.ConnectionToResponse(*ev.Connection)
		out.Connection = &dto
	}
	return out
}
