package interaction

import (
	"slices"

	"patchbay/internal/graph"
)

type ItemKind string

const (
	ItemBlock      ItemKind = "block"
	ItemConnection ItemKind = "connection"
)

// Item is a selectable graph element.
type Item struct {
	Kind ItemKind `json:"kind" validate:"required,oneof=block connection"`
	ID   uint64   `json:"id" validate:"required"`
}

func BlockItem(id graph.BlockID) Item {
	return Item{Kind: ItemBlock, ID: uint64(id)}
}

func ConnectionItem(id graph.ConnectionID) Item {
	return Item{Kind: ItemConnection, ID: uint64(id)}
}

type Selection struct {
	items map[Item]struct{}
}

func newSelection() Selection {
	return Selection{items: make(map[Item]struct{})}
}

func (s Selection) Has(item Item) bool {
	_, ok := s.items[item]
	return ok
}

func (s Selection) Add(item Item) {
	s.items[item] = struct{}{}
}

func (s Selection) Remove(item Item) {
	delete(s.items, item)
}

func (s Selection) Clear() {
	clear(s.items)
}

func (s Selection) Len() int {
	return len(s.items)
}

// Items returns the selection ordered by kind, then id.
func (s Selection) Items() []Item {
	out := make([]Item, 0, len(s.items))
	for item := range s.items {
		out = append(out, item)
	}
	slices.SortFunc(out, func(a, b Item) int {
		if a.Kind != b.Kind {
			if a.Kind < b.Kind {
				return -1
			}
			return 1
		}
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

func (s Selection) Blocks() []graph.BlockID {
	var out []graph.BlockID
	for _, item := range s.Items() {
		if item.Kind == ItemBlock {
			out = append(out, graph.BlockID(item.ID))
		}
	}
	return out
}
