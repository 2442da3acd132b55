package models

import "time"

// BlockPosition is the last editor position of a peer's block.
type BlockPosition struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updatedAt"`
}
