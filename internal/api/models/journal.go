package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// RawJSON is stored as jsonb and served as-is.
type RawJSON []byte

func (n *RawJSON) Scan(value interface{}) error {
	if value == nil {
		*n = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*n = append(RawJSON(nil), v...)
		return nil
	case string:
		*n = RawJSON(v)
		return nil
	default:
		return fmt.Errorf("cannot scan type %T into RawJSON", value)
	}
}

func (n RawJSON) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	return []byte(n), nil
}

func (n RawJSON) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	return n, nil
}

func (n *RawJSON) UnmarshalJSON(data []byte) error {
	*n = append(RawJSON(nil), data...)
	return nil
}

// JournalEntry records one request sent to the peer network.
type JournalEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"not null;index;column:action" json:"action"`
	Peer      string    `gorm:"not null;index;column:peer" json:"peer"`
	Payload   RawJSON   `gorm:"type:jsonb;column:payload" json:"payload"`
	Error     string    `gorm:"type:text;column:error" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime;column:created_at" json:"createdAt"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}
