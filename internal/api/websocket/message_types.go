package websocket

import (
	"time"
)

// Message is the base message structure
// Data field uses 'any' to allow different types through channels
type Message struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"clientId,omitempty"`
	Username  string      `json:"username,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`

	// target restricts delivery to a single client when set.
	target *Client
}

// MessageType represents the type of WebSocket message
type MessageType string

const (
	// Gestures sent by clients
	MessageTypePointerDown   MessageType = "pointer_down"
	MessageTypePointerMove   MessageType = "pointer_move"
	MessageTypePointerUp     MessageType = "pointer_up"
	MessageTypeCancel        MessageType = "cancel"
	MessageTypeSelect        MessageType = "select"
	MessageTypeSelectAll     MessageType = "select_all"
	MessageTypeSelectNone    MessageType = "select_none"
	MessageTypeSelectInverse MessageType = "select_inverse"
	MessageTypeDelete        MessageType = "delete_selected"
	MessageTypeEditValue     MessageType = "edit_value"

	// Requests and pushes
	MessageTypeSnapshot   MessageType = "snapshot"
	MessageTypeGraphEvent MessageType = "graph_event"
	MessageTypeAck        MessageType = "ack"
	MessageTypeError      MessageType = "error"
)
