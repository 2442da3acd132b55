package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"patchbay/internal/interaction"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Time allowed to process one gesture
	processTimeout = 5 * time.Second
)

// Client is one websocket session. Its gestures are processed in order by a
// dedicated worker against the session's own Controller.
type Client struct {
	ID           string
	Username     string
	Controller   *interaction.Controller
	Hub          *Hub
	Conn         *websocket.Conn
	Send         chan Message
	Processor    *MessageProcessor
	ProcessQueue chan Message
	Logger       zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func NewClient(id string, username string, controller *interaction.Controller, hub *Hub, conn *websocket.Conn, processor *MessageProcessor, logger zerolog.Logger) *Client {
	client := &Client{
		ID:           id,
		Username:     username,
		Controller:   controller,
		Hub:          hub,
		Conn:         conn,
		Send:         make(chan Message, 256),
		Processor:    processor,
		ProcessQueue: make(chan Message, 100),
		Logger:       logger,
	}

	// Start the sequential processor worker
	go client.processWorker()

	return client
}

func (c *Client) ReadPump() {
	defer func() {
		close(c.ProcessQueue) // Close the queue to stop the worker
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Error().Err(err).Str("clientId", c.ID).Msg("WebSocket read error")
			}
			break
		}

		var msg Message
		if err = json.Unmarshal(messageBytes, &msg); err != nil {
			c.Logger.Error().Err(err).Str("clientId", c.ID).Msg("Failed to unmarshal message")
			c.sendError("Invalid message format", err)
			continue
		}

		c.enqueue(msg)
	}
}

// enqueue stamps msg and hands it to the worker without blocking the reader.
func (c *Client) enqueue(msg Message) {
	msg.ClientID = c.ID
	msg.Username = c.Username
	msg.Timestamp = time.Now()

	select {
	case c.ProcessQueue <- msg:
	default:
		// Pointer moves are superseded by the next one anyway.
		if msg.Type == MessageTypePointerMove {
			return
		}
		c.Logger.Warn().
			Str("type", string(msg.Type)).
			Msg("Process queue full, dropping message")
		c.sendError("Server is busy, please try again", nil)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			messageBytes, err := json.Marshal(message)
			if err != nil {
				c.Logger.Error().Err(err).Msg("Failed to marshal message")
				w.Close()
				continue
			}

			w.Write(messageBytes)

			// Add queued messages to the current websocket message
			n := len(c.Send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.Send
				if !ok {
					break
				}
				msgBytes, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				w.Write([]byte{'\n'})
				w.Write(msgBytes)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend delivers msg unless the client is gone or its buffer is full.
func (c *Client) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		c.Logger.Warn().
			Str("clientId", c.ID).
			Str("type", string(msg.Type)).
			Msg("Client send buffer full, message dropped")
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) sendError(errorMsg string, err error) {
	c.trySend(NewErrorMessage(errorMsg, err))
}

// processWorker processes messages from the queue sequentially
func (c *Client) processWorker() {
	c.Logger.Debug().Str("clientId", c.ID).Msg("Process worker started")

	for msg := range c.ProcessQueue {
		if c.Processor == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		reply, err := c.Processor.ProcessMessage(ctx, c, &msg)
		cancel()
		if err != nil {
			c.Logger.Debug().
				Err(err).
				Str("type", string(msg.Type)).
				Str("clientId", c.ID).
				Msg("Failed to process message")

			// Send error directly to this client only
			c.sendError("Gesture rejected", err)
			continue
		}
		if reply != nil {
			c.trySend(*reply)
		}
	}

	c.Logger.Debug().Str("clientId", c.ID).Msg("Process worker stopped")
}
