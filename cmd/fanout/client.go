package main

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Must be less than pongWait
	pingPeriod = 25 * time.Second

	// Clients only send pongs
	maxMessageSize = 512

	sendBuffer = 64
)

// Client is one websocket watching a requester's batches
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	requester string
	send      chan []byte
}

// NewClient creates a client; conn may be nil in tests that never pump
func NewClient(hub *Hub, conn *websocket.Conn, requester string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		requester: requester,
		send:      make(chan []byte, sendBuffer),
	}
}

// readPump discards client frames; it exists to process pongs and notice
// disconnects
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", "requester_id", c.requester, "error", err)
			}
			return
		}
	}
}

// writePump sends each progress event as its own text frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
