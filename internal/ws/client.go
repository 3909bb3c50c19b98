package ws

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const writeWait = 10 * time.Second

// Client is one websocket subscriber of a single analysis.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	analysisID uuid.UUID
	send       chan []byte
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
