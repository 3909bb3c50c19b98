package ws

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Handler subscribes the connection to the analysis named by the :id
// route parameter.
func Handler(hub *Hub) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		analysisID, err := uuid.Parse(c.Params("id"))
		if err != nil {
			_ = c.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "invalid analysis id"))
			_ = c.Close()
			return
		}

		client := &Client{
			hub:        hub,
			conn:       c,
			analysisID: analysisID,
			send:       make(chan []byte, 256),
		}

		hub.register <- client

		go client.WritePump()
		client.ReadPump()
	})
}

func UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
