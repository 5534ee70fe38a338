package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"gowa-hub/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the dashboard origin; token auth happens at
	// the HTTP layer before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /ws
func WebSocketHandler(hub *ws.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "WebSocket upgrade failed", "WS_UPGRADE_FAILED", err.Error())
		}
		hub.Register(conn)
		return nil
	}
}
