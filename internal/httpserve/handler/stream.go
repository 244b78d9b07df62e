package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/averlard/custos/internal/hub"
	"github.com/averlard/custos/internal/httpserve/middleware"
	"github.com/averlard/custos/internal/server"
)

// StreamEvents upgrades the request to a long-lived SSE stream and registers
// it with the hub. The handler parks until the client goes away or the hub
// closes the transport (cleanup, or a newer connection from the same user).
func StreamEvents(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := middleware.Identity(c)

		transport, err := hub.NewSSETransport(c.Response())
		if err != nil {
			return err
		}

		a.Hub.Connect(identity.UserID, transport)

		select {
		case <-c.Request().Context().Done():
			a.Hub.Disconnect(identity.UserID, transport)
			_ = transport.Close()
		case <-transport.Wait():
			a.Hub.Disconnect(identity.UserID, transport)
		}
		return nil
	}
}
