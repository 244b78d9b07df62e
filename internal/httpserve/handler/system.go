package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlard/custos/internal/httpserve/middleware"
	"github.com/averlard/custos/internal/server"
)

// SystemStatus returns a combined system and engine health snapshot.
func SystemStatus(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"system": a.Health.System(),
			"engine": a.Health.Engine(),
			"uptime": a.GetUptime(),
		})
	}
}

// CleanupJobs removes finished job records older than the retention window.
// Admin only; this is an explicit maintenance operation.
func CleanupJobs(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		identity := middleware.Identity(c)
		if !identity.Admin {
			return c.JSON(http.StatusForbidden, errorBody{Error: errorDetail{
				Kind:    "forbidden",
				Message: "cleanup requires admin privilege",
			}})
		}

		retention := a.Config.Jobs.Retention
		if retention <= 0 {
			retention = 7 * 24 * time.Hour
		}
		removed := a.Jobs.Cleanup(retention)
		return c.JSON(http.StatusOK, map[string]int{"removed": removed})
	}
}
