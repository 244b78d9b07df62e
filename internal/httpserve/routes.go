// Package httpserve assembles the console's HTTP surface on echo.
package httpserve

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/averlard/custos/internal/httpserve/handler"
	"github.com/averlard/custos/internal/httpserve/middleware"
	"github.com/averlard/custos/internal/server"
)

// NewRouter builds the echo instance with all routes and middleware wired.
func NewRouter(a *server.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())

	requireToken := middleware.RequireToken(a)
	rateLimit := middleware.RateLimit(a.Config.Jobs.RateLimitRPS, a.Config.Jobs.RateLimitBurst)

	api := e.Group("/api", requireToken)

	jobs := api.Group("/jobs")
	jobs.POST("/backup", handler.StartBackup(a), rateLimit)
	jobs.POST("/restore", handler.StartRestore(a), rateLimit)
	jobs.GET("", handler.ListJobs(a))
	jobs.GET("/:id", handler.GetJob(a))
	jobs.DELETE("/:id", handler.CancelJob(a))
	jobs.GET("/:id/log", handler.GetJobLog(a))
	jobs.POST("/cleanup", handler.CleanupJobs(a), rateLimit)

	schedules := api.Group("/schedules")
	schedules.GET("", handler.ListSchedules(a))
	schedules.POST("", handler.CreateSchedule(a), rateLimit)
	schedules.PUT("/:id", handler.UpdateSchedule(a), rateLimit)
	schedules.DELETE("/:id", handler.DeleteSchedule(a), rateLimit)
	schedules.POST("/:id/toggle", handler.ToggleSchedule(a), rateLimit)
	schedules.POST("/:id/run", handler.RunSchedule(a), rateLimit)
	schedules.POST("/validate-cron", handler.ValidateCron(a))

	api.GET("/system/status", handler.SystemStatus(a))
	api.GET("/events/stream", handler.StreamEvents(a))

	return e
}
