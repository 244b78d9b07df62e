package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlard/custos/internal/domain"
	"github.com/averlard/custos/internal/server"
)

type createScheduleRequest struct {
	Name           string              `json:"name"`
	CronExpression string              `json:"cron_expression"`
	Target         domain.BackupTarget `json:"target"`
	Enabled        bool                `json:"enabled"`
}

type validateCronRequest struct {
	Expression string `json:"expression"`
}

type validateCronResponse struct {
	Valid    bool        `json:"valid"`
	NextRuns []time.Time `json:"nextRuns,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// ListSchedules returns all schedule definitions.
func ListSchedules(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"schedules": a.Scheduler.List()})
	}
}

// CreateSchedule registers a new recurring backup.
func CreateSchedule(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createScheduleRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "malformed schedule definition")
		}
		if req.Name == "" {
			return badRequest(c, "schedule name is required")
		}

		def, err := a.Scheduler.Create(req.Name, req.CronExpression, req.Target, req.Enabled)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusCreated, def)
	}
}

// UpdateSchedule applies field changes to a schedule.
func UpdateSchedule(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var fields domain.ScheduleUpdate
		if err := c.Bind(&fields); err != nil {
			return badRequest(c, "malformed schedule update")
		}

		def, err := a.Scheduler.Update(c.Param("id"), fields)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, def)
	}
}

// DeleteSchedule removes a schedule and its history.
func DeleteSchedule(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := a.Scheduler.Delete(c.Param("id")); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// ToggleSchedule flips a schedule's enabled flag.
func ToggleSchedule(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		def, err := a.Scheduler.Toggle(c.Param("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, def)
	}
}

// RunSchedule fires a schedule immediately, subject to the overlap guard.
func RunSchedule(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if _, err := a.Scheduler.Get(id); err != nil {
			return respondError(c, err)
		}
		// Detached from the request context: the run outlives the response.
		go func() {
			if err := a.Scheduler.RunNow(context.Background(), id); err != nil {
				a.Log.Error("Manual schedule run failed", "schedule_id", id, "error", err)
			}
		}()
		return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered"})
	}
}

// ValidateCron checks a cron expression and reports upcoming run times.
func ValidateCron(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req validateCronRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "malformed request")
		}

		runs, err := a.Scheduler.ValidateCron(req.Expression, 3)
		if err != nil {
			return c.JSON(http.StatusOK, validateCronResponse{Valid: false, Message: err.Error()})
		}
		return c.JSON(http.StatusOK, validateCronResponse{Valid: true, NextRuns: runs})
	}
}
