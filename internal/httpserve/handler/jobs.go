package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/averlard/custos/internal/domain"
	"github.com/averlard/custos/internal/httpserve/middleware"
	"github.com/averlard/custos/internal/server"
)

const defaultListLimit = 50

// StartBackup accepts a backup target and returns the new job id.
func StartBackup(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var target domain.BackupTarget
		if err := c.Bind(&target); err != nil {
			return badRequest(c, "malformed backup target")
		}

		identity := middleware.Identity(c)
		jobID, err := a.Jobs.Start(domain.JobKindBackup, domain.JobTarget{Backup: &target}, identity.UserID)
		if err != nil {
			return badRequest(c, err.Error())
		}
		return c.JSON(http.StatusAccepted, map[string]string{"jobId": jobID})
	}
}

// StartRestore accepts a restore target and returns the new job id.
func StartRestore(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var target domain.RestoreTarget
		if err := c.Bind(&target); err != nil {
			return badRequest(c, "malformed restore target")
		}

		identity := middleware.Identity(c)
		jobID, err := a.Jobs.Start(domain.JobKindRestore, domain.JobTarget{Restore: &target}, identity.UserID)
		if err != nil {
			return badRequest(c, err.Error())
		}
		return c.JSON(http.StatusAccepted, map[string]string{"jobId": jobID})
	}
}

// GetJob returns one job record.
func GetJob(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		job, err := a.Jobs.GetStatus(c.Param("id"), middleware.Identity(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, job)
	}
}

// CancelJob cancels a running job.
func CancelJob(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := a.Jobs.Cancel(c.Param("id"), middleware.Identity(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

// GetJobLog returns the accumulated engine output for a job.
func GetJobLog(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		lines, err := a.Jobs.GetLog(c.Param("id"), middleware.Identity(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"log": lines})
	}
}

// ListJobs returns the requester's jobs, newest first.
func ListJobs(a *server.App) echo.HandlerFunc {
	return func(c echo.Context) error {
		var filter *domain.JobStatus
		if raw := c.QueryParam("status"); raw != "" {
			status := domain.JobStatus(raw)
			switch status {
			case domain.JobStatusRunning, domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
				filter = &status
			default:
				return badRequest(c, "unknown status filter")
			}
		}

		limit := defaultListLimit
		if raw := c.QueryParam("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				return badRequest(c, "limit must be a non-negative integer")
			}
			limit = parsed
		}

		listed := a.Jobs.List(middleware.Identity(c), filter, limit)
		return c.JSON(http.StatusOK, map[string]interface{}{"jobs": listed})
	}
}
