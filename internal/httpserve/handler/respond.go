package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/averlard/custos/internal/domain"
)

// errorBody is the machine-readable error envelope returned on 4xx/5xx.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// respondError maps domain errors onto status codes. Job and schedule
// failures are never surfaced here; they are structured status on the
// records themselves.
func respondError(c echo.Context, err error) error {
	var code int
	var kind string

	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrScheduleNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		code, kind = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrInvalidState):
		code, kind = http.StatusBadRequest, "invalid_state"
	case errors.Is(err, domain.ErrInvalidCron):
		code, kind = http.StatusBadRequest, "invalid_cron"
	case errors.Is(err, domain.ErrDuplicateName):
		code, kind = http.StatusBadRequest, "duplicate_name"
	default:
		code, kind = http.StatusInternalServerError, "internal"
	}

	return c.JSON(code, errorBody{Error: errorDetail{Kind: kind, Message: err.Error()}})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "bad_request", Message: message}})
}
