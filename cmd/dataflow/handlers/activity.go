package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/casemirror/dataflow/cmd/dataflow/activity"
	"github.com/casemirror/dataflow/common/apperr"
	"github.com/labstack/echo/v4"
)

// Activities is the activity registry as seen by the HTTP layer
type Activities interface {
	Invoke(ctx context.Context, name string, input json.RawMessage) *activity.Response
	Names() []string
}

// ActivityHandler exposes activities over HTTP for the workflow host
type ActivityHandler struct {
	activities Activities
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(activities Activities) *ActivityHandler {
	return &ActivityHandler{
		activities: activities,
	}
}

// ListActivities lists the registered activity names
// GET /api/v1/activities
func (h *ActivityHandler) ListActivities(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"activities": h.activities.Names(),
	})
}

// InvokeActivity runs one activity with the request body as input
// POST /api/v1/activities/:name
func (h *ActivityHandler) InvokeActivity(c echo.Context) error {
	name := c.Param("name")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "failed to read request body",
		})
	}
	if len(body) > 0 && !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "request body must be JSON",
		})
	}

	resp := h.activities.Invoke(c.Request().Context(), name, body)
	return c.JSON(statusFor(resp), resp)
}

// statusFor maps an activity outcome to an HTTP status. The body always
// carries the full response so callers can read the error envelope.
func statusFor(resp *activity.Response) int {
	if !resp.Failed() {
		return http.StatusOK
	}
	switch resp.Error.Kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConnection:
		return http.StatusServiceUnavailable
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDataShape, apperr.KindMigrationFatal:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
