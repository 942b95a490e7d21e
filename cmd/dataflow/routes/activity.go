package routes

import (
	"github.com/casemirror/dataflow/cmd/dataflow/container"
	"github.com/casemirror/dataflow/cmd/dataflow/handlers"
	"github.com/labstack/echo/v4"
)

// RegisterActivityRoutes registers the activity endpoints
func RegisterActivityRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewActivityHandler(c.Activities)

	activities := e.Group("/api/v1/activities")
	{
		activities.GET("", h.ListActivities)        // GET /api/v1/activities
		activities.POST("/:name", h.InvokeActivity) // POST /api/v1/activities/orders.getNextPage
	}
}
