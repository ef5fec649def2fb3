package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/haatos/conveyor/internal/service"
)

type TimelineHandler struct {
	timeline service.TimelineServicer
}

func NewTimelineHandler(timeline service.TimelineServicer) *TimelineHandler {
	return &TimelineHandler{timeline}
}

func (h *TimelineHandler) GetTimeline(c echo.Context) error {
	name := c.Param("name")
	if err := h.timeline.Update(c.Request().Context(), name); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"pipeline_name": name,
		"maximum_id":    h.timeline.MaximumIDFor(name),
		"entries":       h.timeline.EntriesFor(name),
	})
}
