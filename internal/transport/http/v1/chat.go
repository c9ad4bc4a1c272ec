package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/carechat/internal/service"
)

// Chat submits a prompt.
// POST /v1/chat
//
// With ?wait=true the response is held until the poll finishes and carries
// the final poll record.
func (h *Handler) Chat(c echo.Context) error {
	var in service.ChatInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	handle, err := h.service.Submit(ctx, in)
	if err != nil {
		return errorResponse(c, err)
	}
	return h.respondPoll(c, handle)
}

// RetryPoll resends the session's latest prompt.
// POST /v1/sessions/:session_id/retry
func (h *Handler) RetryPoll(c echo.Context) error {
	handle, err := h.service.Retry(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return h.respondPoll(c, handle)
}

// CancelPoll stops the session's running poll.
// POST /v1/sessions/:session_id/cancel
func (h *Handler) CancelPoll(c echo.Context) error {
	if err := h.service.Cancel(c.Request().Context(), c.Param("session_id")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) respondPoll(c echo.Context, handle *service.PollHandle) error {
	wait, _ := strconv.ParseBool(c.QueryParam("wait"))
	if !wait {
		return c.JSON(http.StatusAccepted, handle)
	}

	ctx := c.Request().Context()
	select {
	case <-handle.Done():
	case <-ctx.Done():
		return c.JSON(http.StatusRequestTimeout, map[string]string{"error": ctx.Err().Error()})
	}
	poll, _, err := h.service.Poll(ctx, handle.PollID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, poll)
}
