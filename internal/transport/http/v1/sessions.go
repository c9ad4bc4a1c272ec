package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// GetSession returns a session.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.Session(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	pollID, active := h.service.Active(session.SessionID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":        session,
		"active_poll_id": pollID,
		"busy":           active,
	})
}

// BindPatientRequest identifies the patient a session speaks for.
type BindPatientRequest struct {
	PatientID string `json:"patient_id"`
}

// BindPatient attaches a patient ID to a session.
// POST /v1/sessions/:session_id/patient
func (h *Handler) BindPatient(c echo.Context) error {
	var req BindPatientRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	session, err := h.service.BindPatient(c.Request().Context(), c.Param("session_id"), req.PatientID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// GetSessionMessages retrieves messages for a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := queryInt(c, "limit", 50)
	before := c.QueryParam("before")

	messages, err := h.service.Messages(c.Request().Context(), sessionID, limit, before)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": len(messages) == limit, // Approximate
	})
}

// ListSessionPolls lists a session's polls, newest first.
// GET /v1/sessions/:session_id/polls
func (h *Handler) ListSessionPolls(c echo.Context) error {
	polls, err := h.service.Polls(c.Request().Context(), c.Param("session_id"), queryInt(c, "limit", 20))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"polls": polls,
	})
}

// GetPoll returns a poll with its events.
// GET /v1/polls/:poll_id
func (h *Handler) GetPoll(c echo.Context) error {
	poll, events, err := h.service.Poll(c.Request().Context(), c.Param("poll_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"poll":   poll,
		"events": events,
	})
}

func queryInt(c echo.Context, name string, def int) int {
	if v := c.QueryParam(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
