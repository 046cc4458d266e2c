package api

import (
	"net/http"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/gin-gonic/gin"
)

// ListMeetings handles GET /meetings
func (h *Handler) ListMeetings(c *gin.Context) {
	meetings, err := h.service.ListMeetings(c.Request.Context(), principal(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, meetings)
}

// GetMeeting handles GET /meetings/:id
func (h *Handler) GetMeeting(c *gin.Context) {
	meeting, err := h.service.GetMeeting(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, meeting)
}

// CreateMeeting handles POST /meetings
func (h *Handler) CreateMeeting(c *gin.Context) {
	var req models.CreateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	meeting, err := h.service.CreateMeeting(c.Request.Context(), principal(c), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, meeting)
}

// UpdateMeeting handles PATCH /meetings/:id
func (h *Handler) UpdateMeeting(c *gin.Context) {
	var req models.UpdateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	meeting, err := h.service.UpdateMeeting(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, meeting)
}

// DeleteMeeting handles DELETE /meetings/:id
func (h *Handler) DeleteMeeting(c *gin.Context) {
	if err := h.service.DeleteMeeting(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// BeginMeeting handles PUT /meetings/:id/begin
func (h *Handler) BeginMeeting(c *gin.Context) {
	meeting, err := h.service.BeginMeeting(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, meeting)
}

// EndMeeting handles PUT /meetings/:id/end
func (h *Handler) EndMeeting(c *gin.Context) {
	meeting, err := h.service.EndMeeting(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, meeting)
}

// ListAttendances handles GET /meetings/:id/attendances
func (h *Handler) ListAttendances(c *gin.Context) {
	entries, err := h.service.ListAttendances(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// CheckIn handles PUT /meetings/:id/attend/:code
func (h *Handler) CheckIn(c *gin.Context) {
	if err := h.service.CheckIn(c.Request.Context(), principal(c), c.Param("id"), c.Param("code")); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// PlanPresence handles PUT /meetings/:id/plan-attendance/:status
func (h *Handler) PlanPresence(c *gin.Context) {
	status := models.AttendanceStatus(c.Param("status"))

	if err := h.service.PlanPresence(c.Request.Context(), principal(c), c.Param("id"), status); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListIdentities handles GET /identities
func (h *Handler) ListIdentities(c *gin.Context) {
	identities, err := h.service.ListIdentities(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, identities)
}

// ReassignIdentity handles PUT /identities/reassign
func (h *Handler) ReassignIdentity(c *gin.Context) {
	var req models.ReassignIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	if err := h.service.ReassignIdentity(c.Request.Context(), principal(c), req); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
