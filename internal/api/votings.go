package api

import (
	"net/http"
	"strconv"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/gin-gonic/gin"
)

// ListVotings handles GET /meetings/:id/votings
func (h *Handler) ListVotings(c *gin.Context) {
	votings, err := h.service.ListVotings(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, votings)
}

func (h *Handler) GetVoting(c *gin.Context) {
	voting, err := h.service.GetVoting(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, voting)
}

func (h *Handler) CreateVoting(c *gin.Context) {
	var req models.CreateVotingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	voting, err := h.service.CreateVoting(c.Request.Context(), principal(c), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, voting)
}

func (h *Handler) UpdateVoting(c *gin.Context) {
	var req models.UpdateVotingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	voting, err := h.service.UpdateVoting(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, voting)
}

func (h *Handler) DeleteVoting(c *gin.Context) {
	if err := h.service.DeleteVoting(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) OpenVoting(c *gin.Context) {
	voting, err := h.service.OpenVoting(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, voting)
}

// CloseVoting handles PUT /meetings/votings/:id/close and returns the final results
func (h *Handler) CloseVoting(c *gin.Context) {
	results, err := h.service.CloseVoting(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// Vote handles PUT /meetings/votings/:id/vote/:index
func (h *Handler) Vote(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "BAD_REQUEST",
			Message: "Invalid option index",
		})
		return
	}

	if err := h.service.Vote(c.Request.Context(), principal(c), c.Param("id"), index); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) GetVotingResults(c *gin.Context) {
	results, err := h.service.GetVotingResults(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *Handler) GetMyVote(c *gin.Context) {
	vote, err := h.service.GetMyVote(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, vote)
}
