package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/gin-gonic/gin"
)

func (h *Handler) ListRecords(c *gin.Context) {
	records, err := h.service.ListRecords(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

func (h *Handler) GetRecord(c *gin.Context) {
	record, err := h.service.GetRecord(c.Request.Context(), principal(c), c.Param("id"), c.Param("lang"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) UpdateRecord(c *gin.Context) {
	var req models.UpdateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c, err)
		return
	}

	record, err := h.service.UpdateRecord(c.Request.Context(), principal(c), c.Param("id"), c.Param("lang"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) SubmitRecord(c *gin.Context) {
	record, err := h.service.SubmitRecord(c.Request.Context(), principal(c), c.Param("id"), c.Param("lang"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) ApproveRecord(c *gin.Context) {
	record, err := h.service.ApproveRecord(c.Request.Context(), principal(c), c.Param("id"), c.Param("lang"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) DeleteRecord(c *gin.Context) {
	if err := h.service.DeleteRecord(c.Request.Context(), principal(c), c.Param("id"), c.Param("lang")); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// TranslateRecord handles POST /meetings/:id/records/:lang/translate/:lang2.
// The body is optional.
func (h *Handler) TranslateRecord(c *gin.Context) {
	var req models.TranslateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badBody(c, err)
		return
	}

	record, err := h.service.TranslateRecord(
		c.Request.Context(), principal(c), c.Param("id"), c.Param("lang"), c.Param("lang2"), req,
	)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}
