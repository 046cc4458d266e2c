package api

import (
	"github.com/clubhouse/meetings-server/internal/live"
	"github.com/clubhouse/meetings-server/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LiveStatus handles WS /meetings/votings/:id/live-status. The viewer gets the
// current "n/total" right away, then every progress change, and finally the
// binary results payload before the server closes the connection.
func (h *Handler) LiveStatus(c *gin.Context) {
	votingID := c.Param("id")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already answered with an HTTP error
		h.logger.Warn("websocket upgrade failed", "voting_id", votingID, "error", err)
		return
	}

	conn := live.NewWebSocketConn(ws, h.idleTimeout)
	connID := uuid.New().String()

	err = h.service.WatchVoting(c.Request.Context(), votingID, func(progress string) {
		h.registry.Register(votingID, connID, conn)
		if err := conn.WriteText(progress); err != nil {
			h.logger.Debug("initial progress push failed", "voting_id", votingID, "error", err)
		}
	})
	if err != nil {
		reason := "internal error"
		if service.KindOf(err) != service.KindInternal {
			reason = err.Error()
		} else {
			h.logger.Error("failed to attach live viewer", "voting_id", votingID, "error", err)
		}
		conn.Fail(reason)
		return
	}

	h.logger.Debug("live viewer attached", "voting_id", votingID, "connection_id", connID)
}
