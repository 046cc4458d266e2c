// Package api exposes the meeting service over HTTP and WebSocket.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/clubhouse/meetings-server/internal/live"
	"github.com/clubhouse/meetings-server/internal/models"
	"github.com/clubhouse/meetings-server/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures a Handler
type Options struct {
	Logger *slog.Logger
	// IdleTimeout drops live-status connections that stop answering pings
	IdleTimeout time.Duration
	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
}

// Handler holds the HTTP handlers
type Handler struct {
	service     service.Service
	registry    *live.Registry
	verifier    TokenVerifier
	logger      *slog.Logger
	idleTimeout time.Duration
	gatherer    prometheus.Gatherer
	upgrader    websocket.Upgrader
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, registry *live.Registry, verifier TokenVerifier, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		service:     svc,
		registry:    registry,
		verifier:    verifier,
		logger:      logger,
		idleTimeout: opts.IdleTimeout,
		gatherer:    opts.Gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are native apps; the bearer token is the gate
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetupRoutes registers all routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	authed := router.Group("/")
	authed.Use(AuthMiddleware(h.verifier))

	identities := authed.Group("/identities")
	{
		identities.GET("", h.ListIdentities)
		identities.PUT("/reassign", h.ReassignIdentity)
	}

	meetings := authed.Group("/meetings")
	{
		meetings.GET("", h.ListMeetings)
		meetings.POST("", h.CreateMeeting)
		meetings.GET("/:id", h.GetMeeting)
		meetings.PATCH("/:id", h.UpdateMeeting)
		meetings.DELETE("/:id", h.DeleteMeeting)
		meetings.PUT("/:id/begin", h.BeginMeeting)
		meetings.PUT("/:id/end", h.EndMeeting)

		meetings.GET("/:id/attendances", h.ListAttendances)
		meetings.PUT("/:id/attend/:code", h.CheckIn)
		meetings.PUT("/:id/plan-attendance/:status", h.PlanPresence)

		meetings.GET("/:id/records", h.ListRecords)
		meetings.GET("/:id/records/:lang", h.GetRecord)
		meetings.PATCH("/:id/records/:lang", h.UpdateRecord)
		meetings.DELETE("/:id/records/:lang", h.DeleteRecord)
		meetings.PUT("/:id/records/:lang/submit", h.SubmitRecord)
		meetings.PUT("/:id/records/:lang/approve", h.ApproveRecord)
		meetings.POST("/:id/records/:lang/translate/:lang2", h.TranslateRecord)

		meetings.GET("/:id/votings", h.ListVotings)
	}

	votings := meetings.Group("/votings")
	{
		votings.POST("", h.CreateVoting)
		votings.GET("/:id", h.GetVoting)
		votings.PATCH("/:id", h.UpdateVoting)
		votings.DELETE("/:id", h.DeleteVoting)
		votings.PUT("/:id/open", h.OpenVoting)
		votings.PUT("/:id/close", h.CloseVoting)
		votings.PUT("/:id/vote/:index", h.Vote)
		votings.GET("/:id/results", h.GetVotingResults)
		votings.GET("/:id/my-vote", h.GetMyVote)
		votings.GET("/:id/live-status", h.LiveStatus)
	}
}

// Health reports that the process is serving
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleError writes the status code and body matching err
func (h *Handler) handleError(c *gin.Context, err error) {
	kind := service.KindOf(err)

	status := statusFor(kind)
	message := err.Error()
	if kind == service.KindInternal {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		message = "Internal server error"
	}

	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    kind.String(),
		Message: message,
	})
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindBadRequest:
		return http.StatusBadRequest
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindLocked:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

// badBody reports a request body that failed binding
func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "BAD_REQUEST",
		Message: err.Error(),
	})
}
