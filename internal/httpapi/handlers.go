// Package httpapi exposes the coordinator's control surface over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ihiteshgupta/call-coordinator/internal/coordinator"
	"github.com/ihiteshgupta/call-coordinator/internal/health"
	"github.com/ihiteshgupta/call-coordinator/internal/store"
	"github.com/ihiteshgupta/call-coordinator/pkg/logger"
)

// Controller is the subset of *coordinator.Coordinator the handlers drive.
type Controller interface {
	State() coordinator.CallState
	StartCall(ctx context.Context, req coordinator.StartRequest) error
	AnswerCall(ctx context.Context, callID string) error
	RejectCall(ctx context.Context, callID string) error
	EndCall(ctx context.Context) error
	SetMuted(ctx context.Context, muted bool) error
	ToggleMute(ctx context.Context) (bool, error)
	Minimize(ctx context.Context) error
	ReturnToCall(ctx context.Context) error
	Activate(ctx context.Context) error
	History(ctx context.Context, callID string, limit int) ([]store.Transition, error)
}

// StatusSource reports coordinator health.
type StatusSource interface {
	GetStatus() health.Status
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse input, call the coordinator, return JSON.
type Handlers struct {
	Calls  Controller
	Health StatusSource
	// Stream enables GET /v1/call/events when set.
	Stream *Hub
}

// NewRouter builds the Gin engine with request logging and all routes.
func NewRouter(h Handlers, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))

	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	{
		v1.GET("/call", h.GetCall)
		if h.Stream != nil {
			v1.GET("/call/events", h.Events)
		}

		calls := v1.Group("/call")
		calls.POST("/start", h.StartCall)
		calls.POST("/answer", h.AnswerCall)
		calls.POST("/reject", h.RejectCall)
		calls.POST("/end", h.EndCall)
		calls.POST("/return", h.ReturnToCall)
		calls.POST("/minimize", h.Minimize)
		calls.POST("/mute", h.Mute)

		v1.POST("/app/foreground", h.Foreground)
		v1.GET("/calls/:id/history", h.History)
	}

	return r
}

type callIDRequest struct {
	CallID string `json:"call_id"`
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

// Healthz reports liveness plus call counters when a monitor is wired.
func (h Handlers) Healthz(c *gin.Context) {
	if h.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "coordinator": h.Health.GetStatus()})
}

func (h Handlers) GetCall(c *gin.Context) {
	c.JSON(http.StatusOK, h.Calls.State())
}

func (h Handlers) StartCall(c *gin.Context) {
	var req coordinator.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.respond(c, h.Calls.StartCall(c.Request.Context(), req))
}

func (h Handlers) AnswerCall(c *gin.Context) {
	req, ok := bindCallID(c)
	if !ok {
		return
	}
	h.respond(c, h.Calls.AnswerCall(c.Request.Context(), req.CallID))
}

func (h Handlers) RejectCall(c *gin.Context) {
	req, ok := bindCallID(c)
	if !ok {
		return
	}
	h.respond(c, h.Calls.RejectCall(c.Request.Context(), req.CallID))
}

func (h Handlers) EndCall(c *gin.Context) {
	h.respond(c, h.Calls.EndCall(c.Request.Context()))
}

func (h Handlers) ReturnToCall(c *gin.Context) {
	h.respond(c, h.Calls.ReturnToCall(c.Request.Context()))
}

func (h Handlers) Minimize(c *gin.Context) {
	h.respond(c, h.Calls.Minimize(c.Request.Context()))
}

// Mute sets the mute state from {"muted": bool}, or toggles it when the body
// is empty.
func (h Handlers) Mute(c *gin.Context) {
	var req muteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	if req.Muted == nil {
		_, err := h.Calls.ToggleMute(c.Request.Context())
		h.respond(c, err)
		return
	}
	h.respond(c, h.Calls.SetMuted(c.Request.Context(), *req.Muted))
}

// Foreground is called when the app becomes active and recovers any call
// delivered while it was in the background.
func (h Handlers) Foreground(c *gin.Context) {
	h.respond(c, h.Calls.Activate(c.Request.Context()))
}

func (h Handlers) History(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	transitions, err := h.Calls.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		logger.FromGin(c).Error("history lookup failed", "call_id", c.Param("id"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if transitions == nil {
		transitions = []store.Transition{}
	}
	c.JSON(http.StatusOK, gin.H{"call_id": c.Param("id"), "transitions": transitions})
}

func bindCallID(c *gin.Context) (callIDRequest, bool) {
	var req callIDRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return req, false
	}
	return req, true
}

// respond writes the current call state on success, or maps err to a status.
func (h Handlers) respond(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusOK, h.Calls.State())
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("call command failed", "path", c.FullPath(), "error", err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrBusy),
		errors.Is(err, coordinator.ErrNoIncomingCall),
		errors.Is(err, coordinator.ErrNoActiveCall):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
