package http

import (
	"context"
	"net/http"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/presentation"

	"github.com/gin-gonic/gin"
)

// CallController is the client surface driven over HTTP.
type CallController interface {
	Identity() domain.Identity
	StartCall(ctx context.Context, peer domain.Identity) error
	EndCall(ctx context.Context) error
	Snapshot(ctx context.Context) (domain.SessionSnapshot, error)
}

type CallHandler struct {
	client  CallController
	events  *presentation.LogObserver
	media   *presentation.MediaSink
	health  *monitoring.HealthChecker
	metrics http.Handler
}

// NewCallHandler wires the control API. events, media, health and metrics
// are optional.
func NewCallHandler(
	client CallController,
	events *presentation.LogObserver,
	media *presentation.MediaSink,
	health *monitoring.HealthChecker,
	metrics http.Handler,
) *CallHandler {
	return &CallHandler{
		client:  client,
		events:  events,
		media:   media,
		health:  health,
		metrics: metrics,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine) {
	router.POST("/call/:peer", h.StartCall)
	router.POST("/hangup", h.EndCall)
	router.GET("/status", h.GetStatus)
	router.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}

func (h *CallHandler) StartCall(c *gin.Context) {
	peer := domain.Identity(c.Param("peer"))
	if err := h.client.StartCall(c.Request.Context(), peer); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status": "calling",
		"from":   h.client.Identity(),
		"peer":   peer,
	})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	if err := h.client.EndCall(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

type eventView struct {
	Kind     string    `json:"kind"`
	Text     string    `json:"text"`
	Code     int       `json:"code,omitempty"`
	Terminal bool      `json:"terminal,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

func (h *CallHandler) GetStatus(c *gin.Context) {
	snap, err := h.client.Snapshot(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := gin.H{"session": snap}

	if h.events != nil {
		events := make(map[domain.StatusSource]eventView)
		for source, ev := range h.events.Latest() {
			view := eventView{Kind: ev.Kind.String(), Text: ev.Text, Code: ev.Code, Terminal: ev.Terminal, At: ev.At}
			if ev.Err != nil {
				view.Error = ev.Err.Error()
			}
			events[source] = view
		}
		resp["events"] = events
	}

	if h.media != nil {
		resp["media"] = gin.H{
			"local_source": h.media.LocalSourceID(),
			"remote":       h.media.RemoteStats(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *CallHandler) HealthCheck(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Unix()})
		return
	}

	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
