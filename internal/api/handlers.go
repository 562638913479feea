// Package api wires up the Gin HTTP router exposing eventmesh's façade:
// event creation, clock/projection introspection, and peer listing.
// Grounded directly on the teacher's internal/api/handlers.go (Handler,
// NewHandler, Register, route grouping) and middleware.go, rewired from
// kv/cluster endpoints to the event/clock/projection domain.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventmesh/internal/merr"
	"eventmesh/internal/service"
)

// Handler holds the Service dependency injected from cmd/node's main.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	events := r.Group("/events")
	events.POST("", h.CreateEvent)
	events.GET("", h.ListEvents)
	events.GET("/:id", h.GetEvent)

	clock := r.Group("/clock")
	clock.GET("", h.GetClock)

	proj := r.Group("/projections")
	proj.GET("", h.ListProjections)
	proj.GET("/:type", h.GetProjection)
	proj.POST("/save", h.SaveProjections)

	peers := r.Group("/peers")
	peers.GET("", h.ListPeers)

	r.GET("/health", h.Health)
}

// CreateEvent handles POST /events
// Body: {"payload": {...}}
func (h *Handler) CreateEvent(c *gin.Context) {
	var body struct {
		Payload map[string]any `json:"payload"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ev, err := h.svc.CreateEvent(body.Payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// ListEvents handles GET /events, returning every stored event and the count.
func (h *Handler) ListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"events": h.svc.EventStore().GetAllEvents(),
		"count":  h.svc.EventStore().GetEventCount(),
	})
}

// GetEvent handles GET /events/:id
func (h *Handler) GetEvent(c *gin.Context) {
	ev, ok := h.svc.EventStore().GetEvent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// GetClock handles GET /clock — the node's watermark map, which IS its
// vector clock per spec §3.
func (h *Handler) GetClock(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"watermarks": h.svc.EventStore().GetLatestTimestampsForAllNodes(),
	})
}

// ListProjections handles GET /projections
func (h *Handler) ListProjections(c *gin.Context) {
	var types []string
	for _, p := range h.svc.Projections().Projections() {
		types = append(types, p.Type())
	}
	c.JSON(http.StatusOK, gin.H{"projections": types})
}

// GetProjection handles GET /projections/:type. State is read through
// Engine.SnapshotOf, which snapshots and JSON-encodes it under the engine's
// mutex — reading p.SnapshotState() directly here would race with the
// engine's own ProcessEvent goroutine mutating projection state concurrently.
func (h *Handler) GetProjection(c *gin.Context) {
	projType := c.Param("type")
	state, err := h.svc.Projections().SnapshotOf(projType)
	if err != nil {
		if errors.Is(err, merr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "projection not registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": projType, "state": state})
}

// SaveProjections handles POST /projections/save
func (h *Handler) SaveProjections(c *gin.Context) {
	if err := h.svc.SaveProjectionStates(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPeers handles GET /peers
func (h *Handler) ListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"peers": h.svc.Peers()})
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"eventCount": h.svc.EventStore().GetEventCount(),
		"watermarks": h.svc.EventStore().GetLatestTimestampsForAllNodes(),
	})
}
