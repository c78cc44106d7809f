package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/knot/internal/storage"
	"github.com/your-org/knot/pkg/dto"
)

type EventHandler struct {
	db *storage.PostgresStore
}

func NewEventHandler(db *storage.PostgresStore) *EventHandler {
	return &EventHandler{db: db}
}

func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.db.CreateEvent(c.Request.Context(), strings.ToUpper(req.Code), req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.EventResponse{
		ID:        event.ID,
		Code:      event.Code,
		Name:      event.Name,
		CreatedAt: event.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// Get resolves an event by UUID or share code.
func (h *EventHandler) Get(c *gin.Context) {
	event, err := h.db.ResolveEvent(c.Request.Context(), c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, dto.EventResponse{
		ID:        event.ID,
		Code:      event.Code,
		Name:      event.Name,
		CreatedAt: event.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}
