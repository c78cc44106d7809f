package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/knot/internal/queue"
	"github.com/your-org/knot/internal/storage"
)

// SystemHandler serves liveness and readiness for the pipeline's backing
// services: postgres (descriptors), minio (photo bytes) and nats (the
// processed-photo feed).
type SystemHandler struct {
	db       *storage.PostgresStore
	objects  *storage.MinIOStore
	producer *queue.Producer
}

func NewSystemHandler(db *storage.PostgresStore, objects *storage.MinIOStore, producer *queue.Producer) *SystemHandler {
	return &SystemHandler{db: db, objects: objects, producer: producer}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz probes every backing dependency; a single failure turns the whole
// response into 503 so load balancers drain the instance.
func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	probes := []struct {
		name  string
		check func(context.Context) error
	}{
		{"postgres", h.db.Ping},
		{"minio", h.objects.Ping},
		{"nats", func(context.Context) error { return h.producer.Ping() }},
	}

	checks := make(map[string]string, len(probes))
	ready := true
	for _, p := range probes {
		if err := p.check(ctx); err != nil {
			checks[p.name] = err.Error()
			ready = false
			continue
		}
		checks[p.name] = "ok"
	}

	status, state := http.StatusOK, "ready"
	if !ready {
		status, state = http.StatusServiceUnavailable, "not ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
