package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/knot/internal/api/handlers"
	"github.com/your-org/knot/internal/api/ws"
	"github.com/your-org/knot/internal/auth"
	"github.com/your-org/knot/internal/face"
	"github.com/your-org/knot/internal/queue"
	"github.com/your-org/knot/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Faces    *face.Service
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB)
	v1.POST("/events", eventH.Create)
	v1.GET("/events/:ref", eventH.Get)

	// Faces
	faceH := handlers.NewFaceHandler(cfg.Faces)
	v1.POST("/faces/process", faceH.Process)
	v1.POST("/faces/match", faceH.Match)

	return r
}
