package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/knot/internal/api"
	"github.com/your-org/knot/internal/api/ws"
	"github.com/your-org/knot/internal/config"
	"github.com/your-org/knot/internal/face"
	"github.com/your-org/knot/internal/models"
	"github.com/your-org/knot/internal/observability"
	"github.com/your-org/knot/internal/queue"
	"github.com/your-org/knot/internal/storage"
	"github.com/your-org/knot/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	migrate := flag.Bool("migrate", false, "run schema migration on startup")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting knot API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *migrate {
		if err := db.Migrate(context.Background(), cfg.Vision.DescriptorDim); err != nil {
			slog.Error("migrate schema", "error", err)
			os.Exit(1)
		}
		slog.Info("schema migrated", "descriptorDim", cfg.Vision.DescriptorDim)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Consume processing notifications and push them to gallery clients.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create notification consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumePhotoProcessed(ctx, "api-photos", func(ctx context.Context, msg jetstream.Msg) error {
		var processed models.PhotoProcessed
		if err := json.Unmarshal(msg.Data(), &processed); err != nil {
			return err
		}
		hub.BroadcastPhotoProcessed(processed)
		return nil
	})
	if err != nil {
		slog.Warn("start notification consumer", "error", err)
	}

	// Load the vision capability for the on-demand process/match endpoints.
	capability, err := vision.Load(cfg.Vision)
	if err != nil {
		slog.Error("load vision capability", "error", err)
		os.Exit(1)
	}
	defer capability.Close()

	faces := face.NewService(db, minioStore, capability, producer,
		cfg.Match, cfg.Pipeline.MaxImageDim, slog.Default())

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		Faces:    faces,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
