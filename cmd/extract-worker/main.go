// extract-worker is one isolated worker process of the batch pipeline. It is
// spawned by the extractor coordinator, reads its assignment from the
// environment, and streams progress as line-delimited JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/your-org/knot/internal/config"
	"github.com/your-org/knot/internal/extract"
	"github.com/your-org/knot/internal/observability"
	"github.com/your-org/knot/internal/storage"
	"github.com/your-org/knot/internal/vision"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Default()
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	wcfg, files, err := extract.WorkerConfigFromEnv()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	capability, err := vision.Load(cfg.Vision)
	if err != nil {
		fatal(fmt.Errorf("load vision capability: %w", err))
	}
	defer capability.Close()

	// Dry runs never touch the database; the benchmark harness relies on
	// being able to run without one.
	var store extract.DescriptorStore
	if !wcfg.DryRun {
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			fatal(fmt.Errorf("connect to postgres: %w", err))
		}
		defer db.Close()
		store = db
	}

	worker := extract.NewWorker(capability, store, wcfg, os.Stdout, slog.Default())
	if err := worker.Run(ctx, files); err != nil {
		os.Exit(1)
	}
}

// fatal reports a startup failure on the protocol stream and exits, so the
// coordinator sees a structured cause rather than just a dead process.
func fatal(err error) {
	line, _ := json.Marshal(extract.Message{Type: extract.MsgError, Error: err.Error()})
	fmt.Fprintf(os.Stdout, "%s\n", line)
	os.Exit(1)
}
