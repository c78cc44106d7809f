// extractor is the batch pipeline coordinator CLI. It discovers the photo
// set, partitions it across extract-worker processes, and prints a final
// machine-parseable summary line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/your-org/knot/internal/config"
	"github.com/your-org/knot/internal/extract"
	"github.com/your-org/knot/internal/observability"
	"github.com/your-org/knot/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	eventRef := flag.String("event", "", "event UUID or share code (required)")
	imagesDir := flag.String("images-dir", "", "directory holding the photos to process")
	linkPrefix := flag.String("link-prefix", "uploads", "logical link prefix for stored photos")
	pendingOnly := flag.Bool("pending-only", false, "process only photos without descriptors (from DB)")
	dryRun := flag.Bool("dry-run", false, "run detection but skip persistence")
	concurrency := flag.Int("concurrency", 0, "worker process count (default from config)")
	batchSize := flag.Int("batch-size", 0, "files per flush (default from config)")
	workerBinary := flag.String("worker", "", "path to the extract-worker binary (default from config)")
	noProgress := flag.Bool("no-progress", false, "disable the progress bar")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if *eventRef == "" {
		fmt.Fprintln(os.Stderr, "--event is required")
		os.Exit(2)
	}
	if *imagesDir == "" {
		fmt.Fprintln(os.Stderr, "--images-dir is required")
		os.Exit(2)
	}
	if *concurrency == 0 {
		*concurrency = cfg.Pipeline.Concurrency
	}
	if *batchSize == 0 {
		*batchSize = cfg.Pipeline.BatchSize
	}
	if *workerBinary == "" {
		*workerBinary = cfg.Pipeline.WorkerBinary
	}
	if *workerBinary == "" {
		*workerBinary = "extract-worker"
	}

	ctx := context.Background()

	eventID, files, err := resolveRun(ctx, cfg, *eventRef, *imagesDir, *linkPrefix, *pendingOnly)
	if err != nil {
		slog.Error("prepare run", "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println(extract.Summary{}.String())
		return
	}

	coordinator := extract.NewCoordinator(extract.CoordinatorConfig{
		WorkerBinary: *workerBinary,
		Concurrency:  *concurrency,
		BatchSize:    *batchSize,
		MaxImageDim:  cfg.Pipeline.MaxImageDim,
		DryRun:       *dryRun,
		EventID:      eventID.String(),
		ImagesDir:    *imagesDir,
		LinkPrefix:   *linkPrefix,
	}, slog.Default())

	if !*noProgress {
		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("extracting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		coordinator.OnMessage = func(m extract.Message) {
			if m.Type == extract.MsgProgress {
				_ = bar.Add(1)
			}
		}
	}

	summary, runErr := coordinator.Run(ctx, files)
	fmt.Println(summary.String())
	if runErr != nil {
		slog.Error("pipeline run finished with failures", "error", runErr)
		os.Exit(1)
	}
}

// resolveRun turns the CLI's event reference into an event ID and builds the
// file list, either from the images directory or from the set of photos that
// still lack descriptors.
func resolveRun(ctx context.Context, cfg *config.Config, eventRef, imagesDir, linkPrefix string, pendingOnly bool) (uuid.UUID, []string, error) {
	var (
		eventID uuid.UUID
		db      *storage.PostgresStore
	)

	// A literal UUID needs no database round trip; share codes do.
	if id, err := uuid.Parse(eventRef); err == nil && !pendingOnly {
		eventID = id
	} else {
		var err error
		db, err = storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		event, err := db.ResolveEvent(ctx, eventRef)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("resolve event: %w", err)
		}
		if event == nil {
			return uuid.Nil, nil, fmt.Errorf("event %q not found", eventRef)
		}
		eventID = event.ID
	}

	if pendingOnly {
		links, err := db.ListPendingLinks(ctx, eventID)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("list pending photos: %w", err)
		}
		prefix := "/" + strings.Trim(linkPrefix, "/") + "/"
		files := make([]string, 0, len(links))
		for _, link := range links {
			files = append(files, strings.TrimPrefix(link, prefix))
		}
		return eventID, files, nil
	}

	files, err := listImages(imagesDir)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return eventID, files, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
