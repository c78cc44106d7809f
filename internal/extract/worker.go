package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"github.com/your-org/knot/internal/descriptor"
	"github.com/your-org/knot/internal/observability"
	"github.com/your-org/knot/internal/vision"
)

// FaceDetector is the slice of the vision capability the worker needs.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]vision.Face, error)
}

// DescriptorStore is the slice of the persistence layer the worker needs.
type DescriptorStore interface {
	UpsertSingleFaceDescriptor(ctx context.Context, link string, vec []float32, eventID uuid.UUID) error
	InsertFaceDescriptors(ctx context.Context, link string, vecs [][]float32, eventID uuid.UUID) error
	MarkPhotoProcessed(ctx context.Context, link string) error
}

// WorkerConfig is populated from the coordinator's environment contract.
type WorkerConfig struct {
	EventID     uuid.UUID
	BatchSize   int
	MaxImageDim int
	DryRun      bool
	ImagesDir   string
	LinkPrefix  string
}

// WorkerConfigFromEnv reads the coordinator's environment contract and the
// file list assigned to this process.
func WorkerConfigFromEnv() (WorkerConfig, []string, error) {
	var files []string
	raw := os.Getenv(EnvFiles)
	if raw == "" {
		return WorkerConfig{}, nil, fmt.Errorf("%s is not set", EnvFiles)
	}
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return WorkerConfig{}, nil, fmt.Errorf("parse %s: %w", EnvFiles, err)
	}

	eventID, err := uuid.Parse(os.Getenv(EnvEventID))
	if err != nil {
		return WorkerConfig{}, nil, fmt.Errorf("parse %s: %w", EnvEventID, err)
	}

	cfg := WorkerConfig{
		EventID:     eventID,
		BatchSize:   intEnv(EnvBatchSize, 5),
		MaxImageDim: intEnv(EnvMaxImgDim, 800),
		DryRun:      os.Getenv(EnvDryRun) == "1",
		ImagesDir:   os.Getenv(EnvImagesDir),
		LinkPrefix:  os.Getenv(EnvLinkPrefix),
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return cfg, files, nil
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Worker processes its assigned file slice sequentially: detect faces per
// file, accumulate descriptors, and flush to storage at batch boundaries so
// flushes land in file order. One worker process owns one Worker.
type Worker struct {
	detector FaceDetector
	store    DescriptorStore
	cfg      WorkerConfig
	out      io.Writer
	log      *slog.Logger
}

func NewWorker(detector FaceDetector, store DescriptorStore, cfg WorkerConfig, out io.Writer, log *slog.Logger) *Worker {
	return &Worker{detector: detector, store: store, cfg: cfg, out: out, log: log}
}

// fileResult is one file's detection outcome held until the batch flush.
type fileResult struct {
	File        string
	Link        string
	Descriptors [][]float32
}

// Run drives the batch loop over the assigned files. Per-file and per-batch
// failures are reported in the final done message and never abort the run;
// only a context cancellation is fatal.
func (w *Worker) Run(ctx context.Context, files []string) error {
	var (
		processed int
		faces     int
		inserted  int
		failures  []FileError
	)

	for batchIdx := 0; batchIdx*w.cfg.BatchSize < len(files); batchIdx++ {
		if err := ctx.Err(); err != nil {
			w.emit(Message{Type: MsgError, Error: err.Error()})
			return err
		}

		start := batchIdx * w.cfg.BatchSize
		end := min(start+w.cfg.BatchSize, len(files))

		var batch []fileResult
		for _, file := range files[start:end] {
			res, err := w.processFile(file)
			if err != nil {
				w.log.Warn("file failed", "file", file, "error", err)
				failures = append(failures, FileError{File: file, Error: err.Error()})
				// Failed files still advance the coordinator's progress view.
				w.emit(Message{Type: MsgProgress, File: file, Error: err.Error()})
				continue
			}
			processed++
			faces += len(res.Descriptors)
			observability.PhotosProcessed.WithLabelValues("batch").Inc()
			observability.FacesDetected.WithLabelValues("batch").Add(float64(len(res.Descriptors)))
			w.emit(Message{Type: MsgProgress, File: file, Faces: len(res.Descriptors)})
			batch = append(batch, res)
		}

		n, errs := w.flush(ctx, batch)
		inserted += n
		failures = append(failures, errs...)
		w.emit(Message{Type: MsgBatch, BatchIndex: batchIdx, Inserted: n})
	}

	w.emit(Message{
		Type:           MsgDone,
		ProcessedFiles: processed,
		TotalFaces:     faces,
		TotalInserted:  inserted,
		Errors:         failures,
	})
	return nil
}

// processFile loads, downscales, and runs detection on one image. The
// returned descriptors are L2-normalized.
func (w *Worker) processFile(file string) (fileResult, error) {
	f, err := os.Open(filepath.Join(w.cfg.ImagesDir, file))
	if err != nil {
		return fileResult{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fileResult{}, fmt.Errorf("decode image: %w", err)
	}

	img = vision.Downscale(img, w.cfg.MaxImageDim)

	detected, err := w.detector.DetectFaces(img)
	if err != nil {
		return fileResult{}, fmt.Errorf("detect faces: %w", err)
	}

	descs := make([][]float32, 0, len(detected))
	for _, face := range detected {
		descs = append(descs, descriptor.Normalize(face.Descriptor))
	}

	return fileResult{
		File:        file,
		Link:        path.Join("/", w.cfg.LinkPrefix, file),
		Descriptors: descs,
	}, nil
}

// flush persists one batch. Single-face photos update the photo's existing
// row; multi-face photos get one row per face in a single transaction.
// Zero-face photos are only stamped processed so they are not retried by the
// next pipeline run.
func (w *Worker) flush(ctx context.Context, batch []fileResult) (int, []FileError) {
	if w.cfg.DryRun {
		return 0, nil
	}

	var (
		inserted int
		failures []FileError
	)
	for _, res := range batch {
		var err error
		switch len(res.Descriptors) {
		case 0:
			err = w.store.MarkPhotoProcessed(ctx, res.Link)
		case 1:
			err = w.store.UpsertSingleFaceDescriptor(ctx, res.Link, res.Descriptors[0], w.cfg.EventID)
		default:
			err = w.store.InsertFaceDescriptors(ctx, res.Link, res.Descriptors, w.cfg.EventID)
		}
		if err != nil {
			w.log.Error("persist failed", "file", res.File, "faces", len(res.Descriptors), "error", err)
			failures = append(failures, FileError{File: res.File, Error: err.Error()})
			continue
		}
		inserted += len(res.Descriptors)
	}
	return inserted, failures
}

func (w *Worker) emit(m Message) {
	line, err := json.Marshal(m)
	if err != nil {
		w.log.Error("marshal message", "error", err)
		return
	}
	fmt.Fprintf(w.out, "%s\n", line)
}
