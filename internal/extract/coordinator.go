package extract

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CoordinatorConfig describes one pipeline run.
type CoordinatorConfig struct {
	WorkerBinary string
	Concurrency  int
	BatchSize    int
	MaxImageDim  int
	DryRun       bool
	EventID      string
	ImagesDir    string
	LinkPrefix   string
}

// Coordinator partitions a photo set across isolated worker processes and
// aggregates their progress streams. Process isolation keeps one worker's
// crash (a bad image taking down the native inference runtime) from losing
// the sibling workers' progress.
type Coordinator struct {
	cfg CoordinatorConfig
	log *slog.Logger

	// OnMessage, when set, receives every protocol message from every
	// worker. The CLI uses it to drive a progress bar.
	OnMessage func(Message)
}

func NewCoordinator(cfg CoordinatorConfig, log *slog.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, log: log}
}

// Partition splits files across n workers round-robin, so early and late
// files (which often differ in size) spread evenly.
func Partition(files []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if n > len(files) {
		n = len(files)
	}
	if n == 0 {
		return nil
	}

	parts := make([][]string, n)
	for i, f := range files {
		parts[i%n] = append(parts[i%n], f)
	}
	return parts
}

// Run executes one pipeline pass over files and returns the aggregate
// summary. Worker process failures are tolerated: surviving workers finish
// and their results count, and the error reports how many workers died.
func (c *Coordinator) Run(ctx context.Context, files []string) (Summary, error) {
	start := time.Now()

	parts := Partition(files, c.cfg.Concurrency)
	summary := Summary{Workers: len(parts)}
	if len(parts) == 0 {
		return summary, nil
	}

	c.log.Info("starting workers",
		"workers", len(parts), "files", len(files),
		"batchSize", c.cfg.BatchSize, "dryRun", c.cfg.DryRun)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed int
	)

	for i, part := range parts {
		wg.Add(1)
		go func(idx int, assigned []string) {
			defer wg.Done()

			done, err := c.runWorker(ctx, idx, assigned, func(m Message) {
				if c.OnMessage != nil {
					c.OnMessage(m)
				}
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Error("worker failed", "worker", idx, "files", len(assigned), "error", err)
				failed++
				// Only files the dead worker never reported at all count as
				// extra errors; reported failures are already in done.Errors.
				attempted := done.ProcessedFiles + len(done.Errors)
				if unreported := len(assigned) - attempted; unreported > 0 {
					summary.TotalErrors += unreported
				}
			}
			summary.ProcessedFiles += done.ProcessedFiles
			summary.TotalFaces += done.TotalFaces
			summary.TotalInserted += done.TotalInserted
			summary.TotalErrors += len(done.Errors)
		}(i, part)
	}
	wg.Wait()

	summary.Duration = time.Since(start)
	if failed > 0 {
		return summary, fmt.Errorf("%d of %d workers failed", failed, len(parts))
	}
	return summary, nil
}

// runWorker spawns one worker process and consumes its stdout stream until
// it exits. Returns the worker's done message (zero-valued if the worker
// died before emitting one).
func (c *Coordinator) runWorker(ctx context.Context, idx int, files []string, onMsg func(Message)) (Message, error) {
	fileList, err := json.Marshal(files)
	if err != nil {
		return Message{}, fmt.Errorf("marshal file list: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.cfg.WorkerBinary)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvFiles, fileList),
		fmt.Sprintf("%s=%s", EnvEventID, c.cfg.EventID),
		fmt.Sprintf("%s=%d", EnvBatchSize, c.cfg.BatchSize),
		fmt.Sprintf("%s=%d", EnvMaxImgDim, c.cfg.MaxImageDim),
		fmt.Sprintf("%s=%s", EnvDryRun, boolFlag(c.cfg.DryRun)),
		fmt.Sprintf("%s=%s", EnvImagesDir, c.cfg.ImagesDir),
		fmt.Sprintf("%s=%s", EnvLinkPrefix, c.cfg.LinkPrefix),
	)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Message{}, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Message{}, fmt.Errorf("start worker: %w", err)
	}

	var (
		done     Message
		fatalMsg string
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m, ok := ParseMessage(scanner.Bytes())
		if !ok {
			continue
		}
		switch m.Type {
		case MsgDone:
			done = m
		case MsgError:
			fatalMsg = m.Error
		}
		onMsg(m)
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return done, fmt.Errorf("worker %d: %w", idx, err)
	}
	if scanErr != nil {
		return done, fmt.Errorf("worker %d output: %w", idx, scanErr)
	}
	if fatalMsg != "" {
		return done, fmt.Errorf("worker %d: %s", idx, fatalMsg)
	}
	if done.Type == "" {
		return done, fmt.Errorf("worker %d exited without a final summary", idx)
	}
	return done, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
