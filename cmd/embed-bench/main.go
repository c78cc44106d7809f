// embed-bench sweeps the batch pipeline's worker concurrency and reports the
// fastest setting for this machine. Every run is a dry run; nothing is
// written to the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/knot/internal/extract"
)

func main() {
	coordinatorBinary := flag.String("coordinator", "extractor", "path to the extractor binary")
	maxConcurrency := flag.Int("max-concurrency", 0, "highest concurrency to try (default min(2*GOMAXPROCS, 16))")
	timeout := flag.Duration("timeout", 10*time.Minute, "per-run timeout")
	flag.Parse()

	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Remaining args (event, images dir, config path) pass straight through
	// to every coordinator run.
	results, err := extract.RunSweep(ctx, extract.BenchConfig{
		CoordinatorBinary: *coordinatorBinary,
		Args:              flag.Args(),
		MaxConcurrency:    *maxConcurrency,
		Timeout:           *timeout,
	}, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep aborted: %v\n", err)
		os.Exit(1)
	}

	best, err := extract.Best(results)
	if err != nil {
		if errors.Is(err, extract.ErrNoSuccessfulRuns) {
			fmt.Fprintln(os.Stderr, "no successful runs")
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Best concurrency: %d (%.2fs for %d files)\n",
		best.Concurrency, best.Duration.Seconds(), best.Summary.ProcessedFiles)
}
