package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"time"
)

// BenchConfig drives one concurrency sweep. Each run invokes the coordinator
// binary with dry-run forced on, so repeated runs never touch the database.
type BenchConfig struct {
	CoordinatorBinary string
	Args              []string // extra args passed through to every run
	MaxConcurrency    int      // 0 means min(2*GOMAXPROCS, 16)
	Timeout           time.Duration
}

// RunResult is one sweep point.
type RunResult struct {
	Concurrency int
	Duration    time.Duration
	Summary     Summary
	Err         error
}

// ErrNoSuccessfulRuns is returned when every sweep point failed.
var ErrNoSuccessfulRuns = errors.New("benchmark: no successful runs")

func defaultMaxConcurrency() int {
	return min(2*runtime.GOMAXPROCS(0), 16)
}

// RunSweep benchmarks the pipeline at each concurrency from 1 to the
// configured maximum, logging each point to out as it completes.
func RunSweep(ctx context.Context, cfg BenchConfig, out io.Writer) ([]RunResult, error) {
	maxC := cfg.MaxConcurrency
	if maxC < 1 {
		maxC = defaultMaxConcurrency()
	}

	results := make([]RunResult, 0, maxC)
	for c := 1; c <= maxC; c++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := runOnce(ctx, cfg, c)
		results = append(results, res)

		if res.Err != nil {
			fmt.Fprintf(out, "concurrency=%d FAILED: %v\n", c, res.Err)
			continue
		}
		fmt.Fprintf(out, "concurrency=%d duration=%.2fs processedFiles=%d totalFaces=%d\n",
			c, res.Duration.Seconds(), res.Summary.ProcessedFiles, res.Summary.TotalFaces)
	}
	return results, nil
}

func runOnce(parent context.Context, cfg BenchConfig, concurrency int) RunResult {
	ctx := parent
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, cfg.Timeout)
		defer cancel()
	}

	args := append([]string{
		"--concurrency", fmt.Sprint(concurrency),
		"--dry-run",
	}, cfg.Args...)

	start := time.Now()
	output, err := exec.CommandContext(ctx, cfg.CoordinatorBinary, args...).CombinedOutput()
	elapsed := time.Since(start)

	res := RunResult{Concurrency: concurrency, Duration: elapsed}
	if err != nil {
		res.Err = fmt.Errorf("run coordinator: %w (output: %.200s)", err, output)
		return res
	}

	summary, ok := ParseSummary(string(output))
	if !ok {
		res.Err = errors.New("coordinator output has no summary line")
		return res
	}
	res.Summary = summary
	return res
}

// Best picks the sweep point with the lowest wall-clock duration among
// successful runs. Ties keep the lower concurrency.
func Best(results []RunResult) (RunResult, error) {
	best := RunResult{}
	found := false
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if !found || r.Duration < best.Duration {
			best = r
			found = true
		}
	}
	if !found {
		return RunResult{}, ErrNoSuccessfulRuns
	}
	return best, nil
}
