// Package extract implements the batch embedding pipeline: a coordinator
// that partitions the photo set across isolated worker processes, the worker
// loop itself, and the benchmark harness that tunes worker concurrency.
//
// Coordinator and workers talk over a line-delimited JSON message contract
// on the worker's stdout. That contract, together with the worker
// environment variables below, is the pipeline's wire protocol; the
// benchmark harness depends on it staying stable.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Worker environment contract. The coordinator sets these when spawning a
// worker process; the worker reads nothing else.
const (
	EnvFiles      = "KNOT_WORKER_FILES" // JSON array of file names
	EnvEventID    = "KNOT_EVENT_ID"
	EnvBatchSize  = "KNOT_BATCH_SIZE"
	EnvMaxImgDim  = "KNOT_MAX_IMG_DIM"
	EnvDryRun     = "KNOT_DRY_RUN"
	EnvImagesDir  = "KNOT_IMAGES_DIR"
	EnvLinkPrefix = "KNOT_LINK_PREFIX"
)

// Message kinds.
const (
	MsgProgress = "progress" // one per file, failed files included
	MsgBatch    = "batch"    // one per flushed batch
	MsgDone     = "done"     // final worker summary
	MsgError    = "error"    // fatal worker failure
)

// Message is one line of the worker's stdout stream.
type Message struct {
	Type string `json:"type"`

	// progress
	File  string `json:"file,omitempty"`
	Faces int    `json:"faces,omitempty"`

	// batch
	BatchIndex int `json:"batchIndex,omitempty"`
	Inserted   int `json:"inserted,omitempty"`

	// done
	ProcessedFiles int         `json:"processedFiles,omitempty"`
	TotalFaces     int         `json:"totalFaces,omitempty"`
	TotalInserted  int         `json:"totalInserted,omitempty"`
	Errors         []FileError `json:"errors,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// FileError records a non-fatal per-file or per-batch failure.
type FileError struct {
	File  string   `json:"file,omitempty"`
	Batch []string `json:"batchFiles,omitempty"`
	Error string   `json:"error"`
}

// ParseMessage decodes one stdout line. Lines that are not part of the
// protocol (e.g. stray prints) yield ok=false rather than an error so the
// coordinator can skip them.
func ParseMessage(line []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, false
	}
	switch m.Type {
	case MsgProgress, MsgBatch, MsgDone, MsgError:
		return m, true
	default:
		return Message{}, false
	}
}

// Summary is the coordinator's aggregate over all workers.
type Summary struct {
	Workers        int
	ProcessedFiles int
	TotalFaces     int
	TotalInserted  int
	TotalErrors    int
	Duration       time.Duration
}

// String renders the machine-parseable final line consumed by operators and
// the benchmark harness.
func (s Summary) String() string {
	return fmt.Sprintf("Summary: processedFiles=%d totalFaces=%d totalInserted=%d totalErrors=%d workers=%d duration=%.2fs",
		s.ProcessedFiles, s.TotalFaces, s.TotalInserted, s.TotalErrors, s.Workers, s.Duration.Seconds())
}

var summaryRe = regexp.MustCompile(
	`Summary: processedFiles=(\d+) totalFaces=(\d+) totalInserted=(\d+) totalErrors=(\d+) workers=(\d+) duration=([0-9.]+)s`)

// ParseSummary extracts the final summary line from a coordinator run's
// combined output. ok is false when no summary line is present (e.g. the
// run crashed before finishing).
func ParseSummary(output string) (Summary, bool) {
	m := summaryRe.FindStringSubmatch(output)
	if m == nil {
		return Summary{}, false
	}
	atoi := func(s string) int { n, _ := strconv.Atoi(s); return n }
	secs, _ := strconv.ParseFloat(m[6], 64)
	return Summary{
		ProcessedFiles: atoi(m[1]),
		TotalFaces:     atoi(m[2]),
		TotalInserted:  atoi(m[3]),
		TotalErrors:    atoi(m[4]),
		Workers:        atoi(m[5]),
		Duration:       time.Duration(secs * float64(time.Second)),
	}, true
}
