// Package vision wraps the ONNX face models behind a single capability
// handle. Loading is explicit and happens once per process; the returned
// handle is passed into the extraction and matching paths by reference.
package vision

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/knot/internal/config"
	"github.com/your-org/knot/internal/descriptor"
	"github.com/your-org/knot/internal/observability"
)

// Face is one detected face: a pixel-space bounding box plus the normalized
// descriptor vector used for matching.
type Face struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Descriptor []float32
}

// Width returns the pixel width of the face box.
func (f Face) Width() int { return int(f.BBox[2] - f.BBox[0]) }

// Height returns the pixel height of the face box.
func (f Face) Height() int { return int(f.BBox[3] - f.BBox[1]) }

// Capability bundles the detector and recognizer sessions. It is not safe
// for concurrent use; each worker process owns exactly one.
type Capability struct {
	detector   *Detector
	recognizer *Recognizer
}

var ortInit sync.Once

// Load initialises the ONNX runtime and loads both models from cfg.ModelsDir.
// This is the expensive one-time step; callers must not reload per image.
func Load(cfg config.VisionConfig) (*Capability, error) {
	var initErr error
	ortInit.Do(func() {
		ort.SetSharedLibraryPath(onnxLibPath())
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", initErr)
	}

	det, err := NewDetector(cfg)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	rec, err := NewRecognizer(cfg)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load recognizer: %w", err)
	}

	return &Capability{detector: det, recognizer: rec}, nil
}

// DescriptorDim reports the length of the vectors this capability emits.
func (c *Capability) DescriptorDim() int {
	return c.recognizer.dim
}

// DetectFaces finds every face in the image and computes a normalized
// descriptor for each. Zero faces is a normal outcome, not an error.
func (c *Capability) DetectFaces(img image.Image) ([]Face, error) {
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	start := time.Now()
	input := toModelInput(img, c.detector.inputW, c.detector.inputH, detMean, detStd)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	boxes, err := c.detector.Detect(input, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]Face, 0, len(boxes))
	for _, b := range boxes {
		crop := cropFace(img, b.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		recInput := toModelInput(crop, c.recognizer.inputW, c.recognizer.inputH, recMean, recStd)
		raw, err := c.recognizer.Extract(recInput)
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("extract descriptor: %w", err)
		}

		faces = append(faces, Face{
			BBox:       b.BBox,
			Confidence: b.Confidence,
			Descriptor: descriptor.Normalize(raw),
		})
	}

	return faces, nil
}

// Close releases both ONNX sessions.
func (c *Capability) Close() {
	if c.detector != nil {
		c.detector.Close()
	}
	if c.recognizer != nil {
		c.recognizer.Close()
	}
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
