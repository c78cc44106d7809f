package vision

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/knot/internal/config"
)

// boxDetection is a raw detector hit before descriptor extraction.
type boxDetection struct {
	BBox       [4]float32 // x1, y1, x2, y2 in original-image pixels
	Confidence float32
}

// Detector runs RetinaFace (det_10g) face detection via ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

// det_10g emits one score/bbox output pair per anchor stride, with two
// anchors per feature-map cell and no batch dimension.
var detStrides = []int{8, 16, 32}

const detAnchorsPerCell = 2

const nmsIoUThreshold = 0.4

func NewDetector(cfg config.VisionConfig) (*Detector, error) {
	const inputW, inputH = 640, 640
	modelPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputH, inputW))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// Output rows per stride: (640/s)^2 * anchors. Scores first, then boxes,
	// matching the graph's node names.
	specs := []struct {
		name string
		rows int64
		cols int64
	}{
		{"448", 12800, 1}, {"471", 3200, 1}, {"494", 800, 1},
		{"451", 12800, 4}, {"474", 3200, 4}, {"497", 800, 4},
	}

	names := make([]string, len(specs))
	tensors := make([]*ort.Tensor[float32], len(specs))
	values := make([]ort.Value, len(specs))
	for i, spec := range specs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.rows, spec.cols))
		if err != nil {
			for j := 0; j < i; j++ {
				tensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		names[i] = spec.name
		tensors[i] = t
		values[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{inputTensor}, values, nil)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range tensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: tensors,
		threshold:     float32(cfg.DetectionThreshold),
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect runs detection on a preprocessed CHW input and maps the resulting
// boxes back into original-image pixel coordinates.
func (d *Detector) Detect(input []float32, origW, origH int) ([]boxDetection, error) {
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var hits []boxDetection
	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range detStrides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+3].GetData()
		hits = append(hits, d.decodeStride(stride, scores, boxes, scaleW, scaleH, origW, origH)...)
	}

	return suppressOverlaps(hits), nil
}

// decodeStride walks one stride's feature map and decodes every anchor whose
// score clears the threshold. Box outputs are distances from the anchor
// center to each edge, in stride units.
func (d *Detector) decodeStride(stride int, scores, boxes []float32, scaleW, scaleH float32, origW, origH int) []boxDetection {
	fmW := d.inputW / stride
	fmH := d.inputH / stride
	st := float32(stride)

	var out []boxDetection
	idx := 0
	for cy := 0; cy < fmH; cy++ {
		for cx := 0; cx < fmW; cx++ {
			for a := 0; a < detAnchorsPerCell; a++ {
				if scores[idx] >= d.threshold {
					ax := float32(cx) * st
					ay := float32(cy) * st
					out = append(out, boxDetection{
						BBox: [4]float32{
							clamp((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
							clamp((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
							clamp((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
							clamp((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
						},
						Confidence: scores[idx],
					})
				}
				idx++
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// suppressOverlaps performs non-maximum suppression, keeping the highest
// scoring box among overlapping candidates.
func suppressOverlaps(hits []boxDetection) []boxDetection {
	if len(hits) == 0 {
		return hits
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Confidence > hits[j].Confidence })

	suppressed := make([]bool, len(hits))
	var kept []boxDetection
	for i := range hits {
		if suppressed[i] {
			continue
		}
		kept = append(kept, hits[i])
		for j := i + 1; j < len(hits); j++ {
			if !suppressed[j] && iou(hits[i].BBox, hits[j].BBox) > nmsIoUThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
