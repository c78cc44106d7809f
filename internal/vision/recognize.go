package vision

import (
	"fmt"
	"path/filepath"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/knot/internal/config"
)

// Recognizer turns an aligned face crop into a raw descriptor vector.
// The output dimensionality is a model property surfaced through config so
// the rest of the system never hardcodes it.
type Recognizer struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	dim          int
}

func NewRecognizer(cfg config.VisionConfig) (*Recognizer, error) {
	// MobileFaceNet-style recognition nets expect 112x112 crops.
	const inputW, inputH = 112, 112
	dim := cfg.DescriptorDim
	modelPath := filepath.Join(cfg.ModelsDir, "recognition.onnx")

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputH, inputW))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"output"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create recognizer session: %w", err)
	}

	return &Recognizer{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		dim:          dim,
	}, nil
}

// Extract runs the recognition net on a preprocessed face crop and returns
// the raw (un-normalized) descriptor.
func (r *Recognizer) Extract(input []float32) ([]float32, error) {
	copy(r.inputTensor.GetData(), input)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("run recognition: %w", err)
	}

	out := make([]float32, r.dim)
	copy(out, r.outputTensor.GetData())
	return out, nil
}

func (r *Recognizer) Close() {
	if r.session != nil {
		r.session.Destroy()
	}
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
}
