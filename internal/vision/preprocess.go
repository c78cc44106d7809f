package vision

import (
	"image"

	"github.com/disintegration/imaging"
)

// per-channel normalization constants for each model's training regime
var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128.0, 128.0, 128.0}
	recMean = [3]float32{127.5, 127.5, 127.5}
	recStd  = [3]float32{127.5, 127.5, 127.5}
)

// Downscale shrinks img so its longest side is at most maxDim, preserving
// aspect ratio. Images already within bounds are returned unchanged. This
// caps per-image detection latency for very large uploads.
func Downscale(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxDim && bounds.Dy() <= maxDim {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// toModelInput resizes img to the model's input size and lays the pixels out
// as CHW float32 with (pixel - mean) / std normalization per channel.
func toModelInput(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := imaging.Resize(img, targetW, targetH, imaging.Linear)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			idx := y*w + x
			data[0*h*w+idx] = (float32(r>>8) - mean[0]) / std[0]
			data[1*h*w+idx] = (float32(g>>8) - mean[1]) / std[1]
			data[2*h*w+idx] = (float32(b>>8) - mean[2]) / std[2]
		}
	}
	return data
}

// cropFace extracts the face region with 10% padding on each side, clamped
// to the image bounds. Returns nil for degenerate boxes.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1, y1 := int(bbox[0]), int(bbox[1])
	x2, y2 := int(bbox[2]), int(bbox[3])

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := w / 10
	padH := h / 10
	rect := image.Rect(x1-padW, y1-padH, x2+padW, y2+padH).Intersect(bounds)
	if rect.Empty() {
		return nil
	}

	return imaging.Crop(img, rect)
}
