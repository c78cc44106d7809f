package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDownscaleCapsLongestSide(t *testing.T) {
	img := solidImage(1600, 1200, color.White)
	out := Downscale(img, 800)

	b := out.Bounds()
	assert.Equal(t, 800, b.Dx())
	assert.Equal(t, 600, b.Dy())
}

func TestDownscaleLeavesSmallImagesAlone(t *testing.T) {
	img := solidImage(640, 480, color.White)
	out := Downscale(img, 800)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestDownscaleDisabled(t *testing.T) {
	img := solidImage(1600, 1200, color.White)
	out := Downscale(img, 0)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestToModelInputShapeAndNormalization(t *testing.T) {
	img := solidImage(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	data := toModelInput(img, 4, 4, detMean, detStd)

	require.Len(t, data, 3*4*4)
	// White pixel: (255 - 127.5) / 128
	want := float32(255-127.5) / 128.0
	for i, v := range data {
		assert.InDelta(t, want, v, 1e-3, "index %d", i)
	}
}

func TestCropFacePadsAndClamps(t *testing.T) {
	img := solidImage(100, 100, color.White)

	crop := cropFace(img, [4]float32{10, 10, 50, 50})
	require.NotNil(t, crop)
	// 40x40 box with 10% padding on each side becomes 48x48.
	assert.Equal(t, 48, crop.Bounds().Dx())
	assert.Equal(t, 48, crop.Bounds().Dy())

	// Box at the image edge clamps instead of growing out of bounds.
	edge := cropFace(img, [4]float32{0, 0, 40, 40})
	require.NotNil(t, edge)
	assert.Equal(t, 44, edge.Bounds().Dx())
}

func TestCropFaceDegenerateBox(t *testing.T) {
	img := solidImage(100, 100, color.White)
	assert.Nil(t, cropFace(img, [4]float32{50, 50, 50, 60}))
	assert.Nil(t, cropFace(img, [4]float32{60, 50, 50, 60}))
}

func TestFaceDimensions(t *testing.T) {
	f := Face{BBox: [4]float32{10, 20, 70, 100}}
	assert.Equal(t, 60, f.Width())
	assert.Equal(t, 80, f.Height())
}
