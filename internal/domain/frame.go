package domain

import (
	"fmt"
	"image"
)

const (
	NumLandmarks        = 68
	FeaturesPerLandmark = 5
	FeatureDim          = NumLandmarks * FeaturesPerLandmark
	DefaultChunkSize    = 64
)

// Frame is one decoded video frame stored as packed RGB, row-major.
// Frames are shared between the scoring and preview paths and must not be
// modified once produced by a source.
type Frame struct {
	Index  int
	Width  int
	Height int
	Pix    []uint8
}

// NewFrame validates the pixel buffer against the given dimensions.
func NewFrame(index, width, height int, pix []uint8) (Frame, error) {
	f := Frame{Index: index, Width: width, Height: height, Pix: pix}
	if !f.Valid() {
		return Frame{}, fmt.Errorf("invalid frame %dx%d with %d bytes", width, height, len(pix))
	}
	return f, nil
}

// FrameFromImage copies any image.Image into a packed RGB frame.
func FrameFromImage(index int, img image.Image) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pix = append(pix, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
		}
	}
	return Frame{Index: index, Width: w, Height: h, Pix: pix}
}

func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}

// At returns the color at (x, y). Callers must keep the point in bounds.
func (f Frame) At(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Image returns an RGBA copy suitable for encoding.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FaceBox is an axis-aligned face region in pixel coordinates.
type FaceBox struct {
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (b FaceBox) Area() int {
	return b.Width * b.Height
}

// LargestFace returns the box with the greatest area. The first box wins ties.
func LargestFace(boxes []FaceBox) (FaceBox, bool) {
	if len(boxes) == 0 {
		return FaceBox{}, false
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area() > best.Area() {
			best = b
		}
	}
	return best, true
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkSet holds the 68-point facial landmark topology:
// 0-16 jaw, 17-26 eyebrows, 27-35 nose, 36-47 eyes, 48-67 mouth.
type LandmarkSet []Point

func (l LandmarkSet) Valid() bool {
	return len(l) == NumLandmarks
}

// FeatureVector is x, y, r, g, b per landmark, in landmark order.
type FeatureVector []float32

func ZeroFeatureVector() FeatureVector {
	return make(FeatureVector, FeatureDim)
}

func (v FeatureVector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Chunk is an ordered window of feature vectors, oldest first.
type Chunk struct {
	// EndFrame is the index of the frame that completed the window.
	EndFrame int
	Vectors  []FeatureVector
}
