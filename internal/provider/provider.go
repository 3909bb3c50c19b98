package provider

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// FaceDetector localiza faces em um frame
type FaceDetector interface {
	// Detect retorna zero ou mais faces em coordenadas de pixel
	Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceBox, error)
}

// LandmarkPredictor localiza os 68 pontos faciais dentro de uma face
type LandmarkPredictor interface {
	// Locate retorna exatamente 68 pontos em coordenadas de pixel do frame
	Locate(ctx context.Context, frame domain.Frame, box domain.FaceBox) (domain.LandmarkSet, error)
}

// Classifier scores a [1, time, features] tensor. The result is the
// probability that the sequence comes from an authentic video.
type Classifier interface {
	Infer(ctx context.Context, tensor Tensor) (float64, error)
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Rows splits the last dimension back into rows, for wire formats that want
// nested arrays.
func (t Tensor) Rows() [][]float32 {
	if len(t.Shape) == 0 {
		return nil
	}
	width := t.Shape[len(t.Shape)-1]
	if width == 0 {
		return nil
	}
	rows := make([][]float32, 0, len(t.Data)/width)
	for i := 0; i+width <= len(t.Data); i += width {
		rows = append(rows, t.Data[i:i+width])
	}
	return rows
}

const jpegQuality = 90

// EncodeJPEG encodes a frame for providers that take image bytes.
func EncodeJPEG(frame domain.Frame) ([]byte, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("encode frame %d: invalid frame", frame.Index)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image(), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", frame.Index, err)
	}
	return buf.Bytes(), nil
}
