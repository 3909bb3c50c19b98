package deepface

import (
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

var _ provider.FaceDetector = (*Detector)(nil)

// Detector implements provider.FaceDetector using DeepFace API
type Detector struct {
	client *Client
}

func NewDetector(config Config) *Detector {
	return &Detector{client: NewClient(config)}
}

// Detect returns the detected face regions. With enforce_detection off,
// DeepFace reports the whole frame with zero confidence when it finds
// nothing, so those regions are dropped.
func (d *Detector) Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceBox, error) {
	img, err := provider.EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Analyze(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	boxes := make([]domain.FaceBox, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.FaceConfidence <= 0 || r.Region.W <= 0 || r.Region.H <= 0 {
			continue
		}
		if r.Region.W >= frame.Width && r.Region.H >= frame.Height {
			continue
		}
		boxes = append(boxes, domain.FaceBox{
			Left:       r.Region.X,
			Top:        r.Region.Y,
			Width:      r.Region.W,
			Height:     r.Region.H,
			Confidence: r.FaceConfidence,
		})
	}

	return boxes, nil
}
