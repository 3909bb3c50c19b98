package rekognition

import (
	"context"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

const (
	// maxImageSize is the maximum image size supported by AWS Rekognition (5MB)
	maxImageSize = 5 * 1024 * 1024
	// minImageSize is the minimum image size for valid processing
	minImageSize = 100
)

var _ provider.FaceDetector = (*Detector)(nil)

// Detector implements provider.FaceDetector with the DetectFaces API
type Detector struct {
	api    API
	config Config
}

// DetectorOption defines optional configuration for Detector
type DetectorOption func(*Detector)

// WithAPI replaces the AWS client, mainly for tests
func WithAPI(api API) DetectorOption {
	return func(d *Detector) {
		d.api = api
	}
}

func NewDetector(ctx context.Context, cfg Config, opts ...DetectorOption) (*Detector, error) {
	d := &Detector{config: cfg}
	for _, opt := range opts {
		opt(d)
	}

	if d.api == nil {
		api, err := NewAPI(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create rekognition client: %w", err)
		}
		d.api = api
	}

	return d, nil
}

func validateImage(image []byte) error {
	if len(image) < minImageSize {
		return fmt.Errorf("%w: image too small (%d bytes, minimum %d)", ErrInvalidImage, len(image), minImageSize)
	}
	if len(image) > maxImageSize {
		return fmt.Errorf("%w: image too large (%d bytes, maximum %d)", ErrInvalidImage, len(image), maxImageSize)
	}
	return nil
}

// Detect returns faces in pixel coordinates. Rekognition reports boxes as
// ratios of the image size, which may fall slightly outside [0, 1].
func (d *Detector) Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceBox, error) {
	img, err := provider.EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}
	if err := validateImage(img); err != nil {
		return nil, fmt.Errorf("frame %d: %w", frame.Index, err)
	}

	output, err := d.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: img},
		Attributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		return nil, fmt.Errorf("frame %d: detect faces: %w", frame.Index, classifyError(err))
	}

	boxes := make([]domain.FaceBox, 0, len(output.FaceDetails))
	for _, detail := range output.FaceDetails {
		if detail.BoundingBox == nil {
			continue
		}
		confidence := aws.ToFloat32(detail.Confidence)
		if confidence < d.config.MinConfidence {
			continue
		}
		boxes = append(boxes, toFaceBox(detail.BoundingBox, frame.Width, frame.Height, confidence))
	}

	return boxes, nil
}

func toFaceBox(bb *types.BoundingBox, width, height int, confidence float32) domain.FaceBox {
	left := clampRatio(aws.ToFloat32(bb.Left))
	top := clampRatio(aws.ToFloat32(bb.Top))
	right := clampRatio(aws.ToFloat32(bb.Left) + aws.ToFloat32(bb.Width))
	bottom := clampRatio(aws.ToFloat32(bb.Top) + aws.ToFloat32(bb.Height))

	x0 := int(math.Round(float64(left) * float64(width)))
	y0 := int(math.Round(float64(top) * float64(height)))
	x1 := int(math.Round(float64(right) * float64(width)))
	y1 := int(math.Round(float64(bottom) * float64(height)))

	return domain.FaceBox{
		Left:       x0,
		Top:        y0,
		Width:      x1 - x0,
		Height:     y1 - y0,
		Confidence: float64(confidence) / 100,
	}
}

func clampRatio(v float32) float32 {
	return float32(math.Max(0, math.Min(1, float64(v))))
}
