// Package feature turns a frame into the fixed-length landmark and color
// vector the sequence classifier consumes.
package feature

import (
	"context"
	"log/slog"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/metrics"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

// Extractor is stateless; it is safe to share between goroutines as long
// as the detector and predictor are.
type Extractor struct {
	detector  provider.FaceDetector
	predictor provider.LandmarkPredictor
	metrics   *metrics.Collector
	logger    *slog.Logger
}

func NewExtractor(detector provider.FaceDetector, predictor provider.LandmarkPredictor, collector *metrics.Collector, logger *slog.Logger) *Extractor {
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		detector:  detector,
		predictor: predictor,
		metrics:   collector,
		logger:    logger,
	}
}

// Extract always returns exactly domain.FeatureDim values. A frame with no
// face, a malformed frame, or any detector/predictor failure yields the
// all-zero vector so the stream keeps going.
func (e *Extractor) Extract(ctx context.Context, frame domain.Frame) domain.FeatureVector {
	if !frame.Valid() {
		e.degraded(frame, "malformed frame", nil)
		return domain.ZeroFeatureVector()
	}

	boxes, err := e.detector.Detect(ctx, frame)
	if err != nil {
		e.degraded(frame, "face detection failed", err)
		return domain.ZeroFeatureVector()
	}

	box, ok := domain.LargestFace(boxes)
	if !ok {
		e.metrics.FacelessFrames.Add(1)
		return domain.ZeroFeatureVector()
	}

	landmarks, err := e.predictor.Locate(ctx, frame, box)
	if err != nil {
		e.degraded(frame, "landmark localization failed", err)
		return domain.ZeroFeatureVector()
	}
	if !landmarks.Valid() {
		e.degraded(frame, "unexpected landmark count", nil)
		return domain.ZeroFeatureVector()
	}

	return Encode(frame, landmarks)
}

func (e *Extractor) degraded(frame domain.Frame, reason string, err error) {
	e.metrics.DegradedFrames.Add(1)
	e.logger.Debug("frame degraded to zero vector", "frame", frame.Index, "reason", reason, "error", err)
}

// Encode writes x, y, r, g, b for each landmark in order. Points are
// truncated to pixels and clamped to the frame; coordinates are divided by
// the larger frame side so both axes share a scale.
func Encode(frame domain.Frame, landmarks domain.LandmarkSet) domain.FeatureVector {
	vec := make(domain.FeatureVector, 0, domain.FeatureDim)
	maxDim := float32(max(frame.Width, frame.Height))

	for _, p := range landmarks {
		x := clamp(int(p.X), frame.Width-1)
		y := clamp(int(p.Y), frame.Height-1)
		r, g, b := frame.At(x, y)

		vec = append(vec,
			float32(x)/maxDim,
			float32(y)/maxDim,
			float32(r)/255,
			float32(g)/255,
			float32(b)/255,
		)
	}
	return vec
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
