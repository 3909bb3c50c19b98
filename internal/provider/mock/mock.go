package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

var (
	_ provider.FaceDetector      = (*Detector)(nil)
	_ provider.LandmarkPredictor = (*Predictor)(nil)
	_ provider.Classifier        = (*Classifier)(nil)
)

// Detector retorna sempre as mesmas faces, para testes e desenvolvimento
type Detector struct {
	Boxes []domain.FaceBox
	Err   error
}

// NewDetector detects one face covering the central half of every frame
func NewDetector() *Detector {
	return &Detector{}
}

func (d *Detector) Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceBox, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Boxes != nil {
		return d.Boxes, nil
	}
	return []domain.FaceBox{{
		Left:       frame.Width / 4,
		Top:        frame.Height / 4,
		Width:      frame.Width / 2,
		Height:     frame.Height / 2,
		Confidence: 0.99,
	}}, nil
}

// Predictor places the 68 points on a deterministic grid inside the box
type Predictor struct {
	Err error
}

func NewPredictor() *Predictor {
	return &Predictor{}
}

func (p *Predictor) Locate(ctx context.Context, frame domain.Frame, box domain.FaceBox) (domain.LandmarkSet, error) {
	if p.Err != nil {
		return nil, p.Err
	}

	const cols = 9
	rows := (domain.NumLandmarks + cols - 1) / cols
	set := make(domain.LandmarkSet, domain.NumLandmarks)
	for i := range set {
		c, r := i%cols, i/cols
		set[i] = domain.Point{
			X: float64(box.Left) + float64(box.Width)*float64(c)/float64(cols-1),
			Y: float64(box.Top) + float64(box.Height)*float64(r)/float64(rows-1),
		}
	}
	return set, nil
}

// Classifier returns Score after Delay, ignoring the input. Delay does not
// observe ctx, mimicking a binding that cannot be interrupted.
type Classifier struct {
	Score float64
	Delay time.Duration
	Err   error
	// ScoreFunc, when set, overrides Score using the call number (0-based).
	ScoreFunc func(call int) float64

	calls atomic.Int64
}

func NewClassifier(score float64) *Classifier {
	return &Classifier{Score: score}
}

func (c *Classifier) Infer(ctx context.Context, tensor provider.Tensor) (float64, error) {
	call := int(c.calls.Add(1) - 1)
	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}
	if c.Err != nil {
		return 0, c.Err
	}
	if c.ScoreFunc != nil {
		return c.ScoreFunc(call), nil
	}
	return c.Score, nil
}

// Calls reports how many times Infer was invoked.
func (c *Classifier) Calls() int {
	return int(c.calls.Load())
}
