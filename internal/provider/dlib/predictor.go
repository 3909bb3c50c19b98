// Package dlib talks to a shape-predictor sidecar that serves the
// 68-point iBUG landmark model over HTTP.
package dlib

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/httpjson"
)

var (
	ErrLandmarkUnavailable = errors.New("landmark service unavailable")
	ErrWrongPointCount     = errors.New("landmark service returned wrong number of points")
)

var _ provider.LandmarkPredictor = (*Predictor)(nil)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:5001",
		Timeout:    10 * time.Second,
		RetryCount: 2,
	}
}

type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LandmarksRequest for POST /landmarks
type LandmarksRequest struct {
	Img string `json:"img"`
	Box Box    `json:"box"`
}

// LandmarksResponse lists points as [x, y] pairs in frame pixels.
type LandmarksResponse struct {
	Points [][2]float64 `json:"points"`
}

type Predictor struct {
	client *httpjson.Client
}

func NewPredictor(config Config) *Predictor {
	return &Predictor{
		client: httpjson.NewClient(httpjson.Config{
			Service:    "landmarks",
			BaseURL:    config.BaseURL,
			Timeout:    config.Timeout,
			RetryCount: config.RetryCount,
		}),
	}
}

func (p *Predictor) Locate(ctx context.Context, frame domain.Frame, box domain.FaceBox) (domain.LandmarkSet, error) {
	img, err := provider.EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}

	req := LandmarksRequest{
		Img: base64.StdEncoding.EncodeToString(img),
		Box: Box{Left: box.Left, Top: box.Top, Width: box.Width, Height: box.Height},
	}

	var resp LandmarksResponse
	if err := p.client.Do(ctx, http.MethodPost, "/landmarks", req, &resp); err != nil {
		if errors.Is(err, httpjson.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrLandmarkUnavailable, err)
		}
		return nil, fmt.Errorf("locate landmarks: %w", err)
	}

	if len(resp.Points) != domain.NumLandmarks {
		return nil, fmt.Errorf("%w: got %d", ErrWrongPointCount, len(resp.Points))
	}

	set := make(domain.LandmarkSet, len(resp.Points))
	for i, pt := range resp.Points {
		set[i] = domain.Point{X: pt[0], Y: pt[1]}
	}
	return set, nil
}
