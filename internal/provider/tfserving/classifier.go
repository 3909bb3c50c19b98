// Package tfserving runs the sequence classifier through the TensorFlow
// Serving REST predict API.
package tfserving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/httpjson"
)

var (
	ErrServingUnavailable = errors.New("tensorflow serving unavailable")
	ErrEmptyPrediction    = errors.New("empty prediction")
)

var _ provider.Classifier = (*Classifier)(nil)

type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RetryCount int
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8501",
		Model:   "deepfake_landmarks",
		Timeout: 5 * time.Second,
	}
}

// PredictRequest uses the row format: one instance per batch element.
type PredictRequest struct {
	Instances [][][]float32 `json:"instances"`
}

// PredictResponse keeps predictions raw since a sigmoid head may be
// returned as [[p]] or [p] depending on the exported signature.
type PredictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}

type Classifier struct {
	client *httpjson.Client
	path   string
}

func NewClassifier(config Config) *Classifier {
	return &Classifier{
		client: httpjson.NewClient(httpjson.Config{
			Service:    "tfserving",
			BaseURL:    config.BaseURL,
			Timeout:    config.Timeout,
			RetryCount: config.RetryCount,
		}),
		path: fmt.Sprintf("/v1/models/%s:predict", url.PathEscape(config.Model)),
	}
}

func (c *Classifier) Infer(ctx context.Context, tensor provider.Tensor) (float64, error) {
	if len(tensor.Shape) != 3 || tensor.Shape[0] != 1 {
		return 0, fmt.Errorf("tfserving expects a [1, T, F] tensor, got %v", tensor.Shape)
	}

	req := PredictRequest{Instances: [][][]float32{tensor.Rows()}}

	var resp PredictResponse
	if err := c.client.Do(ctx, http.MethodPost, c.path, req, &resp); err != nil {
		if errors.Is(err, httpjson.ErrUnavailable) {
			return 0, fmt.Errorf("%w: %v", ErrServingUnavailable, err)
		}
		return 0, fmt.Errorf("predict: %w", err)
	}

	if len(resp.Predictions) == 0 {
		return 0, ErrEmptyPrediction
	}
	return decodePrediction(resp.Predictions[0])
}

func decodePrediction(raw json.RawMessage) (float64, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar, nil
	}

	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return 0, fmt.Errorf("decode prediction: %w", err)
	}
	if len(vec) == 0 {
		return 0, ErrEmptyPrediction
	}
	return vec[0], nil
}
