package deepface

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider/httpjson"
)

// Config holds the configuration for the DeepFace client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Detector   string
	RetryCount int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:5000",
		Timeout:    10 * time.Second,
		Detector:   "opencv",
		RetryCount: 2,
	}
}

// Client is the HTTP client for DeepFace API
type Client struct {
	http   *httpjson.Client
	config Config
}

func NewClient(config Config) *Client {
	return &Client{
		http: httpjson.NewClient(httpjson.Config{
			Service:    "deepface",
			BaseURL:    config.BaseURL,
			Timeout:    config.Timeout,
			RetryCount: config.RetryCount,
		}),
		config: config,
	}
}

// Analyze calls POST /analyze with no actions, which only runs detection.
// Detection is not enforced so a frame without faces is not an error.
func (c *Client) Analyze(ctx context.Context, jpeg []byte) (*AnalyzeResponse, error) {
	req := AnalyzeRequest{
		Img:              "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
		Actions:          []string{},
		Detector:         c.config.Detector,
		EnforceDetection: false,
	}

	var resp AnalyzeResponse
	if err := c.http.Do(ctx, http.MethodPost, "/analyze", req, &resp); err != nil {
		switch {
		case errors.Is(err, httpjson.ErrUnavailable):
			return nil, fmt.Errorf("%w: %v", ErrDeepFaceUnavailable, err)
		case errors.Is(err, httpjson.ErrInvalidResponse):
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return nil, err
	}

	return &resp, nil
}
