package tfserving

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

func tensor(t, f int) provider.Tensor {
	data := make([]float32, t*f)
	for i := range data {
		data[i] = float32(i%f) / float32(f)
	}
	return provider.Tensor{Shape: []int{1, t, f}, Data: data}
}

func TestClassifier_Infer(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		want     float64
		wantErr  error
		errMatch string
	}{
		{name: "nested prediction", body: `{"predictions": [[0.93]]}`, status: http.StatusOK, want: 0.93},
		{name: "flat prediction", body: `{"predictions": [0.12]}`, status: http.StatusOK, want: 0.12},
		{name: "no predictions", body: `{"predictions": []}`, status: http.StatusOK, wantErr: ErrEmptyPrediction},
		{name: "empty inner prediction", body: `{"predictions": [[]]}`, status: http.StatusOK, wantErr: ErrEmptyPrediction},
		{name: "serving down", body: `{"error": "oom"}`, status: http.StatusInternalServerError, wantErr: ErrServingUnavailable},
		{name: "bad input", body: `{"error": "shape"}`, status: http.StatusBadRequest, errMatch: "status 400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/models/deepfake_landmarks:predict", r.URL.Path)

				var req PredictRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.Len(t, req.Instances, 1)
				assert.Len(t, req.Instances[0], 4)
				assert.Len(t, req.Instances[0][0], 5)

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClassifier(Config{BaseURL: server.URL, Model: "deepfake_landmarks", Timeout: 5 * time.Second})
			got, err := c.Infer(context.Background(), tensor(4, 5))

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.errMatch != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMatch)
			default:
				require.NoError(t, err)
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestClassifier_RejectsBatchedTensor(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	_, err := c.Infer(context.Background(), provider.Tensor{Shape: []int{2, 64, 340}})
	assert.Error(t, err)
}
