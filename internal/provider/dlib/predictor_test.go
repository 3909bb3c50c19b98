package dlib

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

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

func points(n int) [][2]float64 {
	pts := make([][2]float64, n)
	for i := range pts {
		pts[i] = [2]float64{float64(i), float64(2 * i)}
	}
	return pts
}

func TestPredictor_Locate(t *testing.T) {
	tests := []struct {
		name         string
		serverStatus int
		response     interface{}
		wantErr      error
		wantErrText  string
	}{
		{
			name:         "68 points",
			serverStatus: http.StatusOK,
			response:     LandmarksResponse{Points: points(68)},
		},
		{
			name:         "short response",
			serverStatus: http.StatusOK,
			response:     LandmarksResponse{Points: points(5)},
			wantErr:      ErrWrongPointCount,
		},
		{
			name:         "service down",
			serverStatus: http.StatusBadGateway,
			response:     map[string]string{"error": "upstream"},
			wantErr:      ErrLandmarkUnavailable,
		},
		{
			name:         "rejected box",
			serverStatus: http.StatusUnprocessableEntity,
			response:     map[string]string{"error": "box outside image"},
			wantErrText:  "status 422",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/landmarks", r.URL.Path)

				var req LandmarksRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, Box{Left: 2, Top: 3, Width: 10, Height: 12}, req.Box)
				assert.NotEmpty(t, req.Img)

				w.WriteHeader(tt.serverStatus)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			p := NewPredictor(Config{BaseURL: server.URL, Timeout: 5 * time.Second})
			frame := domain.Frame{Width: 20, Height: 20, Pix: make([]uint8, 20*20*3)}

			set, err := p.Locate(context.Background(), frame, domain.FaceBox{Left: 2, Top: 3, Width: 10, Height: 12})

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.wantErrText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErrText)
			default:
				require.NoError(t, err)
				require.True(t, set.Valid())
				assert.Equal(t, domain.Point{X: 67, Y: 134}, set[67])
			}
		})
	}
}
