package api

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ws"
)

func TestRouter_Routes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, &Dependencies{
		Analyses: nil,
		Hub:      ws.NewHub(logger),
		Limiter:  ratelimit.New(10, 10),
		APIKey:   "k",
		Version:  "test",
	})
	router.Setup()
	app := router.App()

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{name: "health", method: "GET", target: "/health", wantStatus: 200},
		{name: "ready without database", method: "GET", target: "/ready", wantStatus: 200},
		{name: "v1 disabled without service", method: "GET", target: "/v1/analyses/x", wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.target, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}
