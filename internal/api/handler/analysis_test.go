package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/service"
)

type MockAnalysisService struct {
	mock.Mock
}

func (m *MockAnalysisService) Submit(ctx context.Context, in service.SubmitInput) (*domain.Analysis, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Analysis), args.Error(1)
}

func (m *MockAnalysisService) Get(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Analysis), args.Error(1)
}

func (m *MockAnalysisService) Cancel(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAnalysisService) Report(ctx context.Context, id uuid.UUID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockAnalysisService) Similar(ctx context.Context, id uuid.UUID, limit int) ([]domain.SimilarAnalysis, error) {
	args := m.Called(ctx, id, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SimilarAnalysis), args.Error(1)
}

func setupAnalysisApp(svc AnalysisService) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(discardLogger())})
	h := NewAnalysisHandler(svc, 1024, discardLogger())
	app.Post("/analyses", h.Submit)
	app.Get("/analyses/:id", h.Get)
	app.Delete("/analyses/:id", h.Cancel)
	app.Get("/analyses/:id/report", h.Report)
	app.Get("/analyses/:id/similar", h.Similar)
	return app
}

func multipartVideo(t *testing.T, fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if fileName != "" {
		part, err := w.CreateFormFile("video", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error.Code
}

func TestAnalysisHandler_Submit(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		fileName   string
		content    []byte
		fields     map[string]string
		setupMock  func(*MockAnalysisService)
		wantStatus int
		wantCode   string
	}{
		{
			name:     "accepted",
			fileName: "interview.mp4",
			content:  []byte("video"),
			fields:   map[string]string{"mode": "majority", "callback_url": "https://example.com/hook"},
			setupMock: func(m *MockAnalysisService) {
				m.On("Submit", mock.Anything, mock.MatchedBy(func(in service.SubmitInput) bool {
					b, _ := io.ReadAll(in.Video)
					return in.FileName == "interview.mp4" &&
						in.Mode == domain.ModeMajority &&
						in.CallbackURL == "https://example.com/hook" &&
						string(b) == "video"
				})).Return(&domain.Analysis{ID: id, Status: domain.StatusPending, FileName: "interview.mp4"}, nil)
			},
			wantStatus: 202,
		},
		{
			name:       "missing file",
			fields:     map[string]string{"mode": "threshold"},
			setupMock:  func(m *MockAnalysisService) {},
			wantStatus: 422,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "unsupported extension",
			fileName:   "notes.txt",
			content:    []byte("hello"),
			setupMock:  func(m *MockAnalysisService) {},
			wantStatus: 422,
			wantCode:   "INVALID_VIDEO",
		},
		{
			name:       "too large",
			fileName:   "big.mp4",
			content:    bytes.Repeat([]byte("x"), 2048),
			setupMock:  func(m *MockAnalysisService) {},
			wantStatus: 422,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:     "invalid mode from service",
			fileName: "clip.mov",
			content:  []byte("video"),
			fields:   map[string]string{"mode": "vote"},
			setupMock: func(m *MockAnalysisService) {
				m.On("Submit", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidVerdictMode)
			},
			wantStatus: 422,
			wantCode:   "INVALID_VERDICT_MODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAnalysisService)
			tt.setupMock(svc)
			app := setupAnalysisApp(svc)

			body, contentType := multipartVideo(t, tt.fileName, tt.content, tt.fields)
			req := httptest.NewRequest("POST", "/analyses", body)
			req.Header.Set("Content-Type", contentType)

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, resp))
			} else {
				var got map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, id.String(), got["id"])
				assert.Equal(t, "pending", got["status"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestAnalysisHandler_Get(t *testing.T) {
	id := uuid.New()
	analysis := &domain.Analysis{
		ID:          id,
		Status:      domain.StatusCompleted,
		TotalFrames: 300,
		FPS:         30,
		Scores:      []domain.ScoreRecord{domain.NewScoreRecord(63, 0.9)},
	}

	tests := []struct {
		name       string
		target     string
		setupMock  func(*MockAnalysisService)
		wantStatus int
		wantScores bool
	}{
		{
			name:   "found",
			target: "/analyses/" + id.String(),
			setupMock: func(m *MockAnalysisService) {
				m.On("Get", mock.Anything, id).Return(analysis, nil)
			},
			wantStatus: 200,
		},
		{
			name:   "with scores",
			target: "/analyses/" + id.String() + "?include=scores",
			setupMock: func(m *MockAnalysisService) {
				m.On("Get", mock.Anything, id).Return(analysis, nil)
			},
			wantStatus: 200,
			wantScores: true,
		},
		{
			name:   "not found",
			target: "/analyses/" + id.String(),
			setupMock: func(m *MockAnalysisService) {
				m.On("Get", mock.Anything, id).Return(nil, domain.ErrAnalysisNotFound)
			},
			wantStatus: 404,
		},
		{
			name:       "invalid id",
			target:     "/analyses/not-a-uuid",
			setupMock:  func(m *MockAnalysisService) {},
			wantStatus: 422,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAnalysisService)
			tt.setupMock(svc)
			app := setupAnalysisApp(svc)

			resp, err := app.Test(httptest.NewRequest("GET", tt.target, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == 200 {
				var got map[string]any
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, 10.0, got["duration_seconds"])
				_, hasScores := got["scores"]
				assert.Equal(t, tt.wantScores, hasScores)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestAnalysisHandler_Cancel(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "running", wantStatus: 202},
		{name: "already finished", err: domain.ErrAnalysisFinished, wantStatus: 409},
		{name: "unknown", err: domain.ErrAnalysisNotFound, wantStatus: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAnalysisService)
			svc.On("Cancel", mock.Anything, id).Return(tt.err)
			app := setupAnalysisApp(svc)

			resp, err := app.Test(httptest.NewRequest("DELETE", "/analyses/"+id.String(), nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAnalysisHandler_Report(t *testing.T) {
	id := uuid.New()

	t.Run("text", func(t *testing.T) {
		svc := new(MockAnalysisService)
		svc.On("Report", mock.Anything, id).Return("DEEPFAKE DETECTION ANALYSIS REPORT\n", nil)
		app := setupAnalysisApp(svc)

		resp, err := app.Test(httptest.NewRequest("GET", "/analyses/"+id.String()+"/report?download=true", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "DEEPFAKE DETECTION ANALYSIS REPORT\n", string(body))
	})

	t.Run("not finished", func(t *testing.T) {
		svc := new(MockAnalysisService)
		svc.On("Report", mock.Anything, id).Return("", domain.ErrAnalysisNotFinished)
		app := setupAnalysisApp(svc)

		resp, err := app.Test(httptest.NewRequest("GET", "/analyses/"+id.String()+"/report", nil))
		require.NoError(t, err)
		assert.Equal(t, 409, resp.StatusCode)
		assert.Equal(t, "ANALYSIS_NOT_FINISHED", errorCode(t, resp))
	})
}

func TestAnalysisHandler_Similar(t *testing.T) {
	id := uuid.New()
	other := uuid.New()

	tests := []struct {
		name       string
		query      string
		setupMock  func(*MockAnalysisService)
		wantStatus int
		wantLen    int
	}{
		{
			name: "default limit",
			setupMock: func(m *MockAnalysisService) {
				m.On("Similar", mock.Anything, id, 5).Return([]domain.SimilarAnalysis{{ID: other, Similarity: 0.97}}, nil)
			},
			wantStatus: 200,
			wantLen:    1,
		},
		{
			name:  "no matches",
			query: "?limit=3",
			setupMock: func(m *MockAnalysisService) {
				m.On("Similar", mock.Anything, id, 3).Return(nil, nil)
			},
			wantStatus: 200,
			wantLen:    0,
		},
		{
			name:       "limit out of range",
			query:      "?limit=500",
			setupMock:  func(m *MockAnalysisService) {},
			wantStatus: 422,
		},
		{
			name: "no fingerprint",
			setupMock: func(m *MockAnalysisService) {
				m.On("Similar", mock.Anything, id, 5).Return(nil, domain.ErrNoFingerprint)
			},
			wantStatus: 422,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAnalysisService)
			tt.setupMock(svc)
			app := setupAnalysisApp(svc)

			resp, err := app.Test(httptest.NewRequest("GET", "/analyses/"+id.String()+"/similar"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == 200 {
				var got SimilarResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				assert.Equal(t, id, got.AnalysisID)
				assert.Len(t, got.Matches, tt.wantLen)
			}
			svc.AssertExpectations(t)
		})
	}
}
