package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/audit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/face"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/metrics"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/video"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/webhook"

	providermock "github.com/saturnino-fabrica-de-software/deepscan/internal/provider/mock"
)

type MockAnalysisRepository struct {
	mock.Mock
}

func (m *MockAnalysisRepository) Create(ctx context.Context, a *domain.Analysis) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Analysis), args.Error(1)
}

func (m *MockAnalysisRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AnalysisStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockAnalysisRepository) SaveResult(ctx context.Context, a *domain.Analysis) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAnalysisRepository) FindSimilar(ctx context.Context, id uuid.UUID, fingerprint []float32, limit int) ([]domain.SimilarAnalysis, error) {
	args := m.Called(ctx, id, fingerprint, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SimilarAnalysis), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, url string, event webhook.EventPayload) error {
	args := m.Called(ctx, url, event)
	return args.Error(0)
}

func newTestService(t *testing.T, repo *MockAnalysisRepository, clf *providermock.Classifier, frames int) *AnalysisService {
	t.Helper()
	providers := &face.Providers{
		Detector:   providermock.NewDetector(),
		Predictor:  providermock.NewPredictor(),
		Classifier: clf,
	}
	return NewAnalysisService(repo, providers, pipeline.DefaultOptions(), t.TempDir()).
		WithSourceOpener(func(ctx context.Context, path string) (video.Source, error) {
			if _, err := os.Stat(path); err != nil {
				return nil, err
			}
			return video.NewSyntheticSource(frames, 64, 48, 30), nil
		})
}

// expectSave captures the final SaveResult call.
func expectSave(repo *MockAnalysisRepository) <-chan *domain.Analysis {
	saved := make(chan *domain.Analysis, 1)
	repo.On("SaveResult", mock.Anything, mock.AnythingOfType("*domain.Analysis")).
		Run(func(args mock.Arguments) {
			a := *args.Get(1).(*domain.Analysis)
			saved <- &a
		}).
		Return(nil).Once()
	return saved
}

func waitSaved(t *testing.T, saved <-chan *domain.Analysis) *domain.Analysis {
	t.Helper()
	select {
	case a := <-saved:
		return a
	case <-time.After(10 * time.Second):
		t.Fatal("analysis did not finish")
		return nil
	}
}

func TestAnalysisService_SubmitCompletes(t *testing.T) {
	repo := new(MockAnalysisRepository)
	notifier := new(MockNotifier)
	collector := metrics.NewCollector()

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Analysis")).Return(nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.StatusRunning, "").Return(nil)
	saved := expectSave(repo)

	notified := make(chan webhook.EventPayload, 1)
	notifier.On("Notify", mock.Anything, "https://example.com/hook", mock.Anything).
		Run(func(args mock.Arguments) { notified <- args.Get(2).(webhook.EventPayload) }).
		Return(nil)

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 200).
		WithNotifier(notifier).
		WithMetrics(collector)

	a, err := svc.Submit(context.Background(), SubmitInput{
		FileName:    "clips/interview.mp4",
		Video:       strings.NewReader("fake video bytes"),
		CallbackURL: "https://example.com/hook",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, "interview.mp4", a.FileName)
	assert.Equal(t, domain.ModeThreshold, a.Mode)
	assert.Equal(t, ".mp4", filepath.Ext(a.FilePath))

	result := waitSaved(t, saved)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Equal(t, 137, result.FramesAnalyzed)
	assert.Equal(t, 200, result.TotalFrames)
	assert.Equal(t, 30.0, result.FPS)
	require.NotNil(t, result.Verdict)
	assert.Equal(t, domain.LabelReal, result.Verdict.Label)
	assert.Equal(t, 200, result.Verdict.EstimatedReal)
	assert.Len(t, result.Fingerprint, domain.FeatureDim)
	assert.Empty(t, result.Error)

	select {
	case ev := <-notified:
		assert.Equal(t, "analysis.completed", ev.Type)
		assert.Equal(t, a.ID, ev.AnalysisID)
	case <-time.After(5 * time.Second):
		t.Fatal("callback not notified")
	}

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Zero(t, svc.Running())
	assert.NoFileExists(t, a.FilePath)
	assert.Equal(t, int64(200), collector.FramesRead.Load())
	repo.AssertExpectations(t)
}

func TestAnalysisService_SubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   SubmitInput
		wantErr *domain.AppError
	}{
		{
			name:    "missing video",
			input:   SubmitInput{FileName: "a.mp4"},
			wantErr: domain.ErrValidationFailed,
		},
		{
			name:    "missing file name",
			input:   SubmitInput{Video: strings.NewReader("x")},
			wantErr: domain.ErrValidationFailed,
		},
		{
			name:    "unknown mode",
			input:   SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x"), Mode: "vote"},
			wantErr: domain.ErrInvalidVerdictMode,
		},
		{
			name:    "callback without scheme",
			input:   SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x"), CallbackURL: "example.com/hook"},
			wantErr: domain.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockAnalysisRepository)
			svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)

			_, err := svc.Submit(context.Background(), tt.input)

			var appErr *domain.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantErr.Code, appErr.Code)
			repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestAnalysisService_SubmitCreateFails(t *testing.T) {
	repo := new(MockAnalysisRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)
	_, err := svc.Submit(context.Background(), SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x")})
	assert.ErrorContains(t, err, "db down")

	entries, err := os.ReadDir(svc.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnalysisService_InvalidVideoFails(t *testing.T) {
	repo := new(MockAnalysisRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.StatusRunning, "").Return(nil)
	saved := expectSave(repo)

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10).
		WithSourceOpener(func(ctx context.Context, path string) (video.Source, error) {
			return nil, errors.New("moov atom not found")
		})

	_, err := svc.Submit(context.Background(), SubmitInput{FileName: "broken.mp4", Video: strings.NewReader("x")})
	require.NoError(t, err)

	result := waitSaved(t, saved)
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "moov atom not found")
	assert.Nil(t, result.Verdict)
}

func TestAnalysisService_Cancel(t *testing.T) {
	repo := new(MockAnalysisRepository)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.StatusRunning, "").Return(nil)
	saved := expectSave(repo)

	clf := providermock.NewClassifier(0.9)
	clf.Delay = 20 * time.Millisecond
	svc := newTestService(t, repo, clf, 5000)

	a, err := svc.Submit(context.Background(), SubmitInput{FileName: "long.mp4", Video: strings.NewReader("x")})
	require.NoError(t, err)

	repo.On("GetByID", mock.Anything, a.ID).Return(&domain.Analysis{ID: a.ID, Status: domain.StatusRunning}, nil)

	require.Eventually(t, func() bool { return clf.Calls() > 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Cancel(context.Background(), a.ID))

	result := waitSaved(t, saved)
	assert.Equal(t, domain.StatusCancelled, result.Status)
	assert.Empty(t, result.Error)
	assert.Positive(t, result.FramesAnalyzed)
	assert.Less(t, result.FramesAnalyzed, 5000-63)
}

func TestAnalysisService_CancelStates(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name      string
		status    domain.AnalysisStatus
		mockSetup func(repo *MockAnalysisRepository)
		wantErr   error
	}{
		{
			name:    "finished",
			status:  domain.StatusCompleted,
			wantErr: domain.ErrAnalysisFinished,
		},
		{
			name:   "pending elsewhere",
			status: domain.StatusPending,
			mockSetup: func(repo *MockAnalysisRepository) {
				repo.On("UpdateStatus", mock.Anything, id, domain.StatusCancelled, "").Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockAnalysisRepository)
			repo.On("GetByID", mock.Anything, id).Return(&domain.Analysis{ID: id, Status: tt.status}, nil)
			if tt.mockSetup != nil {
				tt.mockSetup(repo)
			}

			svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)
			err := svc.Cancel(context.Background(), id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestAnalysisService_Report(t *testing.T) {
	id := uuid.New()
	completed := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	finished := &domain.Analysis{
		ID:             id,
		Status:         domain.StatusCompleted,
		FileName:       "interview.mp4",
		TotalFrames:    200,
		FPS:            30,
		FramesAnalyzed: 2,
		Scores:         []domain.ScoreRecord{domain.NewScoreRecord(63, 0.9), domain.NewScoreRecord(64, 0.9)},
		Stats:          &domain.Stats{Total: 2, RealCount: 2, RealPct: 100},
		Verdict:        &domain.Verdict{Label: domain.LabelReal, RealPct: 100, TotalFrames: 200, EstimatedReal: 200},
		CompletedAt:    &completed,
	}

	tests := []struct {
		name     string
		analysis *domain.Analysis
		wantErr  error
		contains []string
	}{
		{
			name:     "completed",
			analysis: finished,
			contains: []string{
				"DEEPFAKE DETECTION ANALYSIS REPORT",
				"Generated: 2025-03-14 09:26:53",
				"File: interview.mp4",
				"Frame 64: REAL",
			},
		},
		{
			name:     "still running",
			analysis: &domain.Analysis{ID: id, Status: domain.StatusRunning},
			wantErr:  domain.ErrAnalysisNotFinished,
		},
		{
			name:     "failed without verdict",
			analysis: &domain.Analysis{ID: id, Status: domain.StatusFailed, Error: "boom"},
			wantErr:  domain.ErrAnalysisNotFinished,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockAnalysisRepository)
			repo.On("GetByID", mock.Anything, id).Return(tt.analysis, nil)

			svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)
			text, err := svc.Report(context.Background(), id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, text, s)
			}

			again, err := svc.Report(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, text, again)
		})
	}
}

func TestAnalysisService_Similar(t *testing.T) {
	id := uuid.New()
	fp := make([]float32, domain.FeatureDim)
	fp[0] = 1

	tests := []struct {
		name      string
		analysis  *domain.Analysis
		mockSetup func(repo *MockAnalysisRepository)
		wantErr   error
		wantLen   int
	}{
		{
			name:     "completed with fingerprint",
			analysis: &domain.Analysis{ID: id, Status: domain.StatusCompleted, Fingerprint: fp},
			mockSetup: func(repo *MockAnalysisRepository) {
				repo.On("FindSimilar", mock.Anything, id, fp, 3).Return([]domain.SimilarAnalysis{
					{ID: uuid.New(), Similarity: 0.98},
					{ID: uuid.New(), Similarity: 0.71},
				}, nil)
			},
			wantLen: 2,
		},
		{
			name:     "no fingerprint",
			analysis: &domain.Analysis{ID: id, Status: domain.StatusCompleted},
			wantErr:  domain.ErrNoFingerprint,
		},
		{
			name:     "not completed",
			analysis: &domain.Analysis{ID: id, Status: domain.StatusCancelled, Fingerprint: fp},
			wantErr:  domain.ErrAnalysisNotFinished,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockAnalysisRepository)
			repo.On("GetByID", mock.Anything, id).Return(tt.analysis, nil)
			if tt.mockSetup != nil {
				tt.mockSetup(repo)
			}

			svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)
			out, err := svc.Similar(context.Background(), id, 3)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, out, tt.wantLen)
			repo.AssertExpectations(t)
		})
	}
}

func TestAnalysisService_GetNotFound(t *testing.T) {
	repo := new(MockAnalysisRepository)
	id := uuid.New()
	repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrAnalysisNotFound)

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)
	_, err := svc.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrAnalysisNotFound)
}

func TestAnalysisService_ShutdownRejectsSubmit(t *testing.T) {
	repo := new(MockAnalysisRepository)
	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10)

	require.NoError(t, svc.Shutdown(context.Background()))

	_, err := svc.Submit(context.Background(), SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x")})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, e audit.Event) error {
	if e.Actor == "" {
		e.Actor = audit.ActorFrom(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func TestAnalysisService_AuditTrail(t *testing.T) {
	repo := new(MockAnalysisRepository)
	trail := &recordingAudit{}

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Analysis")).Return(nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.StatusRunning, "").Return(nil)
	saved := expectSave(repo)

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 100).WithAudit(trail)

	ctx := audit.WithActor(context.Background(), "key-1")
	a, err := svc.Submit(ctx, SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x")})
	require.NoError(t, err)

	result := waitSaved(t, saved)
	require.NoError(t, svc.Shutdown(context.Background()))

	repo.On("GetByID", mock.Anything, a.ID).Return(result, nil)
	_, err = svc.Report(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, []audit.EventType{
		audit.EventAnalysisSubmitted,
		audit.EventAnalysisCompleted,
		audit.EventReportRead,
	}, trail.types())

	trail.mu.Lock()
	defer trail.mu.Unlock()
	assert.Equal(t, "key-1", trail.events[0].Actor)
	assert.Empty(t, trail.events[1].Actor)
	assert.Equal(t, "REAL", trail.events[1].Metadata["label"])
	assert.Equal(t, "key-1", trail.events[2].Actor)
}

type MockSimilarCache struct {
	mock.Mock
}

func (m *MockSimilarCache) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSimilarCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockSimilarCache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	args := m.Called(ctx, pattern)
	return args.Get(0).(int64), args.Error(1)
}

func TestAnalysisService_SimilarCached(t *testing.T) {
	id := uuid.New()
	other := uuid.New()
	fp := make([]float32, domain.FeatureDim)
	fp[1] = 1
	key := "similar:" + id.String() + ":5"
	analysis := &domain.Analysis{ID: id, Status: domain.StatusCompleted, Fingerprint: fp}

	t.Run("miss queries and stores", func(t *testing.T) {
		repo := new(MockAnalysisRepository)
		cache := new(MockSimilarCache)
		repo.On("GetByID", mock.Anything, id).Return(analysis, nil)
		repo.On("FindSimilar", mock.Anything, id, fp, 5).
			Return([]domain.SimilarAnalysis{{ID: other, Similarity: 0.93}}, nil).Once()
		cache.On("Get", mock.Anything, key).Return(nil, errors.New("cache miss"))
		cache.On("Set", mock.Anything, key, mock.AnythingOfType("[]uint8"), time.Minute).Return(nil)

		svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10).WithCache(cache, time.Minute)
		out, err := svc.Similar(context.Background(), id, 5)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, other, out[0].ID)
		repo.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("hit skips the query", func(t *testing.T) {
		repo := new(MockAnalysisRepository)
		cache := new(MockSimilarCache)
		repo.On("GetByID", mock.Anything, id).Return(analysis, nil)
		cache.On("Get", mock.Anything, key).
			Return([]byte(`[{"id":"`+other.String()+`","similarity":0.93}]`), nil)

		svc := newTestService(t, repo, providermock.NewClassifier(0.9), 10).WithCache(cache, time.Minute)
		out, err := svc.Similar(context.Background(), id, 5)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.InDelta(t, 0.93, out[0].Similarity, 1e-9)
		repo.AssertNotCalled(t, "FindSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAnalysisService_CompletionInvalidatesCache(t *testing.T) {
	repo := new(MockAnalysisRepository)
	cache := new(MockSimilarCache)

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Analysis")).Return(nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.StatusRunning, "").Return(nil)
	saved := expectSave(repo)
	cache.On("DeletePattern", mock.Anything, "similar:%").Return(int64(2), nil).Once()

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 70).WithCache(cache, time.Minute)
	_, err := svc.Submit(context.Background(), SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x")})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, waitSaved(t, saved).Status)
	require.NoError(t, svc.Shutdown(context.Background()))
	cache.AssertExpectations(t)
}

func TestAnalysisService_RemoteCancelWins(t *testing.T) {
	repo := new(MockAnalysisRepository)
	cache := new(MockSimilarCache)
	trail := &recordingAudit{}

	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Analysis")).Return(nil)
	repo.On("UpdateStatus", mock.Anything, mock.Anything, domain.StatusRunning, "").Return(nil)
	saved := make(chan *domain.Analysis, 1)
	repo.On("SaveResult", mock.Anything, mock.AnythingOfType("*domain.Analysis")).
		Run(func(args mock.Arguments) {
			a := *args.Get(1).(*domain.Analysis)
			saved <- &a
		}).
		Return(domain.ErrAnalysisFinished).Once()

	svc := newTestService(t, repo, providermock.NewClassifier(0.9), 70).
		WithCache(cache, time.Minute).
		WithAudit(trail)
	_, err := svc.Submit(context.Background(), SubmitInput{FileName: "a.mp4", Video: strings.NewReader("x")})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, waitSaved(t, saved).Status)
	require.NoError(t, svc.Shutdown(context.Background()))

	repo.AssertExpectations(t)
	cache.AssertNotCalled(t, "DeletePattern", mock.Anything, mock.Anything)
	assert.Equal(t, []audit.EventType{audit.EventAnalysisSubmitted}, trail.types())
}
