package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/audit"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/face"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/metrics"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/report"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/video"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/webhook"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/ws"
)

type AnalysisRepositoryInterface interface {
	Create(ctx context.Context, a *domain.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AnalysisStatus, errMsg string) error
	SaveResult(ctx context.Context, a *domain.Analysis) error
	FindSimilar(ctx context.Context, id uuid.UUID, fingerprint []float32, limit int) ([]domain.SimilarAnalysis, error)
}

// SimilarCache keeps rendered similarity results for a while. Any completed
// analysis can change every list, so completions drop them all.
type SimilarCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}

const similarKeyPrefix = "similar:"

type Notifier interface {
	Notify(ctx context.Context, url string, event webhook.EventPayload) error
}

// SourceOpener opens the stored upload of an analysis as a frame source.
type SourceOpener func(ctx context.Context, path string) (video.Source, error)

func openFile(ctx context.Context, path string) (video.Source, error) {
	return video.OpenFile(ctx, path)
}

type SubmitInput struct {
	FileName    string
	Video       io.Reader
	Mode        domain.VerdictMode
	CallbackURL string
}

// AnalysisService stores uploaded videos and runs the pipeline over them
// in the background, one goroutine per analysis.
type AnalysisService struct {
	repo       AnalysisRepositoryInterface
	providers  *face.Providers
	opts       pipeline.Options
	uploadDir  string
	previewFPS float64

	hub      *ws.Hub
	notifier Notifier
	metrics  *metrics.Collector
	audit    audit.Logger
	cache    SimilarCache
	cacheTTL time.Duration
	logger   *slog.Logger
	open     SourceOpener

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

func NewAnalysisService(
	repo AnalysisRepositoryInterface,
	providers *face.Providers,
	opts pipeline.Options,
	uploadDir string,
) *AnalysisService {
	return &AnalysisService{
		repo:      repo,
		providers: providers,
		opts:      opts,
		uploadDir: uploadDir,
		metrics:   metrics.NewCollector(),
		audit:     &audit.NoOpLogger{},
		logger:    slog.Default(),
		open:      openFile,
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// WithHub streams live scores, progress and previews of every run.
func (s *AnalysisService) WithHub(hub *ws.Hub, previewFPS float64) *AnalysisService {
	s.hub = hub
	s.previewFPS = previewFPS
	return s
}

func (s *AnalysisService) WithNotifier(n Notifier) *AnalysisService {
	s.notifier = n
	return s
}

// WithMetrics sets the process-wide collector; each run feeds a child of it.
func (s *AnalysisService) WithMetrics(c *metrics.Collector) *AnalysisService {
	s.metrics = c
	return s
}

// WithAudit records submissions, cancellations, report reads and run
// outcomes on l.
func (s *AnalysisService) WithAudit(l audit.Logger) *AnalysisService {
	s.audit = l
	return s
}

func (s *AnalysisService) WithCache(c SimilarCache, ttl time.Duration) *AnalysisService {
	s.cache = c
	s.cacheTTL = ttl
	return s
}

func (s *AnalysisService) WithLogger(logger *slog.Logger) *AnalysisService {
	s.logger = logger
	return s
}

func (s *AnalysisService) WithSourceOpener(open SourceOpener) *AnalysisService {
	s.open = open
	return s
}

// Submit stores the video, records a pending analysis and starts the run.
// The returned analysis is a snapshot taken before the run begins.
func (s *AnalysisService) Submit(ctx context.Context, in SubmitInput) (*domain.Analysis, error) {
	if in.FileName == "" || in.Video == nil {
		return nil, domain.ErrValidationFailed.WithError(errors.New("video file is required"))
	}

	mode := in.Mode
	if mode == "" {
		mode = s.opts.Mode
	}
	if !mode.Valid() {
		return nil, domain.ErrInvalidVerdictMode
	}

	if in.CallbackURL != "" {
		if err := validateCallback(in.CallbackURL); err != nil {
			return nil, domain.ErrValidationFailed.WithError(err)
		}
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, domain.ErrShuttingDown
	}

	id := uuid.New()
	path, err := s.store(id, in.FileName, in.Video)
	if err != nil {
		return nil, err
	}

	a := &domain.Analysis{
		ID:          id,
		Status:      domain.StatusPending,
		FileName:    filepath.Base(in.FileName),
		FilePath:    path,
		Mode:        mode,
		CallbackURL: in.CallbackURL,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	snapshot := *a
	if err := s.start(a); err != nil {
		_ = s.repo.UpdateStatus(context.WithoutCancel(ctx), id, domain.StatusFailed, err.Error())
		_ = os.Remove(path)
		return nil, err
	}

	s.logger.Info("analysis submitted", "analysis_id", id, "file", a.FileName, "mode", mode)
	_ = s.audit.Log(ctx, audit.Event{
		AnalysisID: id,
		EventType:  audit.EventAnalysisSubmitted,
		FileName:   a.FileName,
		Success:    true,
		Metadata:   map[string]string{"mode": string(mode)},
	})
	return &snapshot, nil
}

func (s *AnalysisService) Get(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	return s.repo.GetByID(ctx, id)
}

// Cancel stops a running analysis. The run itself records the cancelled
// status with whatever partial result it reached.
func (s *AnalysisService) Cancel(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status.Finished() {
		return domain.ErrAnalysisFinished
	}

	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
	} else if err := s.repo.UpdateStatus(ctx, id, domain.StatusCancelled, ""); err != nil {
		// not owned by this process
		return err
	}

	_ = s.audit.Log(ctx, audit.Event{
		AnalysisID: id,
		EventType:  audit.EventAnalysisCancelled,
		FileName:   a.FileName,
		Success:    true,
	})
	return nil
}

// Report renders the text report of a finished analysis. The generation
// time is the completion time, so the same analysis always renders the
// same text.
func (s *AnalysisService) Report(ctx context.Context, id uuid.UUID) (string, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !a.Status.Finished() || a.Verdict == nil {
		return "", domain.ErrAnalysisNotFinished
	}

	generated := a.UpdatedAt
	if a.CompletedAt != nil {
		generated = *a.CompletedAt
	}
	_ = s.audit.Log(ctx, audit.Event{AnalysisID: id, EventType: audit.EventReportRead, FileName: a.FileName, Success: true})
	return report.Render(report.FromAnalysis(a, s.opts.ChunkSize), generated), nil
}

// Similar lists completed analyses whose feature fingerprint is closest to
// the one of id.
func (s *AnalysisService) Similar(ctx context.Context, id uuid.UUID, limit int) ([]domain.SimilarAnalysis, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != domain.StatusCompleted {
		return nil, domain.ErrAnalysisNotFinished
	}
	if len(a.Fingerprint) == 0 {
		return nil, domain.ErrNoFingerprint
	}
	if s.cache == nil {
		return s.repo.FindSimilar(ctx, id, a.Fingerprint, limit)
	}

	key := fmt.Sprintf("%s%s:%d", similarKeyPrefix, id, limit)
	if data, err := s.cache.Get(ctx, key); err == nil {
		var matches []domain.SimilarAnalysis
		if err := json.Unmarshal(data, &matches); err == nil {
			return matches, nil
		}
	}

	matches, err := s.repo.FindSimilar(ctx, id, a.Fingerprint, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(matches); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache similar analyses", "analysis_id", id, "error", err)
		}
	}
	return matches, nil
}

// Running is the number of analyses currently executing.
func (s *AnalysisService) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown refuses new submissions, cancels every run and waits for them
// to record their final status.
func (s *AnalysisService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running analyses: %w", ctx.Err())
	}
}

func (s *AnalysisService) store(id uuid.UUID, fileName string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.uploadDir, id.String()+filepath.Ext(fileName))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return path, nil
}

func (s *AnalysisService) start(a *domain.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running[a.ID] = cancel
	s.wg.Add(1)
	go s.run(ctx, cancel, a)
	return nil
}

func (s *AnalysisService) run(ctx context.Context, cancel context.CancelFunc, a *domain.Analysis) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, a.ID)
		s.mu.Unlock()
		cancel()
	}()
	defer func() {
		if err := os.Remove(a.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove upload", "analysis_id", a.ID, "error", err)
		}
	}()

	logger := s.logger.With("analysis_id", a.ID)
	persist := context.WithoutCancel(ctx)

	if err := s.repo.UpdateStatus(persist, a.ID, domain.StatusRunning, ""); err != nil {
		logger.Error("failed to mark analysis running", "error", err)
	}
	a.Status = domain.StatusRunning

	var publisher *ws.Publisher
	if s.hub != nil {
		publisher = ws.NewPublisher(s.hub, a.ID, s.previewFPS)
	}

	src, err := s.open(ctx, a.FilePath)
	if err != nil {
		s.finish(persist, logger, publisher, a, nil, domain.ErrInvalidVideo.WithError(err))
		return
	}

	opts := s.opts
	opts.Mode = a.Mode
	deps := pipeline.Deps{
		Detector:   s.providers.Detector,
		Predictor:  s.providers.Predictor,
		Classifier: s.providers.Classifier,
		Metrics:    s.metrics.Child(),
		Logger:     logger,
	}
	if publisher != nil {
		deps.Scores = publisher
		deps.Frames = publisher
	}

	runner, err := pipeline.NewRunner(opts, deps)
	if err != nil {
		_ = src.Close()
		s.finish(persist, logger, publisher, a, nil, err)
		return
	}

	res, err := runner.Run(ctx, src)
	s.finish(persist, logger, publisher, a, res, err)
}

// finish persists the outcome, publishes the terminal event and notifies
// the callback URL.
func (s *AnalysisService) finish(ctx context.Context, logger *slog.Logger, publisher *ws.Publisher, a *domain.Analysis, res *pipeline.Result, runErr error) {
	var event ws.EventType
	switch {
	case runErr == nil:
		a.Status = domain.StatusCompleted
		event = ws.EventCompleted
	case errors.Is(runErr, context.Canceled):
		a.Status = domain.StatusCancelled
		event = ws.EventCancelled
	default:
		a.Status = domain.StatusFailed
		a.Error = runErr.Error()
		event = ws.EventFailed
	}

	if res != nil {
		applyResult(a, res)
	}

	if err := s.repo.SaveResult(ctx, a); err != nil {
		if errors.Is(err, domain.ErrAnalysisFinished) {
			// cancelled through another instance while this one was running
			a.Status = domain.StatusCancelled
			event = ws.EventCancelled
		} else {
			logger.Error("failed to save analysis result", "error", err)
		}
	}
	if a.Status == domain.StatusCompleted && s.cache != nil {
		if _, err := s.cache.DeletePattern(ctx, similarKeyPrefix+"%"); err != nil {
			logger.Warn("failed to invalidate similar cache", "error", err)
		}
	}

	switch a.Status {
	case domain.StatusCompleted:
		logger.Info("analysis completed",
			"label", a.Verdict.Label,
			"frames_analyzed", a.FramesAnalyzed,
			"skipped", a.Skipped,
			"elapsed", res.Elapsed,
		)
	case domain.StatusCancelled:
		logger.Info("analysis cancelled", "frames_analyzed", a.FramesAnalyzed)
	default:
		logger.Error("analysis failed", "error", runErr)
	}

	if a.Status != domain.StatusCancelled {
		_ = s.audit.Log(ctx, outcomeEvent(a))
	}

	if publisher != nil {
		publisher.Finish(event, a)
	}

	if a.CallbackURL != "" && s.notifier != nil {
		err := s.notifier.Notify(ctx, a.CallbackURL, webhook.EventPayload{
			Type:       string(event),
			AnalysisID: a.ID,
			Data:       a,
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			logger.Error("failed to notify callback", "url", a.CallbackURL, "error", err)
		}
	}
}

func outcomeEvent(a *domain.Analysis) audit.Event {
	e := audit.Event{
		AnalysisID: a.ID,
		EventType:  audit.EventAnalysisCompleted,
		FileName:   a.FileName,
		Success:    a.Status == domain.StatusCompleted,
		Error:      a.Error,
	}
	if !e.Success {
		e.EventType = audit.EventAnalysisFailed
	}
	if a.Verdict != nil {
		e.Metadata = map[string]string{
			"label":           string(a.Verdict.Label),
			"frames_analyzed": fmt.Sprint(a.FramesAnalyzed),
		}
	}
	return e
}

func applyResult(a *domain.Analysis, res *pipeline.Result) {
	a.TotalFrames = res.Verdict.TotalFrames
	if a.TotalFrames == 0 {
		a.TotalFrames = max(res.Info.TotalFrames, res.FramesRead)
	}
	a.FPS = res.Info.FPS
	a.FramesAnalyzed = res.FramesAnalyzed
	a.Skipped = res.Skipped
	a.Scores = res.Scores
	stats := res.Stats
	a.Stats = &stats
	verdict := res.Verdict
	a.Verdict = &verdict
	a.Fingerprint = res.Fingerprint
}

func validateCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid callback_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid callback_url: %q", raw)
	}
	return nil
}
