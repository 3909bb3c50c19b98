// Package pipeline runs the streaming analysis: frames are read, turned
// into feature vectors, windowed into chunks, classified and aggregated by
// a single producer, while a display task consumes a bounded frame queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/chunk"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/feature"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/inference"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/metrics"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/scoring"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/video"
)

var ErrAlreadyRunning = errors.New("pipeline already running")

// ScoreSink receives live updates from the producer. Calls are made from
// the producer goroutine in frame order and must not block for long.
type ScoreSink interface {
	OnScore(record domain.ScoreRecord, label domain.Label)
	OnProgress(done, total int)
}

// FrameSink receives frames taken off the display queue.
type FrameSink interface {
	OnFrame(frame domain.Frame)
}

// Deps are the collaborators of a Runner. Sinks, Metrics and Logger are
// optional.
type Deps struct {
	Detector   provider.FaceDetector
	Predictor  provider.LandmarkPredictor
	Classifier provider.Classifier
	Scores     ScoreSink
	Frames     FrameSink
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Result is what a run produced, also when it was stopped early.
type Result struct {
	Info           video.Info           `json:"info"`
	FramesRead     int                  `json:"frames_read"`
	FramesAnalyzed int                  `json:"frames_analyzed"`
	Skipped        int                  `json:"skipped"`
	Stats          domain.Stats         `json:"stats"`
	Verdict        domain.Verdict       `json:"verdict"`
	History        []domain.ScoreRecord `json:"history"`
	Scores         []domain.ScoreRecord `json:"scores"`
	Fingerprint    []float32            `json:"fingerprint,omitempty"`
	Metrics        metrics.Snapshot     `json:"metrics"`
	Elapsed        time.Duration        `json:"elapsed"`
	Stopped        bool                 `json:"stopped"`
}

// Runner owns one aggregator; Run may be called again once the previous
// run has returned, which starts from an empty history.
type Runner struct {
	opts       Options
	extractor  *feature.Extractor
	driver     *inference.Driver
	aggregator *scoring.Aggregator
	scores     ScoreSink
	frames     FrameSink
	metrics    *metrics.Collector
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewRunner(opts Options, deps Deps) (*Runner, error) {
	if deps.Detector == nil || deps.Predictor == nil || deps.Classifier == nil {
		return nil, fmt.Errorf("pipeline: detector, predictor and classifier are required")
	}
	opts = opts.withDefaults()

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Scores == nil {
		deps.Scores = nopSink{}
	}
	if deps.Frames == nil {
		deps.Frames = nopSink{}
	}

	return &Runner{
		opts:      opts,
		extractor: feature.NewExtractor(deps.Detector, deps.Predictor, deps.Metrics, deps.Logger),
		driver: inference.NewDriver(deps.Classifier, inference.Config{
			ChunkSize:  opts.ChunkSize,
			FeatureDim: domain.FeatureDim,
			Timeout:    opts.InferenceTimeout,
		}, deps.Metrics, deps.Logger),
		aggregator: scoring.NewAggregator(scoring.Options{
			HistorySize: opts.HistorySize,
			ChunkSize:   opts.ChunkSize,
			Mode:        opts.Mode,
		}),
		scores:  deps.Scores,
		frames:  deps.Frames,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}, nil
}

func (r *Runner) Options() Options {
	return r.opts
}

// Aggregator exposes live statistics while a run is in progress.
func (r *Runner) Aggregator() *scoring.Aggregator {
	return r.aggregator
}

// Stop signals the current run to finish. It is safe to call at any time
// and more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Run consumes source until EOF, a source error, ctx cancellation or Stop.
// Once accepted, the source is closed before Run returns; a call rejected
// with ErrAlreadyRunning leaves it open. A stopped run returns its partial
// result together with context.Canceled.
func (r *Runner) Run(ctx context.Context, source video.Source) (*Result, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	defer source.Close()

	defer func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	r.aggregator.Reset()
	buffer, err := chunk.NewBuffer(r.opts.ChunkSize, r.opts.ChunkStride)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	info := source.Info()
	started := time.Now()
	r.logger.Info("pipeline started",
		"total_frames", info.TotalFrames,
		"fps", info.FPS,
		"chunk_size", r.opts.ChunkSize,
		"stride", r.opts.ChunkStride,
		"mode", r.opts.Mode,
	)

	queue := make(chan domain.Frame, r.opts.FrameQueueSize)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.display(runCtx, queue)
	}()

	p := &producer{runner: r, buffer: buffer, queue: queue, total: info.TotalFrames}
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(queue)
		runErr = p.run(runCtx, source)
	}()
	wg.Wait()

	res := r.result(info, p, started)
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		res.Stopped = true
		r.logger.Info("pipeline stopped", "frames_read", p.read, "records", len(p.records))
		return res, runErr
	default:
		r.logger.Error("pipeline failed", "frames_read", p.read, "error", runErr)
		return res, runErr
	}

	r.logger.Info("pipeline finished",
		"frames_read", res.FramesRead,
		"records", res.FramesAnalyzed,
		"skipped", res.Skipped,
		"verdict", res.Verdict.Label,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// display drains the queue until the producer closes it or the run stops.
func (r *Runner) display(ctx context.Context, queue <-chan domain.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-queue:
			if !ok {
				return
			}
			r.frames.OnFrame(frame)
		}
	}
}

func (r *Runner) result(info video.Info, p *producer, started time.Time) *Result {
	total := info.TotalFrames
	if total <= 0 || (p.eof && p.read > total) {
		total = p.read
	}
	duration := video.Info{TotalFrames: total, FPS: info.FPS}.Duration()

	snap := r.metrics.Snapshot()
	return &Result{
		Info:           info,
		FramesRead:     p.read,
		FramesAnalyzed: len(p.records),
		Skipped:        p.skipped,
		Stats:          r.aggregator.Snapshot(),
		Verdict:        r.aggregator.Verdict(total, duration),
		History:        r.aggregator.History(),
		Scores:         p.records,
		Fingerprint:    p.fingerprint(),
		Metrics:        snap,
		Elapsed:        time.Since(started),
	}
}

type nopSink struct{}

func (nopSink) OnScore(domain.ScoreRecord, domain.Label) {}
func (nopSink) OnProgress(int, int) {}
func (nopSink) OnFrame(domain.Frame) {}

// producer is the only writer of the aggregator during a run.
type producer struct {
	runner *Runner
	buffer *chunk.Buffer
	queue  chan<- domain.Frame
	total  int

	read    int
	eof     bool
	skipped int
	records []domain.ScoreRecord

	sum     []float64
	nonZero int
}

func (p *producer) run(ctx context.Context, source video.Source) error {
	r := p.runner
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.eof = true
			r.scores.OnProgress(p.read, max(p.total, p.read))
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame %d: %w", p.read, err)
		}
		p.read++
		r.metrics.FramesRead.Add(1)

		select {
		case p.queue <- frame:
		default:
			r.metrics.FramesDropped.Add(1)
		}

		vec := r.extractor.Extract(ctx, frame)
		p.accumulate(vec)

		if c, ok := p.buffer.Push(frame.Index, vec); ok {
			r.metrics.ChunksEmitted.Add(1)
			if err := p.score(ctx, c); err != nil {
				return err
			}
		}

		if p.read%r.opts.ProgressInterval == 0 {
			r.scores.OnProgress(p.read, max(p.total, p.read))
		}
	}
}

// score classifies one chunk. Skips and contract violations are absorbed;
// only cancellation is returned.
func (p *producer) score(ctx context.Context, c domain.Chunk) error {
	r := p.runner
	score, err := r.driver.Classify(ctx, c)
	switch {
	case err == nil:
		rec := r.aggregator.Record(c.EndFrame, score)
		p.records = append(p.records, rec)
		r.scores.OnScore(rec, scoring.LiveLabel(score))
		return nil
	case errors.Is(err, inference.ErrSkipped):
		p.skipped++
		return nil
	case errors.Is(err, domain.ErrContractViolation):
		p.skipped++
		r.logger.Error("chunk rejected", "frame", c.EndFrame, "error", err)
		return nil
	default:
		return err
	}
}

func (p *producer) accumulate(v domain.FeatureVector) {
	if v.IsZero() {
		return
	}
	if p.sum == nil {
		p.sum = make([]float64, len(v))
	}
	for i, x := range v {
		p.sum[i] += float64(x)
	}
	p.nonZero++
}

// fingerprint is the mean of all non-zero feature vectors, or nil when no
// face was ever found.
func (p *producer) fingerprint() []float32 {
	if p.nonZero == 0 {
		return nil
	}
	out := make([]float32, len(p.sum))
	for i, s := range p.sum {
		out[i] = float32(s / float64(p.nonZero))
	}
	return out
}
