// Package inference runs the sequence classifier on chunks under a time
// budget.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/metrics"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

var (
	// ErrSkipped marks a chunk that produced no score. It always wraps
	// ErrInferenceTimeout or ErrInferenceFailure.
	ErrSkipped          = errors.New("chunk skipped")
	ErrInferenceTimeout = errors.New("inference timeout")
	ErrInferenceFailure = errors.New("inference failure")
)

const DefaultTimeout = 2 * time.Second

type Config struct {
	ChunkSize  int
	FeatureDim int
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:  domain.DefaultChunkSize,
		FeatureDim: domain.FeatureDim,
		Timeout:    DefaultTimeout,
	}
}

// Driver feeds chunks to a classifier. Each call runs in its own goroutine
// so the caller is released at the deadline even when the classifier does
// not observe ctx; such goroutines are tracked in metrics.LeakedWorkers
// until they return.
type Driver struct {
	classifier provider.Classifier
	config     Config
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func NewDriver(classifier provider.Classifier, config Config, collector *metrics.Collector, logger *slog.Logger) *Driver {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = domain.DefaultChunkSize
	}
	if config.FeatureDim <= 0 {
		config.FeatureDim = domain.FeatureDim
	}
	if collector == nil {
		collector = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		classifier: classifier,
		config:     config,
		metrics:    collector,
		logger:     logger,
	}
}

type result struct {
	score float64
	err   error
}

// Classify returns the classifier score for chunk. Shape problems return an
// error wrapping domain.ErrContractViolation without calling the classifier.
// Timeouts and classifier failures return ErrSkipped; they are never retried.
func (d *Driver) Classify(ctx context.Context, chunk domain.Chunk) (float64, error) {
	tensor, err := d.Tensor(chunk)
	if err != nil {
		d.metrics.ContractViolations.Add(1)
		return 0, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		score, err := d.classifier.Infer(callCtx, tensor)
		done <- result{score: score, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return 0, d.fail(chunk, res.err)
		}
		if math.IsNaN(res.score) || res.score < 0 || res.score > 1 {
			return 0, d.fail(chunk, fmt.Errorf("score %v outside [0, 1]", res.score))
		}
		d.metrics.ChunksScored.Add(1)
		return res.score, nil

	case <-callCtx.Done():
		d.abandon(done)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		d.metrics.InferenceTimeouts.Add(1)
		d.logger.Warn("inference timeout, skipping chunk", "frame", chunk.EndFrame, "timeout", d.config.Timeout)
		return 0, fmt.Errorf("%w: %w after %s", ErrSkipped, ErrInferenceTimeout, d.config.Timeout)
	}
}

func (d *Driver) fail(chunk domain.Chunk, err error) error {
	d.metrics.InferenceFailures.Add(1)
	d.logger.Warn("inference failed, skipping chunk", "frame", chunk.EndFrame, "error", err)
	return fmt.Errorf("%w: %w: %v", ErrSkipped, ErrInferenceFailure, err)
}

// abandon counts the worker as leaked until it finally reports back.
func (d *Driver) abandon(done <-chan result) {
	d.metrics.LeakedWorkers.Add(1)
	go func() {
		<-done
		d.metrics.LeakedWorkers.Add(-1)
	}()
}

// Tensor validates the chunk and flattens it to [1, ChunkSize, FeatureDim].
func (d *Driver) Tensor(chunk domain.Chunk) (provider.Tensor, error) {
	if len(chunk.Vectors) != d.config.ChunkSize {
		return provider.Tensor{}, fmt.Errorf("%w: chunk has %d vectors, want %d",
			domain.ErrContractViolation, len(chunk.Vectors), d.config.ChunkSize)
	}

	data := make([]float32, 0, d.config.ChunkSize*d.config.FeatureDim)
	for i, v := range chunk.Vectors {
		if len(v) != d.config.FeatureDim {
			return provider.Tensor{}, fmt.Errorf("%w: vector %d has length %d, want %d",
				domain.ErrContractViolation, i, len(v), d.config.FeatureDim)
		}
		data = append(data, v...)
	}

	return provider.Tensor{
		Shape: []int{1, d.config.ChunkSize, d.config.FeatureDim},
		Data:  data,
	}, nil
}
