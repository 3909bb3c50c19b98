package pipeline

import (
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/config"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/inference"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/scoring"
)

type Options struct {
	ChunkSize        int
	ChunkStride      int
	InferenceTimeout time.Duration
	HistorySize      int
	FrameQueueSize   int
	ProgressInterval int
	Mode             domain.VerdictMode
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:        domain.DefaultChunkSize,
		ChunkStride:      1,
		InferenceTimeout: inference.DefaultTimeout,
		HistorySize:      scoring.DefaultHistorySize,
		FrameQueueSize:   10,
		ProgressInterval: 5,
		Mode:             domain.ModeThreshold,
	}
}

// OptionsFromConfig converts the env-driven pipeline settings.
func OptionsFromConfig(p config.Pipeline) Options {
	return Options{
		ChunkSize:        p.ChunkSize,
		ChunkStride:      p.ChunkStride,
		InferenceTimeout: p.InferenceTimeout,
		HistorySize:      p.HistorySize,
		FrameQueueSize:   p.FrameQueueSize,
		ProgressInterval: p.ProgressInterval,
		Mode:             domain.VerdictMode(p.VerdictMode),
	}
}

// withDefaults fills zero values so a partially populated Options is usable.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.ChunkStride <= 0 {
		o.ChunkStride = d.ChunkStride
	}
	if o.InferenceTimeout <= 0 {
		o.InferenceTimeout = d.InferenceTimeout
	}
	if o.HistorySize <= 0 {
		o.HistorySize = d.HistorySize
	}
	if o.FrameQueueSize <= 0 {
		o.FrameQueueSize = d.FrameQueueSize
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = d.ProgressInterval
	}
	if !o.Mode.Valid() {
		o.Mode = d.Mode
	}
	return o
}
