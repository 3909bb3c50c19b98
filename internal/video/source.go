// Package video provides frame sources: an ffmpeg-backed decoder for files
// and in-memory sources for tests and synthetic runs.
package video

import (
	"context"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// Info is the container metadata a source exposes up front.
type Info struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	TotalFrames int     `json:"total_frames"`
	FPS         float64 `json:"fps"`
}

// Duration is TotalFrames / FPS, or zero when the rate is unknown.
func (i Info) Duration() time.Duration {
	if i.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(i.TotalFrames) / i.FPS * float64(time.Second))
}

// Source yields frames in order. Next returns io.EOF after the last frame.
// A source is finite and cannot be restarted; Close releases the
// underlying file or process and is safe to call more than once.
type Source interface {
	Next(ctx context.Context) (domain.Frame, error)
	Info() Info
	Close() error
}
