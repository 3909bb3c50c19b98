package video

import (
	"context"
	"io"
	"sync"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// SliceSource serves pre-built frames.
type SliceSource struct {
	mu     sync.Mutex
	frames []domain.Frame
	info   Info
	pos    int
	closed bool
}

func NewSliceSource(frames []domain.Frame, fps float64) *SliceSource {
	info := Info{TotalFrames: len(frames), FPS: fps}
	if len(frames) > 0 {
		info.Width, info.Height = frames[0].Width, frames[0].Height
	}
	return &SliceSource{frames: frames, info: info}
}

func (s *SliceSource) Next(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.Frame{}, io.ErrClosedPipe
	}
	if s.pos >= len(s.frames) {
		return domain.Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	f.Index = s.pos
	s.pos++
	return f, nil
}

func (s *SliceSource) Info() Info {
	return s.info
}

func (s *SliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SyntheticSource generates n frames of a fixed color gradient without
// holding them in memory.
type SyntheticSource struct {
	info   Info
	pix    []uint8
	pos    int
	closed bool
}

func NewSyntheticSource(n, width, height int, fps float64) *SyntheticSource {
	pix := make([]uint8, 0, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pix = append(pix, uint8(x*255/max(width-1, 1)), uint8(y*255/max(height-1, 1)), 128)
		}
	}
	return &SyntheticSource{
		info: Info{Width: width, Height: height, TotalFrames: n, FPS: fps},
		pix:  pix,
	}
}

func (s *SyntheticSource) Next(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}
	if s.closed {
		return domain.Frame{}, io.ErrClosedPipe
	}
	if s.pos >= s.info.TotalFrames {
		return domain.Frame{}, io.EOF
	}
	f := domain.Frame{Index: s.pos, Width: s.info.Width, Height: s.info.Height, Pix: s.pix}
	s.pos++
	return f, nil
}

func (s *SyntheticSource) Info() Info {
	return s.info
}

func (s *SyntheticSource) Close() error {
	s.closed = true
	return nil
}
