package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

var ErrFFmpegMissing = errors.New("ffmpeg not found in PATH")

// FFmpegSource decodes a file to packed rgb24 frames through an ffmpeg
// child process.
type FFmpegSource struct {
	path   string
	info   Info
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr *stderrBuffer
	cancel context.CancelFunc
	index  int

	closeOnce sync.Once
	closeErr  error
}

// OpenFile probes path and starts the decoder. The process is bound to ctx
// and is killed by Close.
func OpenFile(ctx context.Context, path string) (*FFmpegSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, ErrFFmpegMissing
	}

	info, err := Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("open %s: invalid dimensions %dx%d", path, info.Width, info.Height)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", path, "-map", "0:v:0", "-f", "rawvideo", "-pix_fmt", "rgb24", "-")

	stderr := &stderrBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open %s: stdout pipe: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("open %s: start ffmpeg: %w", path, err)
	}

	frameSize := info.Width * info.Height * 3
	return &FFmpegSource{
		path:   path,
		info:   info,
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, frameSize),
		stderr: stderr,
		cancel: cancel,
	}, nil
}

// stderrBuffer collects ffmpeg diagnostics. os/exec copies into it from
// its own goroutine while Next may read it.
type stderrBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *stderrBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *stderrBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *FFmpegSource) Next(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	pix := make([]uint8, s.info.Width*s.info.Height*3)
	if _, err := io.ReadFull(s.reader, pix); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Frame{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return domain.Frame{}, fmt.Errorf("decode %s frame %d: truncated frame: %s", s.path, s.index, s.stderr.String())
		}
		return domain.Frame{}, fmt.Errorf("decode %s frame %d: %w", s.path, s.index, err)
	}

	f := domain.Frame{Index: s.index, Width: s.info.Width, Height: s.info.Height, Pix: pix}
	s.index++
	return f, nil
}

func (s *FFmpegSource) Info() Info {
	return s.info
}

// Close stops ffmpeg and waits for it. A kill caused by Close is not
// reported as an error.
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdout.Close()
		s.cancel()
		err := s.cmd.Wait()
		var ee *exec.ExitError
		if err != nil && !errors.As(err, &ee) && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close %s: %w", s.path, err)
		}
	})
	return s.closeErr
}
