package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

var (
	ErrFFprobeMissing = errors.New("ffprobe not found in PATH")
	ErrNoVideoStream  = errors.New("no video stream")
)

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	AvgFrameRate  string `json:"avg_frame_rate"`
	RFrameRate    string `json:"r_frame_rate"`
	NbFrames      string `json:"nb_frames"`
	NbReadPackets string `json:"nb_read_packets"`
	Duration      string `json:"duration"`
}

// Probe reads stream metadata with ffprobe. The frame count comes from
// container metadata when present; otherwise packets are counted, which
// reads the whole file.
func Probe(ctx context.Context, path string) (Info, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return Info{}, ErrFFprobeMissing
	}

	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration",
		"-of", "json", path).Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, exitDetail(err))
	}

	info, err := parseProbe(out)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	if info.TotalFrames > 0 {
		return info, nil
	}

	out, err = exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path).Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe count packets %s: %w", path, exitDetail(err))
	}
	counted, err := parseProbe(out)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe count packets %s: %w", path, err)
	}
	info.TotalFrames = counted.TotalFrames
	return info, nil
}

func parseProbe(out []byte) (Info, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe json: %w", err)
	}
	if len(res.Streams) == 0 {
		return Info{}, ErrNoVideoStream
	}
	s := res.Streams[0]

	info := Info{Width: s.Width, Height: s.Height}

	info.FPS = parseRate(s.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRate(s.RFrameRate)
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.TotalFrames = n
	} else if n, err := strconv.Atoi(s.NbReadPackets); err == nil && n > 0 {
		info.TotalFrames = n
	} else if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && info.FPS > 0 {
		info.TotalFrames = int(d*info.FPS + 0.5)
	}
	return info, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, err := strconv.ParseFloat(r, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func exitDetail(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) && len(ee.Stderr) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
	}
	return err
}
