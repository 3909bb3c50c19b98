// Package report renders the plain-text forensic report of an analysis.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/scoring"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/video"
)

const (
	DefaultModel    = "Enhanced LSTM Deepfake Detector"
	AnalysisMethod  = "Facial Landmark + Color Features"
	MaxFrameLines   = 50
	fileNameLayout  = "20060102_150405"
	generatedLayout = "2006-01-02 15:04:05"
	ruleWidth       = 60
)

type Input struct {
	FileName       string
	Model          string
	Info           video.Info
	FramesAnalyzed int
	Skipped        int
	ChunkSize      int
	FeatureDim     int
	Stats          domain.Stats
	Verdict        domain.Verdict
	Scores         []domain.ScoreRecord
}

// FromResult builds the report input of a finished pipeline run.
func FromResult(fileName string, res *pipeline.Result, chunkSize int) Input {
	return Input{
		FileName:       fileName,
		Info:           res.Info,
		FramesAnalyzed: res.FramesAnalyzed,
		Skipped:        res.Skipped,
		ChunkSize:      chunkSize,
		FeatureDim:     domain.FeatureDim,
		Stats:          res.Stats,
		Verdict:        res.Verdict,
		Scores:         res.Scores,
	}
}

// FromAnalysis builds the report input of a persisted analysis.
func FromAnalysis(a *domain.Analysis, chunkSize int) Input {
	in := Input{
		FileName:       a.FileName,
		Info:           video.Info{TotalFrames: a.TotalFrames, FPS: a.FPS},
		FramesAnalyzed: a.FramesAnalyzed,
		Skipped:        a.Skipped,
		ChunkSize:      chunkSize,
		FeatureDim:     domain.FeatureDim,
		Scores:         a.Scores,
	}
	if a.Stats != nil {
		in.Stats = *a.Stats
	}
	if a.Verdict != nil {
		in.Verdict = *a.Verdict
	}
	return in
}

// FileName is the default report name for a report generated at now.
func FileName(now time.Time) string {
	return "deepfake_analysis_" + now.Format(fileNameLayout) + ".txt"
}

// Render is deterministic for a given input and clock.
func Render(in Input, now time.Time) string {
	p := message.NewPrinter(language.English)
	model := in.Model
	if model == "" {
		model = DefaultModel
	}
	rule := strings.Repeat("=", ruleWidth)

	var b strings.Builder
	line := func(format string, args ...any) {
		b.WriteString(p.Sprintf(format, args...))
		b.WriteByte('\n')
	}

	line("DEEPFAKE DETECTION ANALYSIS REPORT")
	line("Generated: %s", now.Format(generatedLayout))
	line(rule)
	line("")

	line("VIDEO INFORMATION:")
	line("- File: %s", in.FileName)
	line("- Duration: %.2f seconds", in.Info.Duration().Seconds())
	line("- Total Frames: %d", in.Info.TotalFrames)
	line("- Frames Analyzed: %d", in.FramesAnalyzed)
	line("- Coverage: %.1f%%", coverage(in.FramesAnalyzed, in.Info.TotalFrames))
	line("- Frame Rate: %.1f fps", in.Info.FPS)
	line("")

	v := in.Verdict
	line("ANALYSIS RESULTS:")
	line("- Final Verdict: %s", v.Label)
	line("- Confidence: %.1f%%", v.Confidence)
	line("- Authentic Frames: %d (%.2f%%)", in.Stats.RealCount, in.Stats.RealPct)
	line("- Manipulated Frames: %d (%.2f%%)", in.Stats.FakeCount, in.Stats.FakePct)
	line("- Uncertain Frames: %d", in.Stats.UncertainCount)
	line("- Projected Over Video: %d authentic / %d manipulated", v.EstimatedReal, v.EstimatedFake)
	line("- Average Confidence: %.2f%%", in.Stats.AvgConfidence*100)
	line("- Reliability: %s", v.Reliability)
	line("- Trend: %s", in.Stats.Trend)
	if in.Stats.Chunks.Total > 0 {
		line("- Chunks: %d (%d authentic, %d manipulated)", in.Stats.Chunks.Total, in.Stats.Chunks.Real, in.Stats.Chunks.Fake)
	}
	line("")

	line("SUSPICIOUS SEGMENTS:")
	if len(v.SuspiciousSegments) == 0 {
		line("- None detected")
	} else {
		for _, ts := range v.SuspiciousSegments {
			line("- %s", ts)
		}
	}
	line("- Pattern Consistency: %s", v.PatternConsistency)
	line("")

	line("TECHNICAL DETAILS:")
	line("- Model: %s", model)
	line("- Analysis Method: %s", AnalysisMethod)
	line("- Chunk Size: %d frames", in.ChunkSize)
	line("- Feature Dimensions: %d", in.FeatureDim)
	line("- Processing Quality: %s", quality(in.Skipped))
	line("")

	line("FRAME-BY-FRAME PREDICTIONS:")
	for _, rec := range in.Scores[:min(len(in.Scores), MaxFrameLines)] {
		line("Frame %d: %s (Confidence: %.1f%%)", rec.Frame+1, scoring.BucketLabel(rec.Score), rec.Confidence*100)
	}
	if len(in.Scores) > MaxFrameLines {
		line("... (showing first %d frames)", MaxFrameLines)
	}
	line("")
	line("END OF REPORT")

	return b.String()
}

// Export writes the report into dir under FileName(now) and returns its path.
func Export(dir string, in Input, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, FileName(now))
	if err := os.WriteFile(path, []byte(Render(in, now)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func coverage(analyzed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(analyzed) / float64(total) * 100
}

func quality(skipped int) string {
	if skipped == 0 {
		return "High"
	}
	return fmt.Sprintf("Degraded (%d chunks skipped)", skipped)
}
