package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/config"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/face"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/pipeline"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/report"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/video"
)

// openSource is swapped in tests so the command runs without ffmpeg.
var openSource = func(ctx context.Context, path string) (video.Source, error) {
	return video.OpenFile(ctx, path)
}

type analyzeOptions struct {
	Stride     int
	Timeout    time.Duration
	Mode       string
	ReportDir  string
	JSONPath   string
	Detector   string
	Landmarks  string
	Classifier string
	NoReport   bool
	Quiet      bool
	Verbose    bool
}

func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Analyze a video file and write a detection report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.Stride, "stride", "s", 0, "Frames between classified windows (default from CHUNK_STRIDE)")
	f.DurationVarP(&opts.Timeout, "timeout", "t", 0, "Per-window classifier budget (default from INFERENCE_TIMEOUT)")
	f.StringVarP(&opts.Mode, "mode", "m", "", "Verdict mode: threshold or majority (default from VERDICT_MODE)")
	f.StringVarP(&opts.ReportDir, "report-dir", "o", "", "Directory for the report file (default from REPORT_DIR)")
	f.StringVar(&opts.JSONPath, "json", "", "Also write the raw run result as JSON to this path")
	f.StringVar(&opts.Detector, "detector", "", "Face detector: deepface, rekognition or mock")
	f.StringVar(&opts.Landmarks, "landmarks", "", "Landmark predictor: dlib or mock")
	f.StringVar(&opts.Classifier, "classifier", "", "Classifier: tfserving or mock")
	f.BoolVar(&opts.NoReport, "no-report", false, "Skip writing the report file")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide the progress bar")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "Show debug logs")

	return cmd
}

// resolve applies the flags over the environment configuration.
func (o analyzeOptions) resolve(providers *config.Providers, p *config.Pipeline) error {
	if o.Stride != 0 {
		p.ChunkStride = o.Stride
	}
	if o.Timeout != 0 {
		p.InferenceTimeout = o.Timeout
	}
	if o.Mode != "" {
		p.VerdictMode = strings.ToLower(o.Mode)
	}
	if o.ReportDir != "" {
		p.ReportDir = o.ReportDir
	}
	if o.Detector != "" {
		providers.DetectorType = o.Detector
	}
	if o.Landmarks != "" {
		providers.LandmarkType = o.Landmarks
	}
	if o.Classifier != "" {
		providers.ClassifierType = o.Classifier
	}
	return p.Validate()
}

func runAnalyze(ctx context.Context, path string, opts analyzeOptions, out, errOut io.Writer) error {
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}
	logger := config.NewLoggerTo(errOut, env, !opts.Verbose)

	providerCfg, err := config.LoadProviders()
	if err != nil {
		return err
	}
	pipelineCfg, err := config.LoadPipeline()
	if err != nil {
		return err
	}
	if err := opts.resolve(providerCfg, pipelineCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	providers, err := face.NewProviders(ctx, *providerCfg)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}

	source, err := openSource(ctx, path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer source.Close()

	bar := newProgressBar(source.Info().TotalFrames, errOut, opts.Quiet)
	pipeOpts := pipeline.OptionsFromConfig(*pipelineCfg)

	runner, err := pipeline.NewRunner(pipeOpts, pipeline.Deps{
		Detector:   providers.Detector,
		Predictor:  providers.Predictor,
		Classifier: providers.Classifier,
		Scores:     &progressSink{bar: bar},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	res, runErr := runner.Run(ctx, source)
	_ = bar.Finish()
	fmt.Fprintln(errOut)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("analyze %s: %w", path, runErr)
	}

	printSummary(out, filepath.Base(path), res)

	if opts.JSONPath != "" {
		if err := writeResult(opts.JSONPath, filepath.Base(path), pipeOpts.ChunkSize, res); err != nil {
			return err
		}
		fmt.Fprintf(out, "Result saved to %s\n", opts.JSONPath)
	}

	if !opts.NoReport {
		in := report.FromResult(filepath.Base(path), res, pipeOpts.ChunkSize)
		reportPath, err := report.Export(pipelineCfg.ReportDir, in, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Report saved to %s\n", reportPath)
	}

	if runErr != nil {
		return fmt.Errorf("analysis interrupted after %d frames", res.FramesRead)
	}
	return nil
}

func newProgressBar(total int, w io.Writer, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultSilent(int64(max(total, 0)))
	}
	if total <= 0 {
		total = -1
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Analyzing"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// progressSink drives the bar from the producer goroutine.
type progressSink struct {
	bar *progressbar.ProgressBar
}

func (s *progressSink) OnScore(rec domain.ScoreRecord, label domain.Label) {
	s.bar.Describe(fmt.Sprintf("frame %d %-9s %5.1f%%", rec.Frame, label, rec.Confidence*100))
}

func (s *progressSink) OnProgress(done, total int) {
	_ = s.bar.Set(done)
}

func printSummary(w io.Writer, name string, res *pipeline.Result) {
	v := res.Verdict

	fmt.Fprintf(w, "File:            %s\n", name)
	fmt.Fprintf(w, "Frames read:     %d\n", res.FramesRead)
	fmt.Fprintf(w, "Frames analyzed: %d\n", res.FramesAnalyzed)
	fmt.Fprintf(w, "Skipped windows: %d\n", res.Skipped)
	fmt.Fprintf(w, "Elapsed:         %s\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Verdict:         %s (%.1f%% real, %.1f%% fake, confidence %.1f%%)\n",
		v.Label, v.RealPct, v.FakePct, v.Confidence)
	fmt.Fprintf(w, "Estimated:       %d real / %d fake of %d frames\n",
		v.EstimatedReal, v.EstimatedFake, v.TotalFrames)
	if len(v.SuspiciousSegments) > 0 {
		fmt.Fprintf(w, "Suspicious:      %s\n", strings.Join(v.SuspiciousSegments, ", "))
	}
	if res.Stopped {
		fmt.Fprintln(w, "Run was stopped before the end of the video")
	}
}

// savedResult is the --json document read back by the report command.
type savedResult struct {
	FileName  string           `json:"file_name"`
	ChunkSize int              `json:"chunk_size"`
	Result    *pipeline.Result `json:"result"`
}

func writeResult(path, name string, chunkSize int, res *pipeline.Result) error {
	data, err := json.MarshalIndent(savedResult{
		FileName:  name,
		ChunkSize: chunkSize,
		Result:    res,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
