// Package scoring aggregates per-chunk classifier scores into running
// statistics and a video-level verdict.
package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

const DefaultHistorySize = 200

type Options struct {
	HistorySize int
	ChunkSize   int
	Mode        domain.VerdictMode
}

func DefaultOptions() Options {
	return Options{
		HistorySize: DefaultHistorySize,
		ChunkSize:   domain.DefaultChunkSize,
		Mode:        domain.ModeThreshold,
	}
}

// Aggregator keeps a bounded FIFO history of score records plus the full
// score sequence used for suspicious-segment detection. Only the producer
// records; readers may take snapshots concurrently.
type Aggregator struct {
	mu      sync.RWMutex
	opts    Options
	history []domain.ScoreRecord
	all     []float64
}

func NewAggregator(opts Options) *Aggregator {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = domain.DefaultChunkSize
	}
	if !opts.Mode.Valid() {
		opts.Mode = domain.ModeThreshold
	}
	return &Aggregator{
		opts:    opts,
		history: make([]domain.ScoreRecord, 0, opts.HistorySize),
	}
}

// Record appends a score, evicting the oldest record beyond the history size.
func (a *Aggregator) Record(frame int, score float64) domain.ScoreRecord {
	rec := domain.NewScoreRecord(frame, score)

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.history) == a.opts.HistorySize {
		copy(a.history, a.history[1:])
		a.history[len(a.history)-1] = rec
	} else {
		a.history = append(a.history, rec)
	}
	a.all = append(a.all, score)
	return rec
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = a.history[:0]
	a.all = nil
}

// History returns a copy of the bounded window, oldest first.
func (a *Aggregator) History() []domain.ScoreRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]domain.ScoreRecord(nil), a.history...)
}

// Len is the number of records in the bounded window.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.history)
}

// Scored is the number of scores recorded since the last reset.
func (a *Aggregator) Scored() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.all)
}

func (a *Aggregator) Mode() domain.VerdictMode {
	return a.opts.Mode
}

func (a *Aggregator) Snapshot() domain.Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return computeStats(a.history, a.opts.ChunkSize)
}

// Verdict uses the configured mode. See VerdictFor.
func (a *Aggregator) Verdict(totalFrames int, duration time.Duration) domain.Verdict {
	return a.VerdictFor(a.opts.Mode, totalFrames, duration)
}

// VerdictFor labels the video and projects the history's real percentage
// onto totalFrames. The estimated counts are an extrapolation from the
// bounded window, not per-frame results.
func (a *Aggregator) VerdictFor(mode domain.VerdictMode, totalFrames int, duration time.Duration) domain.Verdict {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v := domain.Verdict{
		Mode:               mode,
		TotalFrames:        totalFrames,
		SuspiciousSegments: []string{},
	}

	if len(a.history) == 0 {
		v.Label = domain.LabelInsufficientData
		v.Reliability = Reliability(0)
		v.PatternConsistency = patternConsistency(0)
		return v
	}

	stats := computeStats(a.history, a.opts.ChunkSize)
	v.RealPct = stats.RealPct
	v.FakePct = stats.FakePct
	v.Confidence = math.Max(stats.RealPct, stats.FakePct)
	v.Label = VerdictLabel(mode, stats.RealPct)
	v.EstimatedReal = int(math.Round(stats.RealPct / 100 * float64(totalFrames)))
	v.EstimatedFake = totalFrames - v.EstimatedReal
	v.Reliability = Reliability(stats.AvgConfidence * 100)
	v.SuspiciousSegments = SuspiciousSegments(a.all, duration)
	v.PatternConsistency = patternConsistency(len(v.SuspiciousSegments))
	return v
}

func patternConsistency(segments int) string {
	if segments < 3 {
		return "High"
	}
	return "Variable"
}

func computeStats(history []domain.ScoreRecord, chunkSize int) domain.Stats {
	stats := domain.Stats{
		Total: len(history),
		Trend: domain.TrendInsufficient,
	}
	if len(history) == 0 {
		return stats
	}

	var confSum float64
	stats.MaxConfidence = history[0].Confidence
	stats.MinConfidence = history[0].Confidence
	for _, r := range history {
		if IsReal(r.Score) {
			stats.RealCount++
		}
		if r.Score >= LiveFakeThreshold && r.Score <= LiveRealThreshold {
			stats.UncertainCount++
		}
		confSum += r.Confidence
		stats.MaxConfidence = math.Max(stats.MaxConfidence, r.Confidence)
		stats.MinConfidence = math.Min(stats.MinConfidence, r.Confidence)
	}

	n := float64(len(history))
	stats.FakeCount = stats.Total - stats.RealCount
	stats.RealPct = float64(stats.RealCount*100) / n
	stats.FakePct = float64(stats.FakeCount*100) / n
	stats.AvgConfidence = confSum / n

	stats.Trend = trend(history)
	stats.Chunks = chunkStats(history, chunkSize)

	latest := history[len(history)-1]
	stats.Latest = &latest
	return stats
}

// trend compares the mean of the last TrendWindow scores with the window
// before it.
func trend(history []domain.ScoreRecord) domain.Trend {
	n := len(history)
	if n < 2*TrendWindow {
		return domain.TrendInsufficient
	}

	delta := meanScore(history[n-TrendWindow:]) - meanScore(history[n-2*TrendWindow:n-TrendWindow])
	switch {
	case delta > TrendThreshold:
		return domain.TrendReal
	case delta < -TrendThreshold:
		return domain.TrendFake
	default:
		return domain.TrendStable
	}
}

func meanScore(records []domain.ScoreRecord) float64 {
	var sum float64
	for _, r := range records {
		sum += r.Score
	}
	return sum / float64(len(records))
}

// chunkStats splits the history into whole blocks of chunkSize records; a
// block is real when more than half of its records are.
func chunkStats(history []domain.ScoreRecord, chunkSize int) domain.ChunkStats {
	var cs domain.ChunkStats
	for start := 0; start+chunkSize <= len(history); start += chunkSize {
		realCount := 0
		for _, r := range history[start : start+chunkSize] {
			if IsReal(r.Score) {
				realCount++
			}
		}
		cs.Total++
		if realCount > chunkSize/2 {
			cs.Real++
		} else {
			cs.Fake++
		}
	}
	return cs
}

// SuspiciousSegments slides a SegmentWindow-wide window over scores and
// returns up to MaxSegments distinct start timestamps (MM:SS) of windows in
// which more than SegmentFakeFraction of scores fall below 0.5. The start
// index is mapped to time proportionally over duration.
func SuspiciousSegments(scores []float64, duration time.Duration) []string {
	out := []string{}
	n := len(scores)
	if n <= SegmentWindow {
		return out
	}

	seen := make(map[string]struct{})
	for i := 0; i < n-SegmentWindow; i++ {
		fake := 0
		for _, s := range scores[i : i+SegmentWindow] {
			if s < BucketThreshold {
				fake++
			}
		}
		if float64(fake)/SegmentWindow <= SegmentFakeFraction {
			continue
		}

		ts := FormatTimestamp(float64(i) / float64(n) * duration.Seconds())
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, ts)
		if len(out) == MaxSegments {
			break
		}
	}
	return out
}
