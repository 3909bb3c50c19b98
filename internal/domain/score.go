package domain

import "math"

type Label string

const (
	LabelReal             Label = "REAL"
	LabelFake             Label = "FAKE"
	LabelUncertain        Label = "UNCERTAIN"
	LabelAuthentic        Label = "AUTHENTIC"
	LabelDeepfake         Label = "DEEPFAKE DETECTED"
	LabelInsufficientData Label = "INSUFFICIENT DATA"
)

type Trend string

const (
	TrendReal         Trend = "TRENDING REAL"
	TrendFake         Trend = "TRENDING FAKE"
	TrendStable       Trend = "STABLE"
	TrendInsufficient Trend = "ANALYZING"
)

// VerdictMode selects the labeling scheme applied to the final verdict.
type VerdictMode string

const (
	// ModeThreshold labels REAL above 80% real, FAKE below 30%, UNCERTAIN otherwise.
	ModeThreshold VerdictMode = "threshold"
	// ModeMajority labels AUTHENTIC when real frames outnumber fake ones.
	ModeMajority VerdictMode = "majority"
)

func (m VerdictMode) Valid() bool {
	return m == ModeThreshold || m == ModeMajority
}

// ScoreRecord is the classifier output for one chunk.
type ScoreRecord struct {
	Frame      int     `json:"frame"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
}

func NewScoreRecord(frame int, score float64) ScoreRecord {
	return ScoreRecord{
		Frame:      frame,
		Score:      score,
		Confidence: math.Abs(score-0.5) * 2,
	}
}

type ChunkStats struct {
	Total int `json:"total"`
	Real  int `json:"real"`
	Fake  int `json:"fake"`
}

// Stats is a point-in-time summary of the score history.
type Stats struct {
	Total          int          `json:"total"`
	RealCount      int          `json:"real_count"`
	FakeCount      int          `json:"fake_count"`
	UncertainCount int          `json:"uncertain_count"`
	RealPct        float64      `json:"real_pct"`
	FakePct        float64      `json:"fake_pct"`
	AvgConfidence  float64      `json:"avg_confidence"`
	MaxConfidence  float64      `json:"max_confidence"`
	MinConfidence  float64      `json:"min_confidence"`
	Trend          Trend        `json:"trend"`
	Latest         *ScoreRecord `json:"latest,omitempty"`
	Chunks         ChunkStats   `json:"chunks"`
}

// Verdict is the video-level result. EstimatedReal and EstimatedFake are a
// projection of the history percentages onto TotalFrames, not exact counts.
type Verdict struct {
	Mode               VerdictMode `json:"mode"`
	Label              Label       `json:"label"`
	RealPct            float64     `json:"real_pct"`
	FakePct            float64     `json:"fake_pct"`
	Confidence         float64     `json:"confidence"`
	TotalFrames        int         `json:"total_frames"`
	EstimatedReal      int         `json:"estimated_real"`
	EstimatedFake      int         `json:"estimated_fake"`
	SuspiciousSegments []string    `json:"suspicious_segments"`
	Reliability        string      `json:"reliability"`
	PatternConsistency string      `json:"pattern_consistency"`
}
