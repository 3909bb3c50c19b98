package scoring

import (
	"fmt"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

const (
	// BucketThreshold splits scores into real and fake for statistics.
	BucketThreshold = 0.5
	// LiveRealThreshold and LiveFakeThreshold drive the three-way live label.
	LiveRealThreshold = 0.7
	LiveFakeThreshold = 0.3

	VerdictRealPct = 80.0
	VerdictFakePct = 30.0

	TrendWindow    = 10
	TrendThreshold = 0.1

	SegmentWindow       = 20
	SegmentFakeFraction = 0.7
	MaxSegments         = 5
)

// IsReal is the statistics bucket: strictly above 0.5 counts as real.
func IsReal(score float64) bool {
	return score > BucketThreshold
}

// LiveLabel is the per-chunk display label. It deliberately uses wider
// thresholds than IsReal.
func LiveLabel(score float64) domain.Label {
	switch {
	case score > LiveRealThreshold:
		return domain.LabelReal
	case score < LiveFakeThreshold:
		return domain.LabelFake
	default:
		return domain.LabelUncertain
	}
}

// BucketLabel names the statistics bucket of a score.
func BucketLabel(score float64) domain.Label {
	if IsReal(score) {
		return domain.LabelReal
	}
	return domain.LabelFake
}

// VerdictLabel applies mode to the real percentage of the history.
func VerdictLabel(mode domain.VerdictMode, realPct float64) domain.Label {
	if mode == domain.ModeMajority {
		if realPct > 100-realPct {
			return domain.LabelAuthentic
		}
		return domain.LabelDeepfake
	}

	switch {
	case realPct > VerdictRealPct:
		return domain.LabelReal
	case realPct < VerdictFakePct:
		return domain.LabelFake
	default:
		return domain.LabelUncertain
	}
}

// Reliability grades the average confidence, given as a percentage.
func Reliability(avgConfidencePct float64) string {
	switch {
	case avgConfidencePct > 85:
		return "VERY HIGH"
	case avgConfidencePct > 70:
		return "HIGH"
	case avgConfidencePct > 50:
		return "MODERATE"
	default:
		return "LOW"
	}
}

// FormatTimestamp renders seconds as MM:SS, truncating fractions.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
