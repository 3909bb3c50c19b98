package ws

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventScore     EventType = "analysis.score"
	EventProgress  EventType = "analysis.progress"
	EventPreview   EventType = "analysis.preview"
	EventCompleted EventType = "analysis.completed"
	EventFailed    EventType = "analysis.failed"
	EventCancelled EventType = "analysis.cancelled"
)

type Event struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	Type       EventType `json:"type"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

type ScoreData struct {
	Frame      int     `json:"frame"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

type ProgressData struct {
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

type PreviewData struct {
	Frame int    `json:"frame"`
	JPEG  string `json:"jpeg"`
}
