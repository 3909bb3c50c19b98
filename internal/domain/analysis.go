package domain

import (
	"time"

	"github.com/google/uuid"
)

type AnalysisStatus string

const (
	StatusPending   AnalysisStatus = "pending"
	StatusRunning   AnalysisStatus = "running"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
	StatusCancelled AnalysisStatus = "cancelled"
)

// Finished reports whether the analysis reached a terminal state.
func (s AnalysisStatus) Finished() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Analysis representa uma execução do pipeline sobre um vídeo enviado.
type Analysis struct {
	ID             uuid.UUID      `json:"id"`
	Status         AnalysisStatus `json:"status"`
	FileName       string         `json:"file_name"`
	FilePath       string         `json:"-"`
	Mode           VerdictMode    `json:"mode"`
	CallbackURL    string         `json:"-"`
	TotalFrames    int            `json:"total_frames"`
	FPS            float64        `json:"fps"`
	FramesAnalyzed int            `json:"frames_analyzed"`
	Skipped        int            `json:"skipped_chunks"`
	Scores         []ScoreRecord  `json:"-"`
	Stats          *Stats         `json:"stats,omitempty"`
	Verdict        *Verdict       `json:"verdict,omitempty"`
	Fingerprint    []float32      `json:"-"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Duration is the video length derived from frame count and frame rate.
func (a *Analysis) Duration() time.Duration {
	if a.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(a.TotalFrames) / a.FPS * float64(time.Second))
}

// SimilarAnalysis pairs a finished analysis with its fingerprint similarity.
type SimilarAnalysis struct {
	ID         uuid.UUID `json:"id"`
	FileName   string    `json:"file_name"`
	Label      Label     `json:"label"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}
