package ws

import (
	"encoding/base64"
	"math"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
	"github.com/saturnino-fabrica-de-software/deepscan/internal/provider"
)

// Publisher forwards the live output of one pipeline run to the hub.
// Previews are throttled to previewFPS and only encoded while someone
// is subscribed.
type Publisher struct {
	hub        *Hub
	analysisID uuid.UUID
	preview    *rate.Limiter
}

func NewPublisher(hub *Hub, analysisID uuid.UUID, previewFPS float64) *Publisher {
	preview := rate.NewLimiter(rate.Limit(previewFPS), 1)
	if previewFPS <= 0 {
		preview = rate.NewLimiter(0, 0)
	}
	return &Publisher{
		hub:        hub,
		analysisID: analysisID,
		preview:    preview,
	}
}

func (p *Publisher) OnScore(rec domain.ScoreRecord, label domain.Label) {
	p.hub.Broadcast(p.analysisID, EventScore, ScoreData{
		Frame:      rec.Frame,
		Score:      rec.Score,
		Confidence: rec.Confidence,
		Label:      string(label),
	})
}

func (p *Publisher) OnProgress(done, total int) {
	pct := 0.0
	if total > 0 {
		pct = math.Round(float64(done)/float64(total)*1000) / 10
	}
	p.hub.Broadcast(p.analysisID, EventProgress, ProgressData{Done: done, Total: total, Percent: pct})
}

func (p *Publisher) OnFrame(frame domain.Frame) {
	if p.hub.Subscribers(p.analysisID) == 0 || !p.preview.Allow() {
		return
	}
	jpeg, err := provider.EncodeJPEG(frame)
	if err != nil {
		return
	}
	p.hub.Broadcast(p.analysisID, EventPreview, PreviewData{
		Frame: frame.Index,
		JPEG:  base64.StdEncoding.EncodeToString(jpeg),
	})
}

// Finish publishes the terminal event of the run.
func (p *Publisher) Finish(eventType EventType, data any) {
	p.hub.Broadcast(p.analysisID, eventType, data)
}
