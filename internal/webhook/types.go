package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Delivery is a queued webhook call awaiting (re)delivery.
type Delivery struct {
	ID          uuid.UUID `json:"id"`
	AnalysisID  uuid.UUID `json:"analysis_id"`
	URL         string    `json:"url"`
	EventType   string    `json:"event_type"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
}

type EventPayload struct {
	Type       string    `json:"type"`
	AnalysisID uuid.UUID `json:"analysis_id"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}
