package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const DefaultMaxAttempts = 5

// DB is the subset of *pgxpool.Pool used by the webhook queue.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Service delivers signed analysis events. A failed first attempt is
// queued in webhook_deliveries for the Worker to retry.
type Service struct {
	db     DB
	client *http.Client
	secret string
	logger *slog.Logger
}

func NewService(db DB, secret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		secret: secret,
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify posts event to url. Delivery errors are not returned: the call
// is queued instead. Only a failure to queue is an error.
func (s *Service) Notify(ctx context.Context, url string, event EventPayload) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := s.deliver(ctx, url, event.Type, payload); err != nil {
		s.logger.Warn("webhook delivery failed, queueing", "analysis_id", event.AnalysisID, "url", url, "error", err)
		return s.enqueue(ctx, event, url, payload, err.Error())
	}

	s.logger.Info("webhook delivered", "analysis_id", event.AnalysisID, "type", event.Type)
	return nil
}

func (s *Service) deliver(ctx context.Context, url, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(s.secret, payload))
	req.Header.Set(EventHeader, eventType)
	req.Header.Set("User-Agent", "Deepscan-Webhook/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) enqueue(ctx context.Context, event EventPayload, url string, payload []byte, errorMsg string) error {
	if s.db == nil {
		return errors.New("webhook queue unavailable")
	}

	query := `
		INSERT INTO webhook_deliveries (analysis_id, url, event_type, payload, max_attempts, next_retry_at, last_error)
		VALUES ($1, $2, $3, $4, $5, NOW() + INTERVAL '1 second', $6)
	`

	_, err := s.db.Exec(ctx, query, event.AnalysisID, url, event.Type, payload, DefaultMaxAttempts, errorMsg)
	if err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}

	return nil
}
