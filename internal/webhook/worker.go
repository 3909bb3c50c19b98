package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Worker retries queued deliveries with exponential backoff.
type Worker struct {
	db       DB
	service  *Service
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewWorker(db DB, service *Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		db:       db,
		service:  service,
		logger:   logger,
		interval: 5 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("webhook worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("webhook worker stopped")
			return
		case <-w.stopCh:
			w.logger.Info("webhook worker stopped")
			return
		case <-ticker.C:
			if err := w.processQueue(ctx); err != nil {
				w.logger.Error("failed to process webhook queue", "error", err)
			}
		}
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// claim marks up to 10 due deliveries as sending and returns them, so
// concurrent workers never pick the same row. Rows left in sending for
// over a minute belong to a worker that died mid-delivery and are taken
// again.
func (w *Worker) claim(ctx context.Context) ([]Delivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'sending', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_deliveries
			WHERE (status = 'pending' AND next_retry_at <= NOW())
			   OR (status = 'sending' AND updated_at < NOW() - INTERVAL '1 minute')
			ORDER BY created_at ASC
			LIMIT 10
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, analysis_id, url, event_type, payload, attempts, max_attempts
	`

	rows, err := w.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("claim webhook deliveries: %w", err)
	}
	defer rows.Close()

	var jobs []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.AnalysisID, &d.URL, &d.EventType, &d.Payload, &d.Attempts, &d.MaxAttempts); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		jobs = append(jobs, d)
	}
	return jobs, rows.Err()
}

func (w *Worker) processQueue(ctx context.Context) error {
	jobs, err := w.claim(ctx)
	if err != nil {
		return err
	}

	for i := range jobs {
		if err := w.processJob(ctx, &jobs[i]); err != nil {
			w.logger.Error("failed to process webhook job",
				"job_id", jobs[i].ID,
				"analysis_id", jobs[i].AnalysisID,
				"attempts", jobs[i].Attempts,
				"error", err,
			)
		}
	}
	return nil
}

// processJob records the outcome even when ctx is cancelled mid-delivery,
// so a claimed row always leaves the sending state.
func (w *Worker) processJob(ctx context.Context, job *Delivery) error {
	err := w.service.deliver(ctx, job.URL, job.EventType, job.Payload)

	persist := context.WithoutCancel(ctx)
	if err != nil {
		return w.scheduleRetry(persist, job, err.Error())
	}
	return w.markDelivered(persist, job.ID)
}

func (w *Worker) scheduleRetry(ctx context.Context, job *Delivery, errorMsg string) error {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		return w.markFailed(ctx, job.ID, errorMsg)
	}

	delay := time.Duration(1<<attempts) * time.Second
	nextRetry := time.Now().Add(delay)

	query := `
		UPDATE webhook_deliveries
		SET attempts = $1,
		    next_retry_at = $2,
		    last_error = $3,
		    status = 'pending',
		    updated_at = NOW()
		WHERE id = $4
	`

	if _, err := w.db.Exec(ctx, query, attempts, nextRetry, errorMsg, job.ID); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	w.logger.Info("webhook job scheduled for retry",
		"job_id", job.ID,
		"attempts", attempts,
		"next_retry", nextRetry,
	)
	return nil
}

func (w *Worker) markDelivered(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'delivered',
		    updated_at = NOW()
		WHERE id = $1
	`

	if _, err := w.db.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}

	w.logger.Info("webhook job delivered", "job_id", jobID)
	return nil
}

func (w *Worker) markFailed(ctx context.Context, jobID uuid.UUID, errorMsg string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'failed',
		    last_error = $1,
		    updated_at = NOW()
		WHERE id = $2
	`

	if _, err := w.db.Exec(ctx, query, errorMsg, jobID); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	w.logger.Warn("webhook job failed", "job_id", jobID, "error", errorMsg)
	return nil
}
