package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

var _ AnalysisRepositoryInterface = (*AnalysisRepository)(nil)

type AnalysisRepository struct {
	pool PgxPool
}

func NewAnalysisRepository(pool PgxPool) *AnalysisRepository {
	return &AnalysisRepository{pool: pool}
}

func (r *AnalysisRepository) Create(ctx context.Context, a *domain.Analysis) error {
	query := `
		INSERT INTO analyses (id, status, file_name, file_path, mode, callback_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}

	err := r.pool.QueryRow(ctx, query,
		a.ID,
		a.Status,
		a.FileName,
		a.FilePath,
		a.Mode,
		a.CallbackURL,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}

	return nil
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	query := `
		SELECT id, status, file_name, file_path, mode, callback_url, total_frames, fps,
			frames_analyzed, skipped, scores, stats, verdict, fingerprint, error,
			created_at, updated_at, completed_at
		FROM analyses
		WHERE id = $1
	`

	var a domain.Analysis
	var fingerprint *pgvector.Vector

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.Status,
		&a.FileName,
		&a.FilePath,
		&a.Mode,
		&a.CallbackURL,
		&a.TotalFrames,
		&a.FPS,
		&a.FramesAnalyzed,
		&a.Skipped,
		&a.Scores,
		&a.Stats,
		&a.Verdict,
		&fingerprint,
		&a.Error,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis by id: %w", err)
	}

	a.Fingerprint = fromVector(fingerprint)
	return &a, nil
}

// UpdateStatus moves an analysis to status. Terminal statuses also set
// completed_at.
func (r *AnalysisRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AnalysisStatus, errMsg string) error {
	query := `
		UPDATE analyses
		SET status = $2, error = $3, updated_at = NOW(),
			completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, status, errMsg, status.Finished())
	if err != nil {
		return fmt.Errorf("update analysis status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAnalysisNotFound
	}

	return nil
}

// SaveResult stores the outcome of a run, whatever its final status.
func (r *AnalysisRepository) SaveResult(ctx context.Context, a *domain.Analysis) error {
	query := `
		UPDATE analyses
		SET status = $2, total_frames = $3, fps = $4, frames_analyzed = $5, skipped = $6,
			scores = $7, stats = $8, verdict = $9, fingerprint = $10, error = $11,
			updated_at = NOW(), completed_at = NOW()
		WHERE id = $1 AND status <> 'cancelled'
		RETURNING updated_at, completed_at
	`

	err := r.pool.QueryRow(ctx, query,
		a.ID,
		a.Status,
		a.TotalFrames,
		a.FPS,
		a.FramesAnalyzed,
		a.Skipped,
		a.Scores,
		a.Stats,
		a.Verdict,
		toVector(a.Fingerprint),
		a.Error,
	).Scan(&a.UpdatedAt, &a.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.resultRejected(ctx, a.ID)
	}
	if err != nil {
		return fmt.Errorf("save analysis result: %w", err)
	}

	return nil
}

// resultRejected tells a missing row apart from one cancelled by another
// process, whose status must not be overwritten.
func (r *AnalysisRepository) resultRejected(ctx context.Context, id uuid.UUID) error {
	var status domain.AnalysisStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM analyses WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAnalysisNotFound
	}
	if err != nil {
		return fmt.Errorf("save analysis result: %w", err)
	}
	return domain.ErrAnalysisFinished
}

// FindSimilar returns completed analyses ordered by cosine distance between
// their feature fingerprint and fingerprint, excluding id itself.
func (r *AnalysisRepository) FindSimilar(ctx context.Context, id uuid.UUID, fingerprint []float32, limit int) ([]domain.SimilarAnalysis, error) {
	if len(fingerprint) == 0 {
		return nil, domain.ErrNoFingerprint
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT id, file_name, COALESCE(verdict->>'label', ''), 1 - (fingerprint <=> $1) AS similarity, created_at
		FROM analyses
		WHERE id <> $2 AND status = 'completed' AND fingerprint IS NOT NULL
		ORDER BY fingerprint <=> $1
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(fingerprint), id, limit)
	if err != nil {
		return nil, fmt.Errorf("find similar analyses: %w", err)
	}
	defer rows.Close()

	var out []domain.SimilarAnalysis
	for rows.Next() {
		var s domain.SimilarAnalysis
		if err := rows.Scan(&s.ID, &s.FileName, &s.Label, &s.Similarity, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan similar analysis: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar analyses: %w", err)
	}

	return out, nil
}

// FailInterrupted marks analyses left pending or running by a previous
// process as failed. Called once at startup.
func (r *AnalysisRepository) FailInterrupted(ctx context.Context) (int64, error) {
	query := `
		UPDATE analyses
		SET status = 'failed', error = 'interrupted by server restart', updated_at = NOW(), completed_at = NOW()
		WHERE status IN ('pending', 'running')
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted analyses: %w", err)
	}
	return result.RowsAffected(), nil
}
