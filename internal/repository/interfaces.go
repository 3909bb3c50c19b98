package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

// PgxPool is the subset of *pgxpool.Pool the repositories use; pgxmock's
// pool satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AnalysisRepositoryInterface defines operations for analysis data access
type AnalysisRepositoryInterface interface {
	Create(ctx context.Context, a *domain.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.AnalysisStatus, errMsg string) error
	SaveResult(ctx context.Context, a *domain.Analysis) error
	FindSimilar(ctx context.Context, id uuid.UUID, fingerprint []float32, limit int) ([]domain.SimilarAnalysis, error)
	FailInterrupted(ctx context.Context) (int64, error)
}
