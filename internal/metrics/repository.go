package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used here.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository handles database operations for metrics
type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// SaveSnapshot stores every counter of snap as one row stamped at.
func (r *Repository) SaveSnapshot(ctx context.Context, snap Snapshot, at time.Time) error {
	values := snap.Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	vals := make([]float64, len(names))
	for i, name := range names {
		vals[i] = values[name]
	}

	query := `
		INSERT INTO pipeline_metrics (name, value, recorded_at)
		SELECT unnest($1::text[]), unnest($2::float8[]), $3
	`

	if _, err := r.db.Exec(ctx, query, names, vals, at); err != nil {
		return fmt.Errorf("save metrics snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent value of each metric.
func (r *Repository) Latest(ctx context.Context) (map[string]float64, error) {
	query := `
		SELECT DISTINCT ON (name) name, value
		FROM pipeline_metrics
		ORDER BY name, recorded_at DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("latest metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		out[name] = value
	}

	return out, rows.Err()
}

// DeleteOlderThan removes rows recorded before now-olderThan.
func (r *Repository) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM pipeline_metrics
		WHERE recorded_at < $1
	`

	cutoff := time.Now().Add(-olderThan)
	result, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old metrics: %w", err)
	}

	return result.RowsAffected(), nil
}
