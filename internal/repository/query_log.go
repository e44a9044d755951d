package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sahaay-labs/sahaay/internal/service"
)

// QueryLogRepository stores usage records for evaluation of answer quality.
type QueryLogRepository struct {
	pool *pgxpool.Pool
}

func NewQueryLogRepository(pool *pgxpool.Pool) *QueryLogRepository {
	return &QueryLogRepository{pool: pool}
}

func (r *QueryLogRepository) CreateQueryLog(ctx context.Context, entry service.QueryLogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO query_logs (query, language, crime_type, cache_hit, result_count, provider, failed, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Query,
		entry.Language,
		nullableString(entry.CrimeType),
		entry.CacheHit,
		entry.ResultCount,
		nullableString(entry.Provider),
		entry.Failed,
		entry.DurationMs,
	)
	return err
}
