package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/sahaay-labs/sahaay/internal/domain"
	"github.com/sahaay-labs/sahaay/internal/service"
)

// ChunkRepository handles persistence of guidance chunks and their embeddings.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) Insert(ctx context.Context, chunks []domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO chunks (id, content, source, title, category, url, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID,
			c.Text,
			c.Source,
			nullableString(c.Title),
			nullableString(c.Category),
			nullableString(c.URL),
			pgvector.NewVector(c.Embedding),
			createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// SearchNearest returns the limit chunks closest to embedding by L2 distance,
// nearest first.
func (r *ChunkRepository) SearchNearest(ctx context.Context, embedding []float32, limit int) ([]*service.ChunkNeighbor, error) {
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(embedding)

	rows, err := r.db.Query(ctx,
		`SELECT id, content, source, title, category, url, embedding <-> $1 AS distance
		 FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <-> $1
		 LIMIT $2`,
		vec, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*service.ChunkNeighbor, 0, limit)
	for rows.Next() {
		var n service.ChunkNeighbor
		var title, category, url *string
		if err := rows.Scan(&n.ID, &n.Content, &n.Source, &title, &category, &url, &n.Distance); err != nil {
			return nil, err
		}
		if title != nil {
			n.Title = *title
		}
		if category != nil {
			n.Category = *category
		}
		if url != nil {
			n.URL = *url
		}
		results = append(results, &n)
	}

	return results, rows.Err()
}

func (r *ChunkRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

func (r *ChunkRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM chunks`)
	return err
}
