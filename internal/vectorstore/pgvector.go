package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore keeps points in the document_points table; a namespace is a
// row in vector_namespaces that pins the vector dimension.
type PgVectorStore struct {
	db *pgxpool.Pool
}

var _ Sink = (*PgVectorStore)(nil)

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

// Close is a no-op; the pool belongs to the caller.
func (s *PgVectorStore) Close() error { return nil }

func (s *PgVectorStore) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("ensure namespace %s: vector dimension unknown", namespace)
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO vector_namespaces (namespace, dimension) VALUES ($1, $2) ON CONFLICT (namespace) DO NOTHING`,
		namespace, dimension,
	)
	if err != nil {
		return fmt.Errorf("ensure namespace %s: %w", namespace, err)
	}
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	dim, err := ValidatePoints(points)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var nsDim int
	err = tx.QueryRow(ctx,
		`INSERT INTO vector_namespaces (namespace, dimension) VALUES ($1, $2)
		 ON CONFLICT (namespace) DO UPDATE SET namespace = EXCLUDED.namespace
		 RETURNING dimension`,
		namespace, dim,
	).Scan(&nsDim)
	if err != nil {
		return fmt.Errorf("lock namespace %s: %w", namespace, err)
	}
	if nsDim != dim {
		return fmt.Errorf("%w: got %d, namespace has %d", ErrDimensionMismatch, dim, nsDim)
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO document_points (id, namespace, tenant_id, source_name, chunk_index, chunk_total, content, description, size_bytes, kind, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO UPDATE SET
			     content = EXCLUDED.content,
			     chunk_total = EXCLUDED.chunk_total,
			     description = EXCLUDED.description,
			     size_bytes = EXCLUDED.size_bytes,
			     kind = EXCLUDED.kind,
			     embedding = EXCLUDED.embedding`,
			p.ID, namespace, p.Payload.TenantID, p.Payload.SourceName, p.Payload.ChunkIndex, p.Payload.ChunkTotal,
			p.Payload.Text, p.Payload.Description, p.Payload.SizeBytes, p.Payload.Kind, pgvector.NewVector(p.Vector),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range points {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert point %d: %w", points[i].Payload.ChunkIndex, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Scroll pages through a namespace in id order; the offset is the last id of
// the previous page.
func (s *PgVectorStore) Scroll(ctx context.Context, namespace, offset string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 100
	}
	var after *uuid.UUID
	if offset != "" {
		id, err := uuid.Parse(offset)
		if err != nil {
			return nil, fmt.Errorf("invalid scroll offset %q: %w", offset, err)
		}
		after = &id
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vector_namespaces WHERE namespace = $1)`, namespace).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check namespace %s: %w", namespace, err)
	}
	if !exists {
		return nil, ErrNamespaceNotFound
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, source_name, chunk_index, chunk_total, content, description, size_bytes, kind
		 FROM document_points
		 WHERE namespace = $1 AND ($2::uuid IS NULL OR id > $2)
		 ORDER BY id
		 LIMIT $3`,
		namespace, after, limit+1,
	)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", namespace, err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var (
			sp StoredPoint
			p  models.ChunkPayload
		)
		if err := rows.Scan(&sp.ID, &p.TenantID, &p.SourceName, &p.ChunkIndex, &p.ChunkTotal,
			&p.Text, &p.Description, &p.SizeBytes, &p.Kind); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		sp.Payload = p
		page.Points = append(page.Points, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scroll %s: %w", namespace, err)
	}

	if len(page.Points) > limit {
		page.Points = page.Points[:limit]
		page.Next = page.Points[limit-1].ID.String()
	}
	return page, nil
}

func (s *PgVectorStore) HasSource(ctx context.Context, namespace, sourceName string) (bool, error) {
	var found bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM document_points WHERE namespace = $1 AND source_name = $2)`,
		namespace, sourceName,
	).Scan(&found)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("find source %s in %s: %w", sourceName, namespace, err)
	}
	return found, nil
}

func (s *PgVectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM vector_namespaces WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}
