// Package pgstore keeps the tenant registry in PostgreSQL. Reservation is a
// single conditional UPDATE, so the row lock taken by that statement is the
// per-tenant critical section.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
)

const columns = `id, name, contact, quota_bytes, used_bytes, document_count, active, namespace, created_at, updated_at, last_upload`

type Store struct {
	db *pgxpool.Pool
}

var _ tenant.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Close is a no-op; the pool belongs to the caller.
func (s *Store) Close() error {
	return nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Contact, &t.QuotaBytes, &t.UsedBytes, &t.DocumentCount,
		&t.Active, &t.Namespace, &t.CreatedAt, &t.UpdatedAt, &t.LastUpload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, `SELECT `+columns+` FROM tenants WHERE id = $1`, id))
	if err != nil && !errors.Is(err, tenant.ErrNotFound) {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, err
}

func (s *Store) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM tenants ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" || t.Namespace == "" {
		return fmt.Errorf("%w: id and namespace are required", tenant.ErrInvalid)
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenants (id, name, contact, quota_bytes, used_bytes, document_count, active, namespace, created_at, updated_at, last_upload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Name, t.Contact, t.QuotaBytes, t.UsedBytes, t.DocumentCount, t.Active, t.Namespace,
		t.CreatedAt, t.UpdatedAt, t.LastUpload,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return tenant.ErrDuplicateNamespace
	}
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, u models.TenantUpdate) (*models.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx,
		`UPDATE tenants SET
		     name = COALESCE($2, name),
		     contact = COALESCE($3, contact),
		     quota_bytes = COALESCE($4, quota_bytes),
		     active = COALESCE($5, active),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+columns,
		id, u.Name, u.Contact, u.QuotaBytes, u.Active,
	))
	if err != nil && !errors.Is(err, tenant.ErrNotFound) {
		return nil, fmt.Errorf("update tenant: %w", err)
	}
	return t, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (s *Store) Reserve(ctx context.Context, id string, bytes int64) (*models.Tenant, error) {
	if bytes < 0 {
		return nil, tenant.ErrInvalid
	}
	t, err := scanTenant(s.db.QueryRow(ctx,
		`UPDATE tenants SET
		     used_bytes = used_bytes + $2,
		     last_upload = now(),
		     updated_at = now()
		 WHERE id = $1 AND active AND used_bytes + $2 <= quota_bytes
		 RETURNING `+columns,
		id, bytes,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, tenant.ErrNotFound) {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}

	// No row matched: find out which condition failed.
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Active {
		return nil, tenant.ErrInactive
	}
	return nil, tenant.ErrQuotaExceeded
}

func (s *Store) Release(ctx context.Context, id string, bytes int64) (*models.Tenant, error) {
	return s.updateReturning(ctx, "release quota",
		`UPDATE tenants SET used_bytes = GREATEST(used_bytes - $2, 0), updated_at = now()
		 WHERE id = $1 RETURNING `+columns, id, bytes)
}

func (s *Store) IncrementDocumentCount(ctx context.Context, id string) (*models.Tenant, error) {
	return s.updateReturning(ctx, "increment document count",
		`UPDATE tenants SET document_count = document_count + 1, updated_at = now()
		 WHERE id = $1 RETURNING `+columns, id)
}

func (s *Store) SetDocumentCount(ctx context.Context, id string, expected, n int) (*models.Tenant, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative document count", tenant.ErrInvalid)
	}
	t, err := s.updateReturning(ctx, "set document count",
		`UPDATE tenants SET document_count = $2, updated_at = now()
		 WHERE id = $1 AND document_count = $3 RETURNING `+columns, id, n, expected)
	if !errors.Is(err, tenant.ErrNotFound) {
		return t, err
	}
	// No row matched: either the tenant is gone or its count moved.
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: expected %d", tenant.ErrCountChanged, expected)
}

func (s *Store) updateReturning(ctx context.Context, op, query string, args ...any) (*models.Tenant, error) {
	t, err := scanTenant(s.db.QueryRow(ctx, query, args...))
	if err != nil && !errors.Is(err, tenant.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, err
}
