// Package badgerstore keeps the tenant registry in an embedded BadgerDB.
//
// Each tenant is one JSON value. Mutations run as read-modify-write inside a
// serializable badger transaction; a concurrent writer to the same tenant
// makes the commit fail with badger.ErrConflict and the mutation is retried
// from a fresh read. Writers of different tenants never touch the same key.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
)

const (
	tenantPrefix    = "tenant:"
	namespacePrefix = "tenantns:"

	maxConflictRetries = 16
)

type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// locks serializes writers of one tenant inside this process so that
	// badger conflicts only arise across processes.
	locks sync.Map
}

var _ tenant.Store = (*Store)(nil)

type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens the registry at dir, creating the directory if needed. With
// inMemory set, dir is ignored and nothing is persisted.
func Open(dir string, inMemory bool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "badgerstore")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tenant store dir: %w", err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("stat tenant store dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open tenant store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func tenantKey(id string) []byte {
	return []byte(tenantPrefix + id)
}

func namespaceKey(ns string) []byte {
	return []byte(namespacePrefix + ns)
}

func readTenant(txn *badger.Txn, id string) (*models.Tenant, error) {
	item, err := txn.Get(tenantKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tenant %s: %w", id, err)
	}
	var t models.Tenant
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	}); err != nil {
		return nil, fmt.Errorf("decode tenant %s: %w", id, err)
	}
	return &t, nil
}

func writeTenant(txn *badger.Txn, t *models.Tenant) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", t.ID, err)
	}
	return txn.Set(tenantKey(t.ID), data)
}

func (s *Store) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var t *models.Tenant
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = readTenant(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]models.Tenant, error) {
	var out []models.Tenant
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tenantPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var t models.Tenant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return fmt.Errorf("decode tenant %s: %w", it.Item().Key(), err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Insert(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" || t.Namespace == "" {
		return fmt.Errorf("%w: id and namespace are required", tenant.ErrInvalid)
	}
	unlock := s.lock(t.ID)
	defer unlock()

	return s.retry(ctx, func(txn *badger.Txn) error {
		for _, key := range [][]byte{tenantKey(t.ID), namespaceKey(t.Namespace)} {
			_, err := txn.Get(key)
			if err == nil {
				return tenant.ErrDuplicateNamespace
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("check %s: %w", key, err)
			}
		}
		if err := writeTenant(txn, t); err != nil {
			return err
		}
		return txn.Set(namespaceKey(t.Namespace), []byte(t.ID))
	})
}

func (s *Store) Update(ctx context.Context, id string, u models.TenantUpdate) (*models.Tenant, error) {
	return s.mutate(ctx, id, func(t *models.Tenant) error {
		u.Apply(t)
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	return s.retry(ctx, func(txn *badger.Txn) error {
		t, err := readTenant(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(tenantKey(id)); err != nil {
			return err
		}
		return txn.Delete(namespaceKey(t.Namespace))
	})
}

func (s *Store) Reserve(ctx context.Context, id string, bytes int64) (*models.Tenant, error) {
	return s.mutate(ctx, id, func(t *models.Tenant) error {
		if err := tenant.CheckReserve(t, bytes); err != nil {
			return err
		}
		now := time.Now().UTC()
		t.LastUpload = &now
		return nil
	})
}

func (s *Store) Release(ctx context.Context, id string, bytes int64) (*models.Tenant, error) {
	return s.mutate(ctx, id, func(t *models.Tenant) error {
		tenant.ApplyRelease(t, bytes)
		return nil
	})
}

func (s *Store) IncrementDocumentCount(ctx context.Context, id string) (*models.Tenant, error) {
	return s.mutate(ctx, id, func(t *models.Tenant) error {
		t.DocumentCount++
		return nil
	})
}

func (s *Store) SetDocumentCount(ctx context.Context, id string, expected, n int) (*models.Tenant, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative document count", tenant.ErrInvalid)
	}
	return s.mutate(ctx, id, func(t *models.Tenant) error {
		if t.DocumentCount != expected {
			return fmt.Errorf("%w: expected %d, found %d", tenant.ErrCountChanged, expected, t.DocumentCount)
		}
		t.DocumentCount = n
		return nil
	})
}

// mutate loads tenant id, applies fn and writes the result back in one
// transaction. fn must be free of side effects; it may run more than once.
func (s *Store) mutate(ctx context.Context, id string, fn func(*models.Tenant) error) (*models.Tenant, error) {
	unlock := s.lock(id)
	defer unlock()

	var out *models.Tenant
	err := s.retry(ctx, func(txn *badger.Txn) error {
		t, err := readTenant(txn, id)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = time.Now().UTC()
		if err := writeTenant(txn, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) retry(ctx context.Context, fn func(*badger.Txn) error) error {
	backoff := time.Millisecond
	for attempt := 0; ; attempt++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= maxConflictRetries {
			return fmt.Errorf("tenant store contention: %w", err)
		}
		s.logger.Debug("transaction conflict, retrying", "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

func (s *Store) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
