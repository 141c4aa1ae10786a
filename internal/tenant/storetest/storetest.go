// Package storetest holds behaviour tests shared by every tenant.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The store is closed by the caller.
type Factory func(t *testing.T) tenant.Store

// Run exercises the tenant.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s tenant.Store)
	}{
		{"InsertAndGet", testInsertAndGet},
		{"InsertDuplicate", testInsertDuplicate},
		{"GetMissing", testGetMissing},
		{"List", testList},
		{"Update", testUpdate},
		{"Delete", testDelete},
		{"ReserveWithinQuota", testReserveWithinQuota},
		{"ReserveOverQuota", testReserveOverQuota},
		{"ReserveInactive", testReserveInactive},
		{"ReleaseFloorsAtZero", testReleaseFloorsAtZero},
		{"DocumentCount", testDocumentCount},
		{"ConcurrentReserveSingleWinner", testConcurrentReserveSingleWinner},
		{"ConcurrentReserveNeverOvershoots", testConcurrentReserveNeverOvershoots},
		{"TenantsDoNotInterfere", testTenantsDoNotInterfere},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

// NewTenant builds an active tenant with the given quota.
func NewTenant(id string, quota int64) *models.Tenant {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Tenant{
		ID:         id,
		Name:       "Tenant " + id,
		Contact:    id + "@example.com",
		QuotaBytes: quota,
		Active:     true,
		Namespace:  models.NamespaceFor(id),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func testInsertAndGet(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	in := NewTenant("a1b2c3d4", 1000)
	require.NoError(t, s.Insert(ctx, in))

	got, err := s.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Contact, got.Contact)
	assert.Equal(t, "tenant_a1b2c3d4", got.Namespace)
	assert.Equal(t, int64(1000), got.QuotaBytes)
	assert.Zero(t, got.UsedBytes)
	assert.Zero(t, got.DocumentCount)
	assert.True(t, got.Active)
	assert.Nil(t, got.LastUpload)
}

func testInsertDuplicate(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	first := NewTenant("dup00001", 1000)
	require.NoError(t, s.Insert(ctx, first))

	second := NewTenant("dup00001", 5000)
	second.Name = "Intruder"
	err := s.Insert(ctx, second)
	assert.ErrorIs(t, err, tenant.ErrDuplicateNamespace)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Name, got.Name, "existing tenant must not be overwritten")
	assert.Equal(t, int64(1000), got.QuotaBytes)
}

func testGetMissing(t *testing.T, s tenant.Store) {
	_, err := s.Get(context.Background(), "missing0")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func testList(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, id := range []string{"list0001", "list0002", "list0003"} {
		require.NoError(t, s.Insert(ctx, NewTenant(id, 100)))
	}
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	ids := map[string]bool{}
	for _, tn := range list {
		ids[tn.ID] = true
	}
	assert.True(t, ids["list0001"] && ids["list0002"] && ids["list0003"])
}

func testUpdate(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewTenant("upd00001", 1000)))

	name := "Renamed"
	quota := int64(2000)
	active := false
	got, err := s.Update(ctx, "upd00001", models.TenantUpdate{Name: &name, QuotaBytes: &quota, Active: &active})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, int64(2000), got.QuotaBytes)
	assert.False(t, got.Active)
	assert.Equal(t, "upd00001@example.com", got.Contact, "unset fields are untouched")
	assert.Equal(t, "tenant_upd00001", got.Namespace)

	reloaded, err := s.Get(ctx, "upd00001")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)

	_, err = s.Update(ctx, "missing0", models.TenantUpdate{Name: &name})
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func testDelete(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewTenant("del00001", 1000)))
	require.NoError(t, s.Delete(ctx, "del00001"))

	_, err := s.Get(ctx, "del00001")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "del00001"), tenant.ErrNotFound)

	// The namespace is free again once the record is gone.
	require.NoError(t, s.Insert(ctx, NewTenant("del00001", 1000)))
}

func testReserveWithinQuota(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewTenant("res00001", 1000)))

	got, err := s.Reserve(ctx, "res00001", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.UsedBytes)
	require.NotNil(t, got.LastUpload)

	got, err = s.Reserve(ctx, "res00001", 600)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.UsedBytes, "reaching the quota exactly is allowed")

	_, err = s.Reserve(ctx, "missing0", 1)
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func testReserveOverQuota(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	tn := NewTenant("res00002", 1048576)
	require.NoError(t, s.Insert(ctx, tn))
	_, err := s.Reserve(ctx, tn.ID, 900000)
	require.NoError(t, err)

	_, err = s.Reserve(ctx, tn.ID, 200000)
	assert.ErrorIs(t, err, tenant.ErrQuotaExceeded)

	got, err := s.Get(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900000), got.UsedBytes, "a rejected reservation changes nothing")
}

func testReserveInactive(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	tn := NewTenant("res00003", 1000)
	tn.Active = false
	require.NoError(t, s.Insert(ctx, tn))

	_, err := s.Reserve(ctx, tn.ID, 10)
	assert.ErrorIs(t, err, tenant.ErrInactive)

	got, err := s.Get(ctx, tn.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UsedBytes)
}

func testReleaseFloorsAtZero(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewTenant("rel00001", 1000)))
	_, err := s.Reserve(ctx, "rel00001", 300)
	require.NoError(t, err)

	got, err := s.Release(ctx, "rel00001", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.UsedBytes)

	got, err = s.Release(ctx, "rel00001", 500)
	require.NoError(t, err)
	assert.Zero(t, got.UsedBytes)
}

func testDocumentCount(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewTenant("doc00001", 1000)))

	got, err := s.IncrementDocumentCount(ctx, "doc00001")
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)
	got, err = s.IncrementDocumentCount(ctx, "doc00001")
	require.NoError(t, err)
	assert.Equal(t, 2, got.DocumentCount)

	got, err = s.SetDocumentCount(ctx, "doc00001", 2, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got.DocumentCount)

	_, err = s.SetDocumentCount(ctx, "doc00001", 2, 9)
	assert.ErrorIs(t, err, tenant.ErrCountChanged)
	got, err = s.Get(ctx, "doc00001")
	require.NoError(t, err)
	assert.Equal(t, 7, got.DocumentCount, "a stale expectation leaves the count alone")

	_, err = s.SetDocumentCount(ctx, "missing0", 0, 1)
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	_, err = s.IncrementDocumentCount(ctx, "missing0")
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func testConcurrentReserveSingleWinner(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, NewTenant("race0001", 1000000)))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.Reserve(ctx, "race0001", 600000)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, exceeded int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, tenant.ErrQuotaExceeded):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exceeded)

	got, err := s.Get(ctx, "race0001")
	require.NoError(t, err)
	assert.Equal(t, int64(600000), got.UsedBytes)
}

func testConcurrentReserveNeverOvershoots(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	const (
		quota   = 10000
		size    = 300
		workers = 50
	)
	require.NoError(t, s.Insert(ctx, NewTenant("race0002", quota)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Reserve(ctx, "race0002", size)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, tenant.ErrQuotaExceeded)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "race0002")
	require.NoError(t, err)
	assert.Equal(t, quota/size, success)
	assert.Equal(t, int64(success*size), got.UsedBytes)
	assert.LessOrEqual(t, got.UsedBytes, int64(quota))
}

func testTenantsDoNotInterfere(t *testing.T, s tenant.Store) {
	ctx := context.Background()
	const tenants = 8
	for i := 0; i < tenants; i++ {
		require.NoError(t, s.Insert(ctx, NewTenant(fmt.Sprintf("iso%05d", i), 1000)))
	}

	var wg sync.WaitGroup
	for i := 0; i < tenants; i++ {
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := s.Reserve(ctx, id, 100)
				assert.NoError(t, err)
			}(fmt.Sprintf("iso%05d", i))
		}
	}
	wg.Wait()

	for i := 0; i < tenants; i++ {
		got, err := s.Get(ctx, fmt.Sprintf("iso%05d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.UsedBytes)
	}
}
