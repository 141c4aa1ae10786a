package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Sink for development and tests. Scroll walks
// points in insertion order.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]*memoryNamespace
}

type memoryNamespace struct {
	dimension int
	order     []uuid.UUID
	points    map[uuid.UUID]Point
}

var _ Sink = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]*memoryNamespace)}
}

func (m *MemoryStore) EnsureNamespace(_ context.Context, namespace string, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.namespaces[namespace]; ok {
		if ns.dimension == 0 {
			ns.dimension = dimension
		}
		return nil
	}
	m.namespaces[namespace] = &memoryNamespace{dimension: dimension, points: make(map[uuid.UUID]Point)}
	return nil
}

// Upsert creates the namespace on first write.
func (m *MemoryStore) Upsert(_ context.Context, namespace string, points []Point) error {
	dim, err := ValidatePoints(points)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = &memoryNamespace{points: make(map[uuid.UUID]Point)}
		m.namespaces[namespace] = ns
	}
	if ns.dimension == 0 {
		ns.dimension = dim
	}
	if len(points) > 0 && dim != ns.dimension {
		return fmt.Errorf("%w: got %d, namespace has %d", ErrDimensionMismatch, dim, ns.dimension)
	}
	for _, p := range points {
		if _, exists := ns.points[p.ID]; !exists {
			ns.order = append(ns.order, p.ID)
		}
		p.Vector = append([]float32(nil), p.Vector...)
		ns.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) Scroll(_ context.Context, namespace, offset string, limit int) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, ErrNamespaceNotFound
	}
	start := 0
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid scroll offset %q", offset)
		}
		start = n
	}
	if limit <= 0 {
		limit = 100
	}

	page := &Page{}
	end := min(start+limit, len(ns.order))
	for i := start; i < end; i++ {
		p := ns.points[ns.order[i]]
		page.Points = append(page.Points, StoredPoint{ID: p.ID, Payload: p.Payload})
	}
	if end < len(ns.order) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryStore) HasSource(_ context.Context, namespace, sourceName string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return false, nil
	}
	for _, p := range ns.points {
		if p.Payload.SourceName == sourceName {
			return true, nil
		}
	}
	return false, nil
}

// DeleteNamespace is a no-op for a missing namespace.
func (m *MemoryStore) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Namespaces lists existing namespaces in sorted order.
func (m *MemoryStore) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of points in namespace.
func (m *MemoryStore) Count(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ns, ok := m.namespaces[namespace]; ok {
		return len(ns.points)
	}
	return 0
}
