package rawstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and as a stand-in when no
// object storage backend is configured. It enforces the same append-only
// contract as the S3 implementation.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]Record),
	}
}

func (m *MemoryStore) Put(_ context.Context, rec Record) (Ref, error) {
	key := rec.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[key]; exists {
		// Attempt ids make collisions impossible in practice; treat one as
		// a caller bug rather than silently overwriting.
		return Ref{}, fmt.Errorf("rawstore: attempt already staged at %s", key)
	}

	cp := rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	m.objects[key] = cp
	return Ref{Key: key}, nil
}

func (m *MemoryStore) Get(_ context.Context, ref Ref) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.objects[ref.Key]
	if !ok {
		return Record{}, ErrNotFound
	}

	cp := rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return cp, nil
}

func (m *MemoryStore) List(_ context.Context, symbol, timeframe string,
	windowStart, windowEnd time.Time) ([]Ref, error) {
	prefix := windowPrefix(symbol, timeframe, windowStart, windowEnd)

	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []Ref
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			refs = append(refs, Ref{Key: key})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Key < refs[j].Key })
	return refs, nil
}

// Count returns the total number of staged records.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
