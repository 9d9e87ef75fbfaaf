package trace

import (
	"fmt"
	"slices"
	"sync"
)

// MemoryBackend keeps encoded records in memory. It exercises the same
// encode/decode path as a persistent backend.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*Record)}
}

func (b *MemoryBackend) Save(rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *rec
	cp.Snapshots = slices.Clone(rec.Snapshots)
	cp.Events = slices.Clone(rec.Events)
	b.records[rec.Name] = &cp
	return nil
}

func (b *MemoryBackend) Load(name string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTraceNotFound, name)
	}
	cp := *rec
	return &cp, nil
}

func (b *MemoryBackend) Delete(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[name]; !ok {
		return fmt.Errorf("%w: %q", ErrTraceNotFound, name)
	}
	delete(b.records, name)
	return nil
}

func (b *MemoryBackend) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.records))
	for name := range b.records {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
