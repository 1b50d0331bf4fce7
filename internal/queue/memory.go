package queue

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in process memory. Useful for tests and
// for hosts that do not need durability.
type MemoryBackend struct {
	mu    sync.Mutex
	elems []Element
	saves int
}

// NewMemoryBackend returns a backend seeded with elems.
func NewMemoryBackend(elems ...Element) *MemoryBackend {
	b := &MemoryBackend{}
	for _, e := range elems {
		b.elems = append(b.elems, e.clone())
	}
	return b
}

func (b *MemoryBackend) Load(_ context.Context) ([]Element, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneAll(b.elems), nil
}

func (b *MemoryBackend) Save(_ context.Context, elems []Element) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elems = cloneAll(elems)
	b.saves++
	return nil
}

func (b *MemoryBackend) Location() string { return "" }

// Saves returns how many times Save has been called.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func cloneAll(elems []Element) []Element {
	out := make([]Element, len(elems))
	for i, e := range elems {
		out[i] = e.clone()
	}
	return out
}
