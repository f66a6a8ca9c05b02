package keychain

import (
	"fmt"
	"sync"
)

// MemoryBackend is an in-memory Backend for testing. Credentials do not
// outlive the process.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[memoryKey][]byte
}

type memoryKey struct {
	service string
	account string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[memoryKey][]byte)}
}

func keyFor(q Query) memoryKey {
	return memoryKey{service: q.Service, account: q.Account()}
}

func (b *MemoryBackend) Add(q Query, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyFor(q)
	if _, ok := b.items[k]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, q.Account())
	}
	b.items[k] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Find(q Query) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.items[keyFor(q)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, q.Account())
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Remove(q Query) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := keyFor(q)
	if _, ok := b.items[k]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, q.Account())
	}
	delete(b.items, k)
	return nil
}

func (b *MemoryBackend) List(service string) ([]Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := make([]Entry, 0, len(b.items))
	for k := range b.items {
		if k.service != service {
			continue
		}
		if e, ok := splitAccount(k.account); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Len returns the number of stored credentials across all services.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
