package objstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store. Safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]Object

	// PutHook, when set, runs before every Put; a non-nil return fails the Put
	PutHook func(ctx context.Context, key string) error

	// ListErr, when set, is returned by ListByPrefix
	ListErr error
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]Object)}
}

func (m *MemStore) Put(ctx context.Context, key string, obj Object) error {
	if m.PutHook != nil {
		if err := m.PutHook(ctx, key); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body := append([]byte(nil), obj.Body...)
	m.mu.Lock()
	m.objects[key] = Object{Body: body, ContentType: obj.ContentType, ContentEncoding: obj.ContentEncoding}
	m.mu.Unlock()
	return nil
}

func (m *MemStore) ListByPrefix(ctx context.Context, prefix string, maxKeys int) (int, error) {
	if m.ListErr != nil {
		return 0, m.ListErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			n++
			if maxKeys > 0 && n >= maxKeys {
				break
			}
		}
	}
	return n, nil
}

func (m *MemStore) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

// Get returns the object stored at key.
func (m *MemStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys returns every stored key, sorted.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
