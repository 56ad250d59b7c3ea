package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// MockStore is an in-memory implementation of ObjectStore for testing.
type MockStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	calls   MockCalls

	// FailNext, when non-nil, is returned once from the next Get/Put call.
	// Used to exercise transient-failure handling.
	FailNext error
}

// MockCalls tracks method invocations for test verification.
type MockCalls struct {
	Put    int
	Get    int
	Exists int
	Delete int
	List   int
}

// NewMockStore creates a new in-memory object store.
func NewMockStore() *MockStore {
	return &MockStore{objects: make(map[string]*Object)}
}

// Put stores an object and returns its content hash.
func (m *MockStore) Put(ctx context.Context, obj *Object) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Put++

	if err := m.takeFailure(); err != nil {
		return "", err
	}

	hash := obj.Hash
	if hash == "" {
		h := sha256.Sum256(obj.Data)
		hash = hex.EncodeToString(h[:])
	}

	if existing, ok := m.objects[hash]; ok {
		existing.Metadata.LastAccessed = time.Now()
		return hash, nil
	}

	stored := &Object{
		Hash: hash,
		Type: obj.Type,
		Size: int64(len(obj.Data)),
		Data: append([]byte(nil), obj.Data...),
		Metadata: Metadata{
			CreatedAt:    time.Now(),
			LastAccessed: time.Now(),
			Custom:       make(map[string]string),
		},
	}
	for k, v := range obj.Metadata.Custom {
		stored.Metadata.Custom[k] = v
	}
	m.objects[hash] = stored
	return hash, nil
}

// Get retrieves an object by its content hash.
func (m *MockStore) Get(ctx context.Context, hash string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Get++

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	obj, ok := m.objects[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	obj.Metadata.LastAccessed = time.Now()
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	return &cp, nil
}

// Exists checks if an object with the given hash exists.
func (m *MockStore) Exists(ctx context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.calls.Exists++
	_, ok := m.objects[hash]
	return ok, nil
}

// Info returns an object's metadata without its bytes.
func (m *MockStore) Info(ctx context.Context, hash string) (Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[hash]
	if !ok {
		return Metadata{}, ErrNotFound{Hash: hash}
	}
	return obj.Metadata, nil
}

// Delete removes an object by its content hash.
func (m *MockStore) Delete(ctx context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++
	if _, ok := m.objects[hash]; !ok {
		return ErrNotFound{Hash: hash}
	}
	delete(m.objects, hash)
	return nil
}

// List returns all object hashes matching the given type filter.
func (m *MockStore) List(ctx context.Context, objectType ObjectType) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.calls.List++
	var hashes []string
	for hash, obj := range m.objects {
		if objectType == "" || obj.Type == objectType {
			hashes = append(hashes, hash)
		}
	}
	return hashes, nil
}

// Close releases resources (no-op).
func (m *MockStore) Close() error { return nil }

// Calls returns a snapshot of invocation counts.
func (m *MockStore) Calls() MockCalls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MockStore) takeFailure() error {
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	return nil
}
