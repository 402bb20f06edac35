package storage

import (
	"bytes"
	"context"
	"sync"
)

// memoryStorage keeps everything in process memory. Used for tests and
// for throwaway sessions that should not touch disk.
type memoryStorage struct {
	mu      sync.Mutex
	session *Session
	keys    map[int][]byte
}

// NewMemory returns an empty in-memory storage.
func NewMemory() Storage {
	return &memoryStorage{keys: make(map[int][]byte)}
}

func (m *memoryStorage) Load(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, ErrNotFound
	}
	cp := *m.session
	cp.AuthKey = bytes.Clone(m.session.AuthKey)
	return &cp, nil
}

func (m *memoryStorage) Save(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.AuthKey = bytes.Clone(s.AuthKey)
	m.session = &cp
	return nil
}

func (m *memoryStorage) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.keys = make(map[int][]byte)
	return nil
}

func (m *memoryStorage) LoadAuthKey(ctx context.Context, dc int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[dc]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(key), nil
}

func (m *memoryStorage) SaveAuthKey(ctx context.Context, dc int, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[dc] = bytes.Clone(key)
	return nil
}

func (m *memoryStorage) Close() error { return nil }
