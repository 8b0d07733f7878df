package blob

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Memory stores objects in-process. Test helper.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put copies data under key.
func (s *Memory) Put(_ context.Context, key string, data []byte, _ string) (string, string, error) {
	if key == "" {
		return "", "", eris.New("blob: object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return KindMemory, key, nil
}

// Get returns a copy of the stored bytes.
func (s *Memory) Get(_ context.Context, kind, path string) ([]byte, error) {
	if err := checkKind(kind, KindMemory); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, eris.Errorf("blob: object %q not found", path)
	}
	return append([]byte(nil), data...), nil
}

// Presign is unsupported in-memory.
func (s *Memory) Presign(_ context.Context, kind, _ string, _ time.Duration) (string, error) {
	if err := checkKind(kind, KindMemory); err != nil {
		return "", err
	}
	return "", ErrPresignUnsupported
}

// Len reports the number of stored objects. Test helper.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
