package storage

import (
	"fmt"
	"sync"
)

// Memory is an in-process Store. Quota behaves like FileStore's.
type Memory struct {
	Quota int

	mu     sync.Mutex
	values map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.values == nil {
		m.values = make(map[string][]byte)
	}

	if m.Quota > 0 {
		used := 0
		for k, v := range m.values {
			if k != key {
				used += len(v)
			}
		}
		if used+len(value) > m.Quota {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, key)
		}
	}

	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
