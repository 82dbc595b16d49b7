// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"maps"
	"sync"
)

// MemStore is an in-memory implementation of the [Store] interface. Its
// records don't survive process restarts.
type MemStore struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemStore creates a new empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string][]byte)}
}

// All returns copies of all records.
func (s *MemStore) All(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := maps.Clone(s.records)
	for k, v := range all {
		all[k] = append([]byte(nil), v...)
	}
	return all, nil
}

// Set stores a copy of value.
func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = append([]byte(nil), value...)
	return nil
}

// Close is a no-op for MemStore.
func (s *MemStore) Close() error { return nil }
