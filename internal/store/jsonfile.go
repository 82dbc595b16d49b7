// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.astrophena.name/hush/internal/atomicio"
)

// JSONFile is a file-backed implementation of the [Store] interface. Every
// Set rewrites the whole file atomically.
type JSONFile struct {
	path string

	mu   sync.Mutex
	data jsonStore
}

type jsonStore struct {
	Records map[string]json.RawMessage `json:"records"`
}

// NewJSONFile creates a new [JSONFile] backed by the file at path. The file
// is created on first write if it doesn't exist.
func NewJSONFile(path string) (*JSONFile, error) {
	s := &JSONFile{
		path: path,
		data: jsonStore{Records: make(map[string]json.RawMessage)},
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if s.data.Records == nil {
		s.data.Records = make(map[string]json.RawMessage)
	}
	// Files written by hand may be indented.
	for k, v := range s.data.Records {
		c, err := compact(v)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: record %q: %w", path, k, err)
		}
		s.data.Records[k] = c
	}
	return s, nil
}

// All returns all records loaded from the file.
func (s *JSONFile) All(_ context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make(map[string][]byte, len(s.data.Records))
	for k, v := range s.data.Records {
		all[k] = append([]byte(nil), v...)
	}
	return all, nil
}

// Set stores a value and rewrites the file.
func (s *JSONFile) Set(_ context.Context, key string, value []byte) error {
	c, err := compact(value)
	if err != nil {
		return fmt.Errorf("record %q: value is not valid JSON: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// On write failure the record stays in memory and is written out with
	// the next successful Set.
	s.data.Records[key] = c

	b, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.path, b, 0o644)
}

// compact returns value without insignificant whitespace, the form records
// take after a write and a reload.
func compact(value []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Close closes the file store.
func (s *JSONFile) Close() error { return nil }
