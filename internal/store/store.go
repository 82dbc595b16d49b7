// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements durable collections of JSON records backed by a
// JSON file, SQLite, PostgreSQL, Redis or memory.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Store is a named collection of JSON records.
type Store interface {
	// All returns every record of the collection, keyed by record key.
	All(ctx context.Context) (map[string][]byte, error)
	// Set inserts or replaces the record with the given key. Value must be a
	// JSON document. Set returns only after the record is durable.
	Set(ctx context.Context, key string, value []byte) error
	// Close closes the store and releases any resources.
	Close() error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	errBadCollection = errors.New("collection name must match " + collectionRe.String())
	errUnknownScheme = errors.New("unknown store URL scheme")
)

var collectionRe = regexp.MustCompile(`^[a-z][a-z_]*$`)

// Open opens the collection in the store identified by rawURL:
//
//   - "" or "file:DIR" stores the collection in DIR/<collection>.json
//     (defaultDir is used when rawURL is empty);
//   - "mem:" keeps the collection in memory;
//   - "sqlite:PATH" uses a table in the SQLite database at PATH;
//   - "postgres://..." or "postgresql://..." uses a PostgreSQL table;
//   - "redis://..." or "rediss://..." uses a Redis hash.
func Open(ctx context.Context, rawURL, defaultDir, collection string) (Store, error) {
	if !collectionRe.MatchString(collection) {
		return nil, fmt.Errorf("%q: %w", collection, errBadCollection)
	}

	if rawURL == "" {
		return NewJSONFile(filepath.Join(defaultDir, collection+".json"))
	}

	scheme, rest, ok := strings.Cut(rawURL, ":")
	if !ok {
		return nil, fmt.Errorf("%q: %w", rawURL, errUnknownScheme)
	}

	switch scheme {
	case "file":
		return NewJSONFile(filepath.Join(pathOf(rest), collection+".json"))
	case "mem":
		return NewMemStore(), nil
	case "sqlite":
		return NewSQLiteStore(ctx, pathOf(rest), collection)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, rawURL, collection)
	case "redis", "rediss":
		return NewRedisStore(ctx, rawURL, collection)
	}
	return nil, fmt.Errorf("%q: %w", scheme, errUnknownScheme)
}

// LocalDir returns the directory holding the JSON files of the store
// identified by rawURL. ok is false if the store doesn't keep its data in
// local JSON files.
func LocalDir(rawURL, defaultDir string) (dir string, ok bool) {
	if rawURL == "" {
		return defaultDir, true
	}
	if rest, found := strings.CutPrefix(rawURL, "file:"); found {
		return pathOf(rest), true
	}
	return "", false
}

// pathOf extracts a filesystem path from the part of URL after the scheme,
// accepting both "file:relative/dir" and "file:///absolute/dir".
func pathOf(rest string) string {
	if strings.HasPrefix(rest, "//") {
		if u, err := url.Parse("x:" + rest); err == nil {
			return u.Path
		}
	}
	return rest
}
