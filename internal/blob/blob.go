// Package blob stores raw artifact bytes, content-addressed by their
// SHA-256 digest. The canonical store references objects by
// (storage_kind, storage_path); this package owns the bytes themselves.
//
// Backends are interchangeable by configuration: a local filesystem
// layout, an S3-compatible object store, and an in-process map for tests.
// Because keys derive from content hashes, concurrent writers of the same
// bytes converge on the same object and a key never resolves to two
// different byte sequences.
package blob

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/config"
)

// Storage kinds recorded in artifacts.storage_kind.
const (
	KindFS     = "fs"
	KindMinio  = "minio"
	KindMemory = "memory"
)

// ErrPresignUnsupported marks backends without time-limited URLs; callers
// fall back to the query service's /raw download route.
var ErrPresignUnsupported = eris.New("blob: presigned URLs unsupported by this backend")

// Store is the narrow capability the collector, parser and query service
// hold on raw bytes.
type Store interface {
	// Put writes data under key atomically and returns the
	// (storage_kind, storage_path) pair to record on the artifact.
	Put(ctx context.Context, key string, data []byte, contentType string) (kind, path string, err error)
	// Get streams back the object registered under (kind, path).
	Get(ctx context.Context, kind, path string) ([]byte, error)
	// Presign returns a time-limited GET URL, or ErrPresignUnsupported.
	Presign(ctx context.Context, kind, path string, ttl time.Duration) (string, error)
}

// KeyForDigest maps a bare hex digest to its object path. With the fs
// backend rooted at the default `data` directory this yields
// data/raw/<hex>.raw on disk.
func KeyForDigest(hexDigest string) string {
	return "raw/" + hexDigest + ".raw"
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Raw.Store {
	case config.StoreFS:
		return NewFS(cfg.Raw.FSRoot)
	case config.StoreMinio:
		return NewMinio(ctx, cfg.Minio)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, eris.Errorf("blob: unknown store %q", cfg.Raw.Store)
	}
}

func checkKind(got, want string) error {
	if got != want {
		return eris.Errorf("blob: object stored under kind %q but the %q backend is configured", got, want)
	}
	return nil
}
