package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FS writes objects under a root directory on the local filesystem.
type FS struct {
	root string
}

// NewFS creates a filesystem-backed store rooted at root, creating the
// directory when absent and probing that it is writable.
func NewFS(root string) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, eris.New("blob: fs root is required")
	}

	info, err := os.Stat(root)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, eris.Errorf("blob: fs root %q is not a directory", root)
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
			return nil, eris.Wrap(mkErr, "blob: create fs root")
		}
	default:
		return nil, eris.Wrap(err, "blob: stat fs root")
	}

	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, eris.Wrap(err, "blob: fs root is not writable")
	}
	if err := os.Remove(probe); err != nil {
		return nil, eris.Wrap(err, "blob: clean up probe file")
	}

	return &FS{root: root}, nil
}

// Put writes data to <root>/<key> via a temp file in the destination
// directory followed by an atomic rename. Re-putting an existing key
// replaces it with identical bytes: keys are content-addressed.
func (s *FS) Put(ctx context.Context, key string, data []byte, _ string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", eris.Wrap(err, "blob: put canceled")
	}
	full, err := s.resolve(key)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", "", eris.Wrap(err, "blob: create object directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return "", "", eris.Wrap(err, "blob: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", eris.Wrap(err, "blob: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", eris.Wrap(err, "blob: close temp file")
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", "", eris.Wrap(err, "blob: rename into place")
	}

	return KindFS, key, nil
}

// Get reads the object back.
func (s *FS) Get(ctx context.Context, kind, path string) ([]byte, error) {
	if err := checkKind(kind, KindFS); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "blob: get canceled")
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, eris.Wrap(err, "blob: read object")
	}
	return data, nil
}

// Presign is unsupported on the filesystem backend.
func (s *FS) Presign(_ context.Context, kind, _ string, _ time.Duration) (string, error) {
	if err := checkKind(kind, KindFS); err != nil {
		return "", err
	}
	return "", ErrPresignUnsupported
}

// resolve joins key under the root and refuses paths that escape it.
func (s *FS) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", eris.New("blob: object key is required")
	}
	cleanRoot := filepath.Clean(s.root)
	full := filepath.Clean(filepath.Join(cleanRoot, filepath.FromSlash(key)))
	if !strings.HasPrefix(full, cleanRoot+string(filepath.Separator)) {
		return "", eris.Errorf("blob: key %q escapes the fs root", key)
	}
	return full, nil
}
