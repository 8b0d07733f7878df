// Package sha256 provides content hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix tags every digest produced by this package.
const Prefix = "sha256:"

// Hasher implements collector.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a digest in the form "sha256:<hex>".
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest of data and compares it to want.
func (h Hasher) Verify(data []byte, want string) error {
	got, err := h.Hash(data)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("digest mismatch: got %s, want %s", got, want)
	}
	return nil
}

// IsDigest reports whether s is a well-formed prefixed digest.
func IsDigest(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(rest) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// HexPart returns the bare hex portion of a prefixed digest.
func HexPart(s string) string {
	return strings.TrimPrefix(s, Prefix)
}
