// Package uuid provides row identifier generation.
//
// All canonical-store identifiers are UUID version 7: time-ordered, so
// index locality follows insertion order, and opaque to every consumer.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 identifiers.
type Generator struct{}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7.
func (Generator) NewID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// NewIDString returns a fresh UUIDv7 in canonical string form.
func (g Generator) NewIDString() (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Parse validates s as a UUID of any version.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse uuid %q: %w", s, err)
	}
	return id, nil
}
