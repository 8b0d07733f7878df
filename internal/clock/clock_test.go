// Package clock exercises the time sources.
package clock

import (
	"testing"
	"time"
)

// TestSystemNowUTC ensures the real clock returns UTC timestamps.
func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	clk := NewSystem()

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestFixedNow checks the pinned clock never moves.
func TestFixedNow(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("CLT", -4*3600))
	clk := NewFixed(at)

	first := clk.Now()
	second := clk.Now()
	if !first.Equal(second) {
		t.Fatalf("fixed clock moved: %v vs %v", first, second)
	}
	if first.Location() != time.UTC {
		t.Fatalf("expected UTC normalization, got %v", first.Location())
	}
	if !first.Equal(at) {
		t.Fatalf("expected %v, got %v", at, first)
	}
}
