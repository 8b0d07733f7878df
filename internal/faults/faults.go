// Package faults classifies pipeline failures into the closed kind set the
// external contract exposes: HTTP statuses on the query service, exit codes
// on the CLIs, and the error text recorded in job_runs and artifacts.
//
// Nothing is ever auto-corrected. Input-shape kinds mean the source changed
// and an operator must update the registry before retrying; infrastructure
// kinds are safe to retry because collector and parser are idempotent.
package faults

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind identifies one failure class.
type Kind string

const (
	// Collector failures.
	KindFetch   Kind = "fetch_error"
	KindStorage Kind = "storage_error"
	KindPersist Kind = "persist_error"

	// Parser failures.
	KindIntegrity       Kind = "integrity_error"
	KindSchemaAmbiguity Kind = "schema_ambiguity"
	KindRowValidation   Kind = "row_validation"
	KindUnknownMetric   Kind = "unknown_metric"
	KindDuplicateParse  Kind = "duplicate_parse"

	// Query-surface failures.
	KindBadRequest Kind = "bad_request"
	KindNotFound   Kind = "not_found"

	// KindInternal is the fallback for anything unclassified.
	KindInternal Kind = "internal"
)

// Fault is an error carrying a Kind. Construct via New, Newf or Wrap.
type Fault struct {
	kind Kind
	err  error
}

// New builds a Fault with a fresh message.
func New(kind Kind, msg string) error {
	return &Fault{kind: kind, err: eris.New(msg)}
}

// Newf builds a Fault with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Fault{kind: kind, err: eris.Errorf(format, args...)}
}

// Wrap attaches a kind and context to err. Returns nil when err is nil.
// An inner Fault's kind is preserved; the outer kind applies only when
// the cause is unclassified.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	var inner *Fault
	if errors.As(err, &inner) {
		kind = inner.kind
	}
	return &Fault{kind: kind, err: eris.Wrap(err, msg)}
}

func (f *Fault) Error() string {
	return string(f.kind) + ": " + f.err.Error()
}

func (f *Fault) Unwrap() error {
	return f.err
}

// Kind returns the failure class.
func (f *Fault) Kind() Kind {
	return f.kind
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.kind
	}
	return KindInternal
}

// Message returns the human detail of err without the kind prefix.
func Message(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.err.Error()
	}
	return err.Error()
}

// IsKind reports whether err carries exactly kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the query service's status code contract.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnknownMetric:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Exit codes shared by the collector and parser CLIs. Input-shape
// failures are distinguishable from infrastructure ones so an external
// driver can decide between "fix the registry" and "retry".
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitUsage      = 2
	ExitInputShape = 3
	ExitIntegrity  = 4
)

// ExitCode maps a kind to the CLI exit code contract.
func ExitCode(kind Kind) int {
	switch kind {
	case KindSchemaAmbiguity, KindRowValidation, KindUnknownMetric, KindDuplicateParse:
		return ExitInputShape
	case KindIntegrity:
		return ExitIntegrity
	case KindBadRequest:
		return ExitUsage
	default:
		return ExitInternal
	}
}
