package faults

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	err := New(KindSchemaAmbiguity, "header mismatch at position 7")
	assert.Equal(t, KindSchemaAmbiguity, KindOf(err))
	assert.True(t, IsKind(err, KindSchemaAmbiguity))
	assert.False(t, IsKind(err, KindRowValidation))

	plain := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.Equal(t, KindInternal, KindOf(eris.Wrap(plain, "ctx")))
}

func TestWrapPreservesInnerKind(t *testing.T) {
	t.Parallel()

	inner := New(KindIntegrity, "digest mismatch")
	outer := Wrap(KindPersist, inner, "parser: load blob")
	assert.Equal(t, KindIntegrity, KindOf(outer))

	// Unclassified causes take the outer kind.
	wrapped := Wrap(KindStorage, errors.New("disk full"), "blob: put")
	assert.Equal(t, KindStorage, KindOf(wrapped))

	assert.NoError(t, Wrap(KindStorage, nil, "noop"))
}

func TestErrorTextAndMessage(t *testing.T) {
	t.Parallel()

	err := Newf(KindUnknownMetric, "metric %q not registered", "presupuesto_usd")
	require.Error(t, err)
	assert.Equal(t, `unknown_metric: metric "presupuesto_usd" not registered`, err.Error())
	assert.Equal(t, `metric "presupuesto_usd" not registered`, Message(err))
	assert.Equal(t, "boom", Message(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadRequest))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindUnknownMetric))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindFetch))
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindSchemaAmbiguity, KindRowValidation, KindUnknownMetric, KindDuplicateParse} {
		assert.Equal(t, ExitInputShape, ExitCode(kind), string(kind))
	}
	assert.Equal(t, ExitIntegrity, ExitCode(KindIntegrity))
	assert.Equal(t, ExitInternal, ExitCode(KindFetch))
	assert.Equal(t, ExitInternal, ExitCode(KindInternal))
	assert.Equal(t, ExitUsage, ExitCode(KindBadRequest))
}
