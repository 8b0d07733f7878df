package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchEntities(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "natural_key", "display_name", "entity_type"}).
		AddRow(uuid.MustParse("0198c5f0-0000-7000-8000-000000000010"), "11", "Ministerio de Educación", "partida").
		AddRow(uuid.MustParse("0198c5f0-0000-7000-8000-000000000011"), "16", "Ministerio de Salud", "partida")

	mock.ExpectQuery("SELECT id, natural_key, display_name, entity_type").
		WithArgs("%minis%", 20).
		WillReturnRows(rows)

	got, err := New(mock).SearchEntities(context.Background(), "minis", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ministerio de Educación", got[0].DisplayName)
	assert.Equal(t, "16", got[1].NaturalKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEntitiesClampsLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, natural_key, display_name, entity_type").
		WithArgs("%%", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "natural_key", "display_name", "entity_type"}))

	_, err = New(mock).SearchEntities(context.Background(), "", 5000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchEntitiesEscapesPattern(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, natural_key, display_name, entity_type").
		WithArgs(`%50\%\_%`, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "natural_key", "display_name", "entity_type"}))

	_, err = New(mock).SearchEntities(context.Background(), "50%_", 20)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
