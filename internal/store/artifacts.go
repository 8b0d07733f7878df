package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/estado-transparente/pipeline/internal/faults"
)

// uniqueViolation is the Postgres error code raised when an INSERT hits a
// unique constraint.
const uniqueViolation = "23505"

const artifactColumns = `id, source_id, url, captured_at, content_hash, mime_type,
	size_bytes, storage_kind, storage_path, parsed_status, COALESCE(parse_error, '')`

func scanArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	err := row.Scan(&a.ID, &a.SourceID, &a.URL, &a.CapturedAt, &a.ContentHash,
		&a.MIMEType, &a.SizeBytes, &a.StorageKind, &a.StoragePath,
		&a.ParsedStatus, &a.ParseError)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertArtifact inserts a and reports whether the row was created. When a
// concurrent collector already registered the same content_hash, the unique
// violation is converted into reuse of the winning row.
func (s *Store) InsertArtifact(ctx context.Context, a Artifact) (*Artifact, bool, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO artifacts (id, source_id, url, captured_at, content_hash,
			mime_type, size_bytes, storage_kind, storage_path, parsed_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SourceID, a.URL, a.CapturedAt, a.ContentHash,
		a.MIMEType, a.SizeBytes, a.StorageKind, a.StoragePath, ParsePending,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if eris.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			winner, lookupErr := s.ArtifactByHash(ctx, a.ContentHash)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, eris.Wrap(err, "store: insert artifact")
	}
	a.ParsedStatus = ParsePending
	return &a, true, nil
}

// ArtifactByID loads one artifact. Missing rows are a not_found fault.
func (s *Store) ArtifactByID(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	a, err := scanArtifact(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, faults.Newf(faults.KindNotFound, "artifact %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: artifact by id")
	}
	return a, nil
}

// ArtifactByHash returns the artifact with the given content hash, or nil
// when none exists. Used by the collector's dedup probe.
func (s *Store) ArtifactByHash(ctx context.Context, contentHash string) (*Artifact, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE content_hash = $1`, contentHash)
	a, err := scanArtifact(row)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: artifact by hash")
	}
	return a, nil
}

// SetArtifactParsed records the outcome of a parse attempt. parseError is
// stored as NULL when empty.
func (s *Store) SetArtifactParsed(ctx context.Context, id uuid.UUID, status, parseError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE artifacts SET parsed_status = $2, parse_error = $3 WHERE id = $1`,
		id, status, nullIfEmpty(parseError),
	)
	if err != nil {
		return eris.Wrap(err, "store: set artifact parsed")
	}
	if tag.RowsAffected() == 0 {
		return faults.Newf(faults.KindNotFound, "artifact %s not found", id)
	}
	return nil
}
