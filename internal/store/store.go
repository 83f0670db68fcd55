// Package store persists parsed documents in PostgreSQL.
//
// Each document is keyed by its URI. Writing a URI that already exists
// replaces the stored content, so re-loading a corrected file is safe.
// Every document remembers the ingest that wrote it, which is what makes
// DeleteByIngest (rollback of one file) possible.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a document or ingest does not exist.
var ErrNotFound = errors.New("not found")

// DBTX is the subset of pgx used for single statements.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Document is one stored record envelope.
type Document struct {
	URI        string
	Content    string
	SourceFile string
	IngestID   uuid.UUID
	UpdatedAt  time.Time
}

// SetText stores the envelope text, so a Document can be filled directly
// from a parsed record.
func (d *Document) SetText(text string) error {
	d.Content = text
	return nil
}

// IngestRecord is the persisted summary of one ingest.
type IngestRecord struct {
	ID         uuid.UUID `json:"id"`
	FileName   string    `json:"file_name"`
	Header     []string  `json:"header"`
	IDColumn   string    `json:"id_column"`
	Rows       int       `json:"rows"`
	Inserted   int       `json:"inserted"`
	Invalid    int       `json:"invalid"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	uri         TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	source_file TEXT,
	ingest_id   UUID NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_ingest_id_idx ON documents (ingest_id);

CREATE TABLE IF NOT EXISTS ingests (
	id          UUID PRIMARY KEY,
	file_name   TEXT NOT NULL,
	header      TEXT[] NOT NULL DEFAULT '{}',
	id_column   TEXT,
	rows        INTEGER NOT NULL DEFAULT 0,
	inserted    INTEGER NOT NULL DEFAULT 0,
	invalid     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	error       TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const upsertDocumentSQL = `
INSERT INTO documents (uri, content, source_file, ingest_id, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (uri) DO UPDATE SET
	content     = EXCLUDED.content,
	source_file = EXCLUDED.source_file,
	ingest_id   = EXCLUDED.ingest_id,
	updated_at  = now()`

// Store reads and writes documents through a connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WriteBatch upserts docs in a single transaction and returns the number
// of rows written. Either all documents are written or none.
func (s *Store) WriteBatch(ctx context.Context, ingestID uuid.UUID, docs []Document) (int64, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(upsertDocumentSQL, d.URI, d.Content, toPgText(d.SourceFile), toPgUUID(ingestID))
	}

	br := tx.SendBatch(ctx, batch)
	var written int64
	for i := range docs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert %q: %w", docs[i].URI, err)
		}
		written += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// Get returns the document stored under uri.
func (s *Store) Get(ctx context.Context, uri string) (*Document, error) {
	var (
		d          Document
		sourceFile pgtype.Text
		ingestID   pgtype.UUID
	)

	err := s.pool.QueryRow(ctx,
		`SELECT uri, content, source_file, ingest_id, updated_at FROM documents WHERE uri = $1`,
		uri,
	).Scan(&d.URI, &d.Content, &sourceFile, &ingestID, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %q: %w", uri, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	d.SourceFile = sourceFile.String
	if ingestID.Valid {
		d.IngestID = uuid.UUID(ingestID.Bytes)
	}
	return &d, nil
}

// CountByIngest returns how many stored documents were last written by
// the given ingest.
func (s *Store) CountByIngest(ctx context.Context, ingestID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE ingest_id = $1`,
		toPgUUID(ingestID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// DeleteByIngest removes every document last written by the given ingest.
func (s *Store) DeleteByIngest(ctx context.Context, ingestID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE ingest_id = $1`, toPgUUID(ingestID))
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetDocuments deletes every stored document.
func (s *Store) ResetDocuments(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("delete all documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetIngests deletes the ingest history.
func (s *Store) ResetIngests(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ingests`)
	if err != nil {
		return 0, fmt.Errorf("delete all ingests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SaveIngest records or updates an ingest summary.
func (s *Store) SaveIngest(ctx context.Context, rec IngestRecord) error {
	return saveIngest(ctx, s.pool, rec)
}

// ListIngests returns the most recent ingest summaries, newest first.
func (s *Store) ListIngests(ctx context.Context, limit int) ([]IngestRecord, error) {
	return listIngests(ctx, s.pool, limit)
}

func saveIngest(ctx context.Context, db DBTX, rec IngestRecord) error {
	header := rec.Header
	if header == nil {
		header = []string{}
	}

	_, err := db.Exec(ctx, `
		INSERT INTO ingests (id, file_name, header, id_column, rows, inserted, invalid, status, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			header      = EXCLUDED.header,
			id_column   = EXCLUDED.id_column,
			rows        = EXCLUDED.rows,
			inserted    = EXCLUDED.inserted,
			invalid     = EXCLUDED.invalid,
			status      = EXCLUDED.status,
			error       = EXCLUDED.error,
			duration_ms = EXCLUDED.duration_ms`,
		toPgUUID(rec.ID), rec.FileName, header, toPgText(rec.IDColumn),
		rec.Rows, rec.Inserted, rec.Invalid, rec.Status, toPgText(rec.Error), rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("save ingest: %w", err)
	}
	return nil
}

func listIngests(ctx context.Context, db DBTX, limit int) ([]IngestRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(ctx, `
		SELECT id, file_name, header, id_column, rows, inserted, invalid, status, error, duration_ms, created_at
		FROM ingests
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ingests: %w", err)
	}
	defer rows.Close()

	var out []IngestRecord
	for rows.Next() {
		var (
			rec      IngestRecord
			id       pgtype.UUID
			idColumn pgtype.Text
			errText  pgtype.Text
		)
		if err := rows.Scan(&id, &rec.FileName, &rec.Header, &idColumn, &rec.Rows, &rec.Inserted,
			&rec.Invalid, &rec.Status, &errText, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ingest: %w", err)
		}
		rec.ID = uuid.UUID(id.Bytes)
		rec.IDColumn = idColumn.String
		rec.Error = errText.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ingest rows: %w", err)
	}
	return out, nil
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}
