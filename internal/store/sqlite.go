package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS documents (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    tbl           TEXT NOT NULL,
    id            TEXT NOT NULL,
    etag          TEXT NOT NULL,
    unique_key    TEXT,
    partition_key TEXT,
    data          BLOB NOT NULL,
    UNIQUE (tbl, id)
)`

var createDocumentIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS documents_unique
	 ON documents (tbl, unique_key) WHERE unique_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS documents_partition
	 ON documents (tbl, partition_key, seq)`,
}

const selectDocument = `
SELECT seq, id, etag, COALESCE(unique_key, ''),
       COALESCE(partition_key, ''), data
FROM documents`

// SQLiteBackend stores documents in a single SQLite table. ETag checks
// are part of the UPDATE predicate, so a stale write affects no rows
type SQLiteBackend struct {
	db *sql.DB
}

// Compile-time interface satisfaction check
var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens the SQLite database at dbPath and creates the
// documents table
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createDocumentsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}

	for _, stmt := range createDocumentIndexes {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create document indexes: %w", err)
		}
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Create(
	ctx context.Context, table string, doc *Document,
) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (tbl, id, etag, unique_key, partition_key, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		table, doc.ID, doc.ETag, nullString(doc.Unique),
		nullString(doc.Partition), doc.Data,
	)
	if err != nil {
		return mapSQLiteError(err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	doc.Seq = seq
	return nil
}

func (s *SQLiteBackend) Read(
	ctx context.Context, table, id string,
) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		selectDocument+` WHERE tbl = ? AND id = ?`, table, id,
	)
	return scanDocument(row)
}

func (s *SQLiteBackend) Update(
	ctx context.Context, table string, doc *Document, etag string,
) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents
		 SET etag = ?, unique_key = ?, partition_key = ?, data = ?
		 WHERE tbl = ? AND id = ? AND etag = ?`,
		doc.ETag, nullString(doc.Unique), nullString(doc.Partition),
		doc.Data, table, doc.ID, etag,
	)
	if err != nil {
		return mapSQLiteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.Read(ctx, table, doc.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE tbl = ? AND id = ?`, table, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteBackend) FindUnique(
	ctx context.Context, table, key string,
) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		selectDocument+` WHERE tbl = ? AND unique_key = ?`, table, key,
	)
	return scanDocument(row)
}

func (s *SQLiteBackend) Search(
	ctx context.Context, table string, q Query,
) ([]*Document, error) {
	query := selectDocument + ` WHERE tbl = ?`
	args := []any{table}
	if q.Partition != "" {
		query += ` AND partition_key = ?`
		args = append(args, q.Partition)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return q.Page(docs), nil
}

// Close closes the underlying database connection
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var doc Document
	err := row.Scan(
		&doc.Seq, &doc.ID, &doc.ETag, &doc.Unique, &doc.Partition, &doc.Data,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapSQLiteError(err error) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicate, err.Error())
	}
	return err
}
