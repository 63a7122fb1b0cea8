// Package storage provides the SQLite implementation of Store.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensaku/internal/models"
)

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		content TEXT,
		source TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		content_type TEXT,
		metadata TEXT,
		tags TEXT,
		category TEXT,
		importance INTEGER NOT NULL DEFAULT 0,
		author TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_provider ON documents(provider_id);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS sync_cursors (
		provider_id TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		position TEXT,
		last_sync_at TIMESTAMP,
		last_error TEXT,
		error_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (provider_id, source_kind)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// PutDocument inserts or fully replaces a document. Replace-on-upsert keeps
// the store in lockstep with the index's replace semantics: no partial merge,
// no stale fields.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc *models.IndexedDocument) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents
		 (id, title, content, source, provider_id, content_type, metadata, tags, category, importance, author, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, string(doc.Source), doc.ProviderID, doc.ContentType,
		string(metadataJSON), string(tagsJSON), doc.Category, doc.Importance, doc.Author,
		doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.IndexedDocument, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, source, provider_id, content_type, metadata, tags, category, importance, author, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return doc, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.IndexedDocument, error) {
	var doc models.IndexedDocument
	var source, metadataJSON, tagsJSON string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &source, &doc.ProviderID, &doc.ContentType,
		&metadataJSON, &tagsJSON, &doc.Category, &doc.Importance, &doc.Author,
		&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Source = models.SourceKind(source)
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if tagsJSON != "" && tagsJSON != "null" {
		if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &doc, nil
}

// DeleteDocument removes a document by ID. Absent IDs are a no-op.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns documents ordered by recency.
func (s *SQLiteStore) ListDocuments(ctx context.Context, offset, limit int) ([]*models.IndexedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, source, provider_id, content_type, metadata, tags, category, importance, author, created_at, updated_at
		 FROM documents ORDER BY updated_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.IndexedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// ClearDocuments drops all documents.
func (s *SQLiteStore) ClearDocuments(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

// SaveCursor inserts or replaces the cursor row for (provider, source).
func (s *SQLiteStore) SaveCursor(ctx context.Context, cursor *models.SyncCursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_cursors (provider_id, source_kind, position, last_sync_at, last_error, error_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cursor.ProviderID, string(cursor.SourceKind), cursor.Position,
		cursor.LastSyncAt, cursor.LastError, cursor.ErrorCount,
	)
	return err
}

// GetCursor returns the cursor for (provider, source).
func (s *SQLiteStore) GetCursor(ctx context.Context, providerID string, kind models.SourceKind) (*models.SyncCursor, error) {
	var c models.SyncCursor
	var sourceKind string
	var lastSync sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT provider_id, source_kind, position, last_sync_at, last_error, error_count
		 FROM sync_cursors WHERE provider_id = ? AND source_kind = ?`,
		providerID, string(kind),
	).Scan(&c.ProviderID, &sourceKind, &c.Position, &lastSync, &c.LastError, &c.ErrorCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cursor %s/%s: %w", providerID, kind, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.SourceKind = models.SourceKind(sourceKind)
	if lastSync.Valid {
		c.LastSyncAt = lastSync.Time
	}
	return &c, nil
}

// ListCursors returns all cursor rows.
func (s *SQLiteStore) ListCursors(ctx context.Context) ([]*models.SyncCursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, source_kind, position, last_sync_at, last_error, error_count FROM sync_cursors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []*models.SyncCursor
	for rows.Next() {
		var c models.SyncCursor
		var sourceKind string
		var lastSync sql.NullTime
		if err := rows.Scan(&c.ProviderID, &sourceKind, &c.Position, &lastSync, &c.LastError, &c.ErrorCount); err != nil {
			return nil, err
		}
		c.SourceKind = models.SourceKind(sourceKind)
		if lastSync.Valid {
			c.LastSyncAt = lastSync.Time
		}
		cursors = append(cursors, &c)
	}
	return cursors, rows.Err()
}

// DeleteCursor removes the cursor row for (provider, source). Used only on
// account removal; an active source keeps its cursor across errors.
func (s *SQLiteStore) DeleteCursor(ctx context.Context, providerID string, kind models.SourceKind) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_cursors WHERE provider_id = ? AND source_kind = ?`,
		providerID, string(kind))
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
