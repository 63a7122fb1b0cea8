// Package storage defines persistence for documents and sync cursors.
package storage

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// Store is the authoritative document store plus sync-cursor persistence.
// PutDocument fully replaces an existing row with the same ID. GetDocument
// and GetCursor return models.ErrNotFound (wrapped) when absent.
type Store interface {
	PutDocument(ctx context.Context, doc *models.IndexedDocument) error
	GetDocument(ctx context.Context, id string) (*models.IndexedDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.IndexedDocument, error)
	CountDocuments(ctx context.Context) (int64, error)
	// ClearDocuments drops all documents. Used for full re-index recovery.
	ClearDocuments(ctx context.Context) error

	// Cursor persistence. A cursor row exists from the first sync attempt of
	// a (provider, source) pair until the source is removed.
	SaveCursor(ctx context.Context, cursor *models.SyncCursor) error
	GetCursor(ctx context.Context, providerID string, kind models.SourceKind) (*models.SyncCursor, error)
	ListCursors(ctx context.Context) ([]*models.SyncCursor, error)
	DeleteCursor(ctx context.Context, providerID string, kind models.SourceKind) error

	Close() error
}
