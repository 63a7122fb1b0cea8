// Package indexer is the single write path into the document store and the
// search index. All producers (sync cycles, the HTTP API, the CLI) funnel
// through it so conflicting writes to the same document ID are serialized.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/index"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
)

// Indexer writes documents to the store and the index as one logical upsert.
type Indexer struct {
	store  storage.Store
	index  index.SearchIndex
	logger *zap.Logger

	// writeMu serializes upserts and removes. Last writer wins by wall
	// clock, which is safe because upsert is idempotent and full-replace.
	writeMu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// NewIndexer creates the write path over the given store and index.
func NewIndexer(store storage.Store, idx index.SearchIndex, opts ...IndexerOption) *Indexer {
	ix := &Indexer{store: store, index: idx}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexDocument stores and indexes a document, fully replacing any previous
// version with the same ID. The index write is durable before the call
// returns; an index failure surfaces as models.ErrIndexIO so the caller
// retries instead of advancing its cursor.
func (ix *Indexer) IndexDocument(ctx context.Context, doc *models.IndexedDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	doc.Content = Preprocess(doc.Content)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.store.PutDocument(ctx, doc); err != nil {
		return fmt.Errorf("store document %s: %w", doc.ID, err)
	}
	if err := ix.index.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	if ix.logger != nil {
		ix.logger.Debug("document indexed",
			zap.String("doc_id", doc.ID),
			zap.String("source", string(doc.Source)),
			zap.String("provider_id", doc.ProviderID))
	}
	return nil
}

// DeleteDocument removes a document from the index and the store. Deleting an
// absent ID is a no-op and does not affect other documents.
func (ix *Indexer) DeleteDocument(ctx context.Context, id string) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.index.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove from index %s: %w", id, err)
	}
	if err := ix.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("remove from store %s: %w", id, err)
	}
	if ix.logger != nil {
		ix.logger.Debug("document deleted", zap.String("doc_id", id))
	}
	return nil
}

// Clear drops every document from both the index and the store. Used only for
// full re-index and corruption recovery.
func (ix *Indexer) Clear(ctx context.Context) error {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if err := ix.index.Clear(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := ix.store.ClearDocuments(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}

// Preprocess normalizes text for indexing (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
