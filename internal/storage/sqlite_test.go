package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &models.IndexedDocument{
		ID:          "email:work-mail:msg-1",
		Title:       "Budget Thread",
		Content:     "quarterly numbers",
		Source:      models.SourceEmail,
		ProviderID:  "work-mail",
		ContentType: "email",
		Metadata:    map[string]interface{}{"sender": "alice@example.com"},
		Tags:        []string{"finance"},
		Importance:  7,
		UpdatedAt:   time.Now().Truncate(time.Second),
	}
	if err := store.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != doc.Title || got.Source != doc.Source || got.Importance != 7 {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.Metadata["sender"] != "alice@example.com" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "finance" {
		t.Errorf("tags lost: %v", got.Tags)
	}
}

func TestPutReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &models.IndexedDocument{ID: "d1", Title: "v1", Source: models.SourceDocument, ProviderID: "p", Tags: []string{"old"}}
	if err := store.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Full replace: the second version has no tags, so none must survive.
	doc2 := &models.IndexedDocument{ID: "d1", Title: "v2", Source: models.SourceDocument, ProviderID: "p"}
	if err := store.PutDocument(ctx, doc2); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := store.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "v2" {
		t.Errorf("Title = %q, want v2", got.Title)
	}
	if len(got.Tags) != 0 {
		t.Errorf("stale tags survived replace: %v", got.Tags)
	}
	n, _ := store.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("CountDocuments = %d, want 1", n)
	}
}

func TestGetMissingDocument(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetDocument(context.Background(), "nope")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &models.IndexedDocument{ID: "d1", Title: "t", Source: models.SourceDocument, ProviderID: "p"}
	if err := store.PutDocument(ctx, doc); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetDocument(ctx, "d1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("document still present after delete")
	}
	// Deleting again is a no-op.
	if err := store.DeleteDocument(ctx, "d1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestListDocumentsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i, id := range []string{"old", "mid", "new"} {
		doc := &models.IndexedDocument{
			ID: id, Title: id, Source: models.SourceDocument, ProviderID: "p",
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.PutDocument(ctx, doc); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	docs, err := store.ListDocuments(ctx, 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "new" || docs[1].ID != "mid" {
		t.Errorf("list order wrong: %v", docs)
	}
}

func TestCursorRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cursor := &models.SyncCursor{
		ProviderID: "work-mail",
		SourceKind: models.SourceEmail,
		Position:   "history-id-900",
		LastSyncAt: time.Now().Truncate(time.Second),
	}
	if err := store.SaveCursor(ctx, cursor); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetCursor(ctx, "work-mail", models.SourceEmail)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Position != "history-id-900" || got.SourceKind != models.SourceEmail {
		t.Errorf("roundtrip mismatch: %+v", got)
	}

	// Replace with error state.
	cursor.LastError = "boom"
	cursor.ErrorCount = 3
	if err := store.SaveCursor(ctx, cursor); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err = store.GetCursor(ctx, "work-mail", models.SourceEmail)
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if got.ErrorCount != 3 || got.LastError != "boom" {
		t.Errorf("error state not persisted: %+v", got)
	}

	cursors, err := store.ListCursors(ctx)
	if err != nil || len(cursors) != 1 {
		t.Errorf("ListCursors = %v, %v", cursors, err)
	}

	if err := store.DeleteCursor(ctx, "work-mail", models.SourceEmail); err != nil {
		t.Fatalf("delete cursor: %v", err)
	}
	if _, err := store.GetCursor(ctx, "work-mail", models.SourceEmail); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("cursor still present after delete")
	}
}

func TestGetMissingCursor(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetCursor(context.Background(), "nobody", models.SourceEmail)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
