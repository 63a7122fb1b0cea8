package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

func newTestBleve(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "index.bleve"))
	if err != nil {
		t.Fatalf("create bleve index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndexAndSearch(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	doc := &models.IndexedDocument{
		ID:        "d1",
		Title:     "Quarterly Budget Report",
		Content:   "spending figures for Q3",
		Source:    models.SourceDocument,
		UpdatedAt: time.Now(),
	}
	if err := idx.Upsert(ctx, doc); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := idx.Query(ctx, &QueryPlan{Terms: []string{"budget"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "d1" {
		t.Errorf("got %v, want single hit d1", hits)
	}

	// Case-insensitive match through the standard analyzer.
	hits, err = idx.Query(ctx, &QueryPlan{Terms: []string{"BUDGET"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("uppercase query found %d hits, want 1", len(hits))
	}
}

func TestBleveUpsertReplaces(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, &models.IndexedDocument{ID: "d1", Title: "old words here", Source: models.SourceDocument}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert(ctx, &models.IndexedDocument{ID: "d1", Title: "fresh phrasing", Source: models.SourceDocument}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	hits, err := idx.Query(ctx, &QueryPlan{Terms: []string{"old"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("stale version still matches: %v", hits)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatalf("doc count: %v", err)
	}
	if n != 1 {
		t.Errorf("DocCount = %d, want 1", n)
	}
}

func TestBleveFilters(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	docs := []*models.IndexedDocument{
		{ID: "m1", Title: "budget thread", Source: models.SourceEmail, ProviderID: "work-mail"},
		{ID: "f1", Title: "budget sheet", Source: models.SourceDocument, ProviderID: "drive"},
	}
	for _, d := range docs {
		if err := idx.Upsert(ctx, d); err != nil {
			t.Fatalf("upsert %s: %v", d.ID, err)
		}
	}

	hits, err := idx.Query(ctx, &QueryPlan{
		Terms:   []string{"budget"},
		Filters: Filters{Sources: []string{string(models.SourceEmail)}},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "m1" {
		t.Errorf("source filter: got %v, want only m1", hits)
	}

	hits, err = idx.Query(ctx, &QueryPlan{
		Terms: []string{"budget"},
		Filters: Filters{
			Sources:     []string{string(models.SourceEmail)},
			ProviderIDs: []string{"drive"},
		},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("conflicting filters should exclude everything, got %v", hits)
	}
}

func TestBleveFieldBoosts(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	docs := []*models.IndexedDocument{
		{ID: "title-hit", Title: "budget", Content: "misc filler text", Source: models.SourceDocument},
		{ID: "content-hit", Title: "misc filler", Content: "budget budget notes", Source: models.SourceDocument},
	}
	for _, d := range docs {
		if err := idx.Upsert(ctx, d); err != nil {
			t.Fatalf("upsert %s: %v", d.ID, err)
		}
	}

	hits, err := idx.Query(ctx, &QueryPlan{Terms: []string{"budget"}, TitleBoost: 50})
	if err != nil {
		t.Fatalf("title-boosted query: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "title-hit" {
		t.Errorf("title boost 50: got %v, want title-hit first", hits)
	}

	hits, err = idx.Query(ctx, &QueryPlan{Terms: []string{"budget"}, ContentBoost: 50})
	if err != nil {
		t.Fatalf("content-boosted query: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "content-hit" {
		t.Errorf("content boost 50: got %v, want content-hit first", hits)
	}
}

func TestBleveFuzzy(t *testing.T) {
	idx := newTestBleve(t)
	ctx := context.Background()

	if err := idx.Upsert(ctx, &models.IndexedDocument{ID: "d1", Title: "team meeting", Source: models.SourceDocument}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	hits, err := idx.Query(ctx, &QueryPlan{Terms: []string{"meetng"}, Fuzzy: true, FuzzyDistance: 2})
	if err != nil {
		t.Fatalf("fuzzy query: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("fuzzy query found %d hits, want 1", len(hits))
	}
}

func TestBleveReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index.bleve")
	ctx := context.Background()

	idx, err := NewBleveIndex(dir)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := idx.Upsert(ctx, &models.IndexedDocument{ID: "d1", Title: "persistent entry", Source: models.SourceDocument}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewBleveIndex(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	hits, err := reopened.Query(ctx, &QueryPlan{Terms: []string{"persistent"}})
	if err != nil {
		t.Fatalf("query after reopen: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("document lost across reopen, got %v", hits)
	}
}
