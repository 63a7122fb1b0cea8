package search

import (
	"context"
	"testing"

	"github.com/hyperjump/kensaku/internal/models"
)

func TestSuggestPrefixFirst(t *testing.T) {
	h := newTestEngine(t)
	h.add(t, &models.IndexedDocument{ID: "d1", Title: "quarterly quota quiz", Content: "quandary", Source: models.SourceDocument})

	got, err := h.engine.Suggest(context.Background(), "qua", 10)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	// Prefix completions sort alphabetically ahead of fuzzy matches like quiz.
	want := []string{"quandary", "quarterly", "quota"}
	if len(got) < 3 {
		t.Fatalf("got %v, want at least the three prefix completions", got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("position %d: got %q, want %q", i, got[i], w)
		}
	}
}

func TestSuggestFuzzyFallback(t *testing.T) {
	h := newTestEngine(t)
	h.add(t, &models.IndexedDocument{ID: "d1", Title: "meeting", Source: models.SourceDocument})

	got, err := h.engine.Suggest(context.Background(), "meetng", 10)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 1 || got[0] != "meeting" {
		t.Errorf("got %v, want [meeting]", got)
	}
}

func TestSuggestLimit(t *testing.T) {
	h := newTestEngine(t)
	h.add(t, &models.IndexedDocument{ID: "d1", Title: "alpha alert almond already also altitude", Source: models.SourceDocument})

	got, err := h.engine.Suggest(context.Background(), "al", 3)
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d suggestions, want 3", len(got))
	}
}

func TestSuggestEmptyPartial(t *testing.T) {
	h := newTestEngine(t)
	got, err := h.engine.Suggest(context.Background(), "   ", 10)
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v; want empty, nil", got, err)
	}
}
