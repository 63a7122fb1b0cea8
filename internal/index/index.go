// Package index provides the queryable document index: a persistent Bleve
// implementation and an in-process inverted index, selected at construction.
package index

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// Filters restrict a query to documents matching every populated dimension.
// Dimensions are conjunctive; values within one dimension are disjunctive.
type Filters struct {
	ContentTypes []string
	ProviderIDs  []string
	Sources      []string
	Categories   []string
	Tags         []string
}

// Empty reports whether no filter dimension is populated.
func (f *Filters) Empty() bool {
	return len(f.ContentTypes) == 0 && len(f.ProviderIDs) == 0 &&
		len(f.Sources) == 0 && len(f.Categories) == 0 && len(f.Tags) == 0
}

// QueryPlan is the executable form of a search request. The planner builds it
// from the query string and options; the index executes it.
type QueryPlan struct {
	// Terms are the analyzed query terms, already lowercased.
	Terms []string
	// Combine controls whether a document must match all terms or any term.
	Combine models.Combine
	// Fuzzy enables edit-distance-tolerant term matching. Terms of length
	// <= MinFuzzyTermLength are never fuzzy-expanded.
	Fuzzy bool
	// FuzzyDistance is the maximum edit distance for fuzzy matches.
	FuzzyDistance int
	// TitleBoost, ContentBoost, and TagsBoost weight matches in the
	// corresponding fields. Non-positive values fall back to the built-in
	// weights (title 2.0, content 1.0, tags 1.5).
	TitleBoost   float64
	ContentBoost float64
	TagsBoost    float64
	// Filters restrict candidates before scoring.
	Filters Filters
	// Limit bounds the number of candidates returned, pre-pagination.
	Limit int
}

// MinFuzzyTermLength is the shortest term eligible for fuzzy expansion.
// Expanding one- and two-letter terms matches half the dictionary.
const MinFuzzyTermLength = 3

// Hit is one scored candidate from the index. Score is the base text
// relevance; importance and recency bias are applied by the ranker.
type Hit struct {
	ID    string
	Score float64
}

// SearchIndex is the index store contract. Upsert atomically replaces any
// document with the same ID and is durable before it returns; Remove of an
// absent ID is a no-op; Query sees a consistent snapshot despite concurrent
// writes. Storage failures surface as models.ErrIndexIO and must be retried
// by the caller, never dropped.
type SearchIndex interface {
	Upsert(ctx context.Context, doc *models.IndexedDocument) error
	Remove(ctx context.Context, id string) error
	Query(ctx context.Context, plan *QueryPlan) ([]Hit, error)
	// Clear drops all documents. Used for full re-index and corruption recovery.
	Clear(ctx context.Context) error
	DocCount() (uint64, error)
	// Terms returns the distinct indexed terms of the title and content
	// fields, for suggestion and spell-check use.
	Terms() ([]string, error)
	Close() error
}
