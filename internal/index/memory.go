package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// fieldTF holds per-field term frequencies for one (term, document) pair.
type fieldTF struct {
	title   int
	content int
	tags    int
}

type memDoc struct {
	doc   *models.IndexedDocument
	terms map[string]fieldTF
}

// MemoryIndex is an in-process inverted index with postings lists and TF-IDF
// scoring. It implements the same contract as the persistent index and is
// used for tests and small installs. A single RWMutex gives readers a
// consistent snapshot: a query runs entirely before or entirely after any
// concurrent upsert.
type MemoryIndex struct {
	mu       sync.RWMutex
	docs     map[string]*memDoc
	postings map[string]map[string]fieldTF
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:     make(map[string]*memDoc),
		postings: make(map[string]map[string]fieldTF),
	}
}

// Upsert replaces any existing document with the same ID. The old postings
// are removed and the new ones inserted under one lock, so no reader observes
// a half-written document.
func (m *MemoryIndex) Upsert(ctx context.Context, doc *models.IndexedDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	entry := &memDoc{
		doc:   doc.Clone(),
		terms: make(map[string]fieldTF),
	}
	for _, t := range utils.Tokenize(doc.Title) {
		tf := entry.terms[t]
		tf.title++
		entry.terms[t] = tf
	}
	for _, t := range utils.Tokenize(doc.Content) {
		tf := entry.terms[t]
		tf.content++
		entry.terms[t] = tf
	}
	for _, tag := range doc.Tags {
		for _, t := range utils.Tokenize(tag) {
			tf := entry.terms[t]
			tf.tags++
			entry.terms[t] = tf
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(doc.ID)
	m.docs[doc.ID] = entry
	for term, tf := range entry.terms {
		posting := m.postings[term]
		if posting == nil {
			posting = make(map[string]fieldTF)
			m.postings[term] = posting
		}
		posting[doc.ID] = tf
	}
	return nil
}

// Remove deletes a document. Removing an absent ID is a no-op, not an error.
func (m *MemoryIndex) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

func (m *MemoryIndex) removeLocked(id string) {
	entry, ok := m.docs[id]
	if !ok {
		return
	}
	for term := range entry.terms {
		if posting, ok := m.postings[term]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(m.postings, term)
			}
		}
	}
	delete(m.docs, id)
}

// termMatch is one indexed term matched by a query term, with the score
// penalty for fuzzy distance (1.0 for exact matches).
type termMatch struct {
	term    string
	penalty float64
}

// Query executes the plan and returns base-relevance hits, best first.
// Scoring is field-weighted TF-IDF; fuzzy matches contribute reduced score.
// The context is checked between terms so an expired time budget stops the
// scan instead of running unbounded.
func (m *MemoryIndex) Query(ctx context.Context, plan *QueryPlan) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(plan.Terms) == 0 || len(m.docs) == 0 {
		return nil, nil
	}

	titleBoost := plan.TitleBoost
	if titleBoost <= 0 {
		titleBoost = 2.0
	}
	contentBoost := plan.ContentBoost
	if contentBoost <= 0 {
		contentBoost = 1.0
	}
	tagsBoost := plan.TagsBoost
	if tagsBoost <= 0 {
		tagsBoost = 1.5
	}

	totalDocs := float64(len(m.docs))
	scores := make(map[string]float64)
	coverage := make(map[string]int) // docID -> count of query terms matched

	for _, queryTerm := range plan.Terms {
		if err := ctx.Err(); err != nil {
			return nil, models.ErrQueryTimeout
		}
		matchedDocs := make(map[string]struct{})
		for _, match := range m.expandTerm(queryTerm, plan) {
			posting := m.postings[match.term]
			df := float64(len(posting))
			idf := math.Log(1 + totalDocs/(1+df))
			for docID, tf := range posting {
				weight := 0.0
				if tf.title > 0 {
					weight += titleBoost * (1 + math.Log(float64(tf.title)))
				}
				if tf.content > 0 {
					weight += contentBoost * (1 + math.Log(float64(tf.content)))
				}
				if tf.tags > 0 {
					weight += tagsBoost * (1 + math.Log(float64(tf.tags)))
				}
				scores[docID] += weight * idf * match.penalty
				matchedDocs[docID] = struct{}{}
			}
		}
		for docID := range matchedDocs {
			coverage[docID]++
		}
	}

	hits := make([]Hit, 0, len(scores))
	for docID, score := range scores {
		if plan.Combine == models.CombineAnd && coverage[docID] < len(plan.Terms) {
			continue
		}
		entry := m.docs[docID]
		if entry == nil || !matchesFilters(entry.doc, &plan.Filters) {
			continue
		}
		hits = append(hits, Hit{ID: docID, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if plan.Limit > 0 && len(hits) > plan.Limit {
		hits = hits[:plan.Limit]
	}
	return hits, nil
}

// expandTerm returns the indexed terms a query term matches: the exact term
// plus, when fuzzy is on and the term is long enough, dictionary terms within
// the edit distance at reduced weight.
func (m *MemoryIndex) expandTerm(queryTerm string, plan *QueryPlan) []termMatch {
	var matches []termMatch
	if _, ok := m.postings[queryTerm]; ok {
		matches = append(matches, termMatch{term: queryTerm, penalty: 1.0})
	}
	if !plan.Fuzzy || len([]rune(queryTerm)) < MinFuzzyTermLength {
		return matches
	}
	maxDist := plan.FuzzyDistance
	if maxDist <= 0 {
		maxDist = 2
	}
	for term := range m.postings {
		if term == queryTerm {
			continue
		}
		if WithinDistance(queryTerm, term, maxDist) {
			dist := LevenshteinDistance(queryTerm, term)
			matches = append(matches, termMatch{term: term, penalty: 1.0 / float64(1+dist)})
		}
	}
	return matches
}

func matchesFilters(doc *models.IndexedDocument, f *Filters) bool {
	if f.Empty() {
		return true
	}
	if len(f.ContentTypes) > 0 && !containsString(f.ContentTypes, doc.ContentType) {
		return false
	}
	if len(f.ProviderIDs) > 0 && !containsString(f.ProviderIDs, doc.ProviderID) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, string(doc.Source)) {
		return false
	}
	if len(f.Categories) > 0 && !containsString(f.Categories, doc.Category) {
		return false
	}
	if len(f.Tags) > 0 && !anyTagMatch(f.Tags, doc.Tags) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyTagMatch(wanted, have []string) bool {
	for _, w := range wanted {
		if containsString(have, w) {
			return true
		}
	}
	return false
}

// Clear drops all documents.
func (m *MemoryIndex) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]*memDoc)
	m.postings = make(map[string]map[string]fieldTF)
	return nil
}

// DocCount returns the number of indexed documents.
func (m *MemoryIndex) DocCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.docs)), nil
}

// Terms returns the distinct indexed terms, sorted.
func (m *MemoryIndex) Terms() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := make([]string, 0, len(m.postings))
	for t := range m.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms, nil
}

// Close releases nothing for the in-memory index.
func (m *MemoryIndex) Close() error {
	return nil
}
