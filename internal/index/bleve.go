package index

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/kensaku/internal/models"
)

// bleveDoc is the shape actually indexed. Filterable dimensions use keyword
// fields so term queries match whole values; tags are indexed twice, once for
// exact filtering and once tokenized for scoring.
type bleveDoc struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	TagsText    string   `json:"tags_text"`
	Tags        []string `json:"tags"`
	ContentType string   `json:"content_type"`
	ProviderID  string   `json:"provider_id"`
	Source      string   `json:"source"`
	Category    string   `json:"category"`
}

// BleveIndex implements SearchIndex on a persistent Bleve index. Bleve gives
// us the durability and snapshot semantics the contract demands: writes are
// committed before Index returns and searches run against a point-in-time
// segment view.
type BleveIndex struct {
	index bleve.Index
	path  string
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// reused so incremental sync survives restarts. If the mapping changes in
// code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		idx, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("%w: open bleve index: %v", models.ErrIndexIO, openErr)
		}
		return &BleveIndex{index: idx, path: path}, nil
	}

	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming) so exact words
	// match regardless of case.
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textField)
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("tags_text", textField)

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	docMapping.AddFieldMappingsAt("tags", keywordField)
	docMapping.AddFieldMappingsAt("content_type", keywordField)
	docMapping.AddFieldMappingsAt("provider_id", keywordField)
	docMapping.AddFieldMappingsAt("source", keywordField)
	docMapping.AddFieldMappingsAt("category", keywordField)

	im.DefaultMapping = docMapping

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("%w: create bleve index: %v", models.ErrIndexIO, err)
	}
	return &BleveIndex{index: idx, path: path}, nil
}

// Upsert indexes the document, replacing any previous version of the same ID.
func (b *BleveIndex) Upsert(ctx context.Context, doc *models.IndexedDocument) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	var tagsText string
	for i, tag := range doc.Tags {
		if i > 0 {
			tagsText += " "
		}
		tagsText += tag
	}
	entry := &bleveDoc{
		Title:       doc.Title,
		Content:     doc.Content,
		TagsText:    tagsText,
		Tags:        doc.Tags,
		ContentType: doc.ContentType,
		ProviderID:  doc.ProviderID,
		Source:      string(doc.Source),
		Category:    doc.Category,
	}
	if err := b.index.Index(doc.ID, entry); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", models.ErrIndexIO, doc.ID, err)
	}
	return nil
}

// Remove deletes a document from the index. Absent IDs are a no-op.
func (b *BleveIndex) Remove(ctx context.Context, id string) error {
	if err := b.index.Delete(id); err != nil {
		return fmt.Errorf("%w: remove %s: %v", models.ErrIndexIO, id, err)
	}
	return nil
}

// Query executes the plan. Per-term queries run over title, content, and
// tokenized tags with field boosts; filter dimensions become term queries on
// keyword fields, conjunctive with the text match.
func (b *BleveIndex) Query(ctx context.Context, plan *QueryPlan) ([]Hit, error) {
	if len(plan.Terms) == 0 {
		return nil, nil
	}

	textQuery := b.buildTextQuery(plan)
	full := b.applyFilters(textQuery, &plan.Filters)

	req := bleve.NewSearchRequest(full)
	req.Size = plan.Limit
	if req.Size <= 0 {
		req.Size = 100
	}
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.ErrQueryTimeout
		}
		return nil, fmt.Errorf("%w: search: %v", models.ErrIndexIO, err)
	}
	hits := make([]Hit, len(res.Hits))
	for i, h := range res.Hits {
		hits[i] = Hit{ID: h.ID, Score: h.Score}
	}
	return hits, nil
}

func (b *BleveIndex) buildTextQuery(plan *QueryPlan) blevequery.Query {
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

	perTerm := make([]blevequery.Query, 0, len(plan.Terms))
	for _, term := range plan.Terms {
		fuzzy := plan.Fuzzy && len([]rune(term)) >= MinFuzzyTermLength
		fields := []blevequery.Query{
			matchField(term, "title", titleBoost, fuzzy, plan.FuzzyDistance),
			matchField(term, "content", contentBoost, fuzzy, plan.FuzzyDistance),
			matchField(term, "tags_text", tagsBoost, fuzzy, plan.FuzzyDistance),
		}
		perTerm = append(perTerm, bleve.NewDisjunctionQuery(fields...))
	}
	if len(perTerm) == 1 {
		return perTerm[0]
	}
	if plan.Combine == models.CombineAnd {
		return bleve.NewConjunctionQuery(perTerm...)
	}
	return bleve.NewDisjunctionQuery(perTerm...)
}

func matchField(term, field string, boost float64, fuzzy bool, distance int) blevequery.Query {
	mq := bleve.NewMatchQuery(term)
	mq.SetField(field)
	mq.SetBoost(boost)
	if fuzzy {
		if distance <= 0 {
			distance = 2
		}
		mq.SetFuzziness(distance)
	}
	return mq
}

func (b *BleveIndex) applyFilters(textQuery blevequery.Query, f *Filters) blevequery.Query {
	if f.Empty() {
		return textQuery
	}
	parts := []blevequery.Query{textQuery}
	for _, dim := range []struct {
		field  string
		values []string
	}{
		{"content_type", f.ContentTypes},
		{"provider_id", f.ProviderIDs},
		{"source", f.Sources},
		{"category", f.Categories},
		{"tags", f.Tags},
	} {
		if len(dim.values) == 0 {
			continue
		}
		alts := make([]blevequery.Query, 0, len(dim.values))
		for _, v := range dim.values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(dim.field)
			alts = append(alts, tq)
		}
		parts = append(parts, bleve.NewDisjunctionQuery(alts...))
	}
	return bleve.NewConjunctionQuery(parts...)
}

// Clear removes every document. Bleve has no truncate, so IDs are enumerated
// with a match-all query and deleted in one batch.
func (b *BleveIndex) Clear(ctx context.Context) error {
	count, err := b.index.DocCount()
	if err != nil {
		return fmt.Errorf("%w: doc count: %v", models.ErrIndexIO, err)
	}
	if count == 0 {
		return nil
	}
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: enumerate documents: %v", models.ErrIndexIO, err)
	}
	batch := b.index.NewBatch()
	for _, h := range res.Hits {
		batch.Delete(h.ID)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("%w: clear: %v", models.ErrIndexIO, err)
	}
	return nil
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns the distinct terms of the title and content field
// dictionaries, deduplicated.
func (b *BleveIndex) Terms() ([]string, error) {
	seen := make(map[string]struct{})
	var terms []string
	for _, field := range []string{"title", "content"} {
		dict, err := b.index.FieldDict(field)
		if err != nil {
			continue
		}
		for {
			entry, err := dict.Next()
			if err != nil || entry == nil {
				break
			}
			if _, ok := seen[entry.Term]; !ok {
				seen[entry.Term] = struct{}{}
				terms = append(terms, entry.Term)
			}
		}
		_ = dict.Close()
	}
	return terms, nil
}

// Close closes the underlying Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
