// Package search provides the query planner and ranker over the index store.
package search

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/analytics"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/index"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/pkg/utils"
)

// Engine plans, executes, and ranks searches. It is read-only with respect to
// the index and runs concurrently with any number of in-flight writes.
type Engine struct {
	index    index.SearchIndex
	store    storage.Store
	recorder *analytics.Recorder
	cfg      *config.SearchConfig
	logger   *zap.Logger
}

// NewEngine creates a search engine with the given dependencies. recorder may
// be nil to disable analytics.
func NewEngine(idx index.SearchIndex, store storage.Store, recorder *analytics.Recorder, cfg *config.SearchConfig, logger *zap.Logger) *Engine {
	return &Engine{index: idx, store: store, recorder: recorder, cfg: cfg, logger: logger}
}

// Search runs a query with the given options. It always returns within the
// timeout budget: on expiry callers get whatever was ranked so far (or an
// empty result) with TimedOut set, never an error and never a hang. Malformed
// input degrades to an empty response with a logged warning.
func (e *Engine) Search(ctx context.Context, query string, opts *models.SearchOptions) (*models.SearchResponse, error) {
	start := time.Now()
	if opts == nil {
		opts = &models.SearchOptions{}
	}
	opts.Normalize(e.cfg.DefaultLimit, e.cfg.MaxLimit, e.cfg.DefaultTimeoutMs, e.cfg.MaxTimeoutMs)

	resp := &models.SearchResponse{Results: []*models.SearchResult{}, Query: query}
	terms := utils.Tokenize(query)
	if len(terms) == 0 {
		e.logger.Warn("search query has no indexable terms", zap.String("query", query))
		e.finish(resp, query, start)
		return resp, nil
	}

	plan := e.buildPlan(terms, opts)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout())
	defer cancel()

	type outcome struct {
		results []*models.SearchResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		ranked, err := e.executePlan(ctx, plan, opts)
		done <- outcome{results: ranked, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, models.ErrQueryTimeout) {
				resp.TimedOut = true
				e.logger.Warn("search timed out", zap.String("query", query), zap.Int("timeout_ms", opts.TimeoutMs))
			} else {
				e.logger.Error("search failed, returning empty results", zap.String("query", query), zap.Error(out.err))
			}
			e.finish(resp, query, start)
			return resp, nil
		}
		resp.Total = len(out.results)
		resp.Results = paginate(out.results, opts.Offset, opts.Limit)
	case <-ctx.Done():
		// The scan keeps running until its next context check, but the
		// caller gets its answer inside the budget.
		resp.TimedOut = true
		e.logger.Warn("search abandoned at timeout", zap.String("query", query), zap.Int("timeout_ms", opts.TimeoutMs))
	}
	e.finish(resp, query, start)
	return resp, nil
}

func (e *Engine) finish(resp *models.SearchResponse, query string, start time.Time) {
	resp.QueryTime = time.Since(start).Milliseconds()
	if e.recorder != nil {
		e.recorder.Record(query, resp.Total, time.Since(start))
	}
}

func (e *Engine) buildPlan(terms []string, opts *models.SearchOptions) *index.QueryPlan {
	titleBoost := e.cfg.TitleBoost
	contentBoost := e.cfg.ContentBoost
	tagsBoost := e.cfg.TagsBoost
	if opts.Boost != nil {
		if opts.Boost.Title > 0 {
			titleBoost = opts.Boost.Title
		}
		if opts.Boost.Content > 0 {
			contentBoost = opts.Boost.Content
		}
		if opts.Boost.Tags > 0 {
			tagsBoost = opts.Boost.Tags
		}
	}
	return &index.QueryPlan{
		Terms:         terms,
		Combine:       opts.CombineWith,
		Fuzzy:         opts.FuzzyEnabled(),
		FuzzyDistance: e.cfg.FuzzyDistance,
		TitleBoost:    titleBoost,
		ContentBoost:  contentBoost,
		TagsBoost:     tagsBoost,
		Filters: index.Filters{
			ContentTypes: opts.ContentTypes,
			ProviderIDs:  opts.ProviderIDs,
			Sources:      opts.Sources,
			Categories:   opts.Categories,
			Tags:         opts.Tags,
		},
		Limit: e.cfg.TopKCandidates,
	}
}

// executePlan queries the index, hydrates candidate documents from the store,
// applies importance and recency bias, and sorts. The result is the full
// ranked candidate list; pagination happens after.
func (e *Engine) executePlan(ctx context.Context, plan *index.QueryPlan, opts *models.SearchOptions) ([]*models.SearchResult, error) {
	hits, err := e.index.Query(ctx, plan)
	if err != nil {
		return nil, err
	}

	results := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		if err := ctx.Err(); err != nil {
			return nil, models.ErrQueryTimeout
		}
		doc, err := e.store.GetDocument(ctx, hit.ID)
		if err != nil {
			// Index and store can briefly disagree around a concurrent
			// delete; skip rather than fail the whole query.
			if !errors.Is(err, models.ErrNotFound) {
				e.logger.Warn("hydrate failed", zap.String("doc_id", hit.ID), zap.Error(err))
			}
			continue
		}
		score := hit.Score * importanceMultiplier(doc.Importance)
		if opts.Boost != nil && opts.Boost.Recent {
			score *= e.recencyMultiplier(doc.UpdatedAt)
		}
		result := &models.SearchResult{Document: doc, Score: score}
		if opts.HighlightingEnabled() {
			result.Highlights = Fragments(doc.Content, plan.Terms, e.cfg.FragmentSize, e.cfg.MaxFragments)
		}
		results = append(results, result)
	}

	e.sortResults(results, opts)
	for i, r := range results {
		r.Rank = i + 1
	}
	return results, nil
}

// importanceMultiplier maps the 0-10 importance hint to 1.0x-1.5x.
func importanceMultiplier(importance int) float64 {
	if importance < 0 {
		importance = 0
	}
	if importance > models.MaxImportance {
		importance = models.MaxImportance
	}
	return 1.0 + float64(importance)*0.05
}

// recencyMultiplier applies a monotonically decaying bonus for newer
// UpdatedAt: full RecencyWeight bonus now, halved every half-life.
func (e *Engine) recencyMultiplier(updatedAt time.Time) float64 {
	ageDays := time.Since(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	halfLife := float64(e.cfg.RecencyHalfLife)
	if halfLife <= 0 {
		halfLife = 30
	}
	return 1.0 + e.cfg.RecencyWeight*math.Pow(0.5, ageDays/halfLife)
}

func (e *Engine) sortResults(results []*models.SearchResult, opts *models.SearchOptions) {
	asc := opts.SortOrder == models.SortAsc
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		var less, equal bool
		switch opts.SortBy {
		case models.SortDate:
			less = a.Document.UpdatedAt.Before(b.Document.UpdatedAt)
			equal = a.Document.UpdatedAt.Equal(b.Document.UpdatedAt)
		case models.SortTitle:
			ta := strings.ToLower(a.Document.Title)
			tb := strings.ToLower(b.Document.Title)
			less = ta < tb
			equal = ta == tb
		case models.SortImportance:
			less = a.Document.Importance < b.Document.Importance
			equal = a.Document.Importance == b.Document.Importance
		default:
			less = a.Score < b.Score
			equal = a.Score == b.Score
		}
		if equal {
			// Ties always break by recency, newest first.
			return a.Document.UpdatedAt.After(b.Document.UpdatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}

// paginate applies offset/limit after scoring and sorting. An offset past the
// total yields an empty list, not an error.
func paginate(results []*models.SearchResult, offset, limit int) []*models.SearchResult {
	if offset >= len(results) {
		return []*models.SearchResult{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

// SearchEmails scopes a search to email documents, optionally to one account.
func (e *Engine) SearchEmails(ctx context.Context, query, accountID string, limit int) (*models.SearchResponse, error) {
	opts := &models.SearchOptions{
		Sources: []string{string(models.SourceEmail)},
		Limit:   limit,
	}
	if accountID != "" {
		opts.ProviderIDs = []string{accountID}
	}
	return e.Search(ctx, query, opts)
}

// SearchCalendarEvents scopes a search to calendar events, optionally to one account.
func (e *Engine) SearchCalendarEvents(ctx context.Context, query, accountID string, limit int) (*models.SearchResponse, error) {
	opts := &models.SearchOptions{
		Sources: []string{string(models.SourceCalendarEvent)},
		Limit:   limit,
	}
	if accountID != "" {
		opts.ProviderIDs = []string{accountID}
	}
	return e.Search(ctx, query, opts)
}

// SearchDocuments scopes a search to file/document sources.
func (e *Engine) SearchDocuments(ctx context.Context, query string, providerIDs []string, limit int) (*models.SearchResponse, error) {
	return e.Search(ctx, query, &models.SearchOptions{
		Sources:     []string{string(models.SourceDocument)},
		ProviderIDs: providerIDs,
		Limit:       limit,
	})
}

// Analytics returns the current analytics snapshot, or an empty snapshot when
// recording is disabled.
func (e *Engine) Analytics() *analytics.Snapshot {
	if e.recorder == nil {
		return &analytics.Snapshot{NoResultsQueries: []string{}, PopularQueries: []analytics.QueryCount{}}
	}
	return e.recorder.Snapshot()
}
