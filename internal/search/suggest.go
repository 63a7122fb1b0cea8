package search

import (
	"context"
	"sort"
	"strings"

	"github.com/hyperjump/kensaku/internal/index"
)

// defaultSuggestLimit bounds suggestions when the caller passes no limit.
const defaultSuggestLimit = 10

// Suggest returns term completions for a partial query, drawn from the index
// term dictionary. Prefix matches rank first, then fuzzy matches by edit
// distance. Independent of the scoring pipeline.
func (e *Engine) Suggest(ctx context.Context, partial string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	partial = strings.ToLower(strings.TrimSpace(partial))
	if partial == "" {
		return nil, nil
	}

	terms, err := e.index.Terms()
	if err != nil {
		return nil, err
	}

	type candidate struct {
		term     string
		prefix   bool
		distance int
	}
	var candidates []candidate
	fuzzyOK := len([]rune(partial)) >= index.MinFuzzyTermLength
	for _, term := range terms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if term == partial {
			continue
		}
		if strings.HasPrefix(term, partial) {
			candidates = append(candidates, candidate{term: term, prefix: true})
			continue
		}
		if fuzzyOK && index.WithinDistance(partial, term, e.cfg.FuzzyDistance) {
			candidates = append(candidates, candidate{term: term, distance: index.LevenshteinDistance(partial, term)})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.prefix != b.prefix {
			return a.prefix
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.term < b.term
	})

	out := make([]string, 0, limit)
	for _, c := range candidates {
		if len(out) == limit {
			break
		}
		out = append(out, c.term)
	}
	return out, nil
}
