package models

import "time"

// Sort fields for search results.
type SortField string

const (
	SortRelevance  SortField = "relevance"
	SortDate       SortField = "date"
	SortTitle      SortField = "title"
	SortImportance SortField = "importance"
)

// SortOrder is the direction results are sorted in.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Combine controls how multiple query terms are combined.
type Combine string

const (
	CombineAnd Combine = "AND"
	CombineOr  Combine = "OR"
)

// BoostOptions are per-field score multipliers. Zero values fall back to the
// configured defaults (title weighted at least 2x content).
type BoostOptions struct {
	Title   float64 `json:"title,omitempty"`
	Content float64 `json:"content,omitempty"`
	Tags    float64 `json:"tags,omitempty"`
	// Recent applies a monotonically decaying bonus for newer UpdatedAt.
	Recent bool `json:"recent,omitempty"`
}

// SearchOptions are the recognized search parameters. Unset fields take
// defaults; out-of-range values are substituted rather than rejected so a
// malformed request degrades instead of failing the caller.
type SearchOptions struct {
	Limit        int           `json:"limit,omitempty"`
	Offset       int           `json:"offset,omitempty"`
	ContentTypes []string      `json:"content_types,omitempty"`
	ProviderIDs  []string      `json:"provider_ids,omitempty"`
	Sources      []string      `json:"sources,omitempty"`
	Categories   []string      `json:"categories,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	Fuzzy        *bool         `json:"fuzzy,omitempty"`        // default true
	Highlighting *bool         `json:"highlighting,omitempty"` // default true
	SortBy       SortField     `json:"sort_by,omitempty"`
	SortOrder    SortOrder     `json:"sort_order,omitempty"`
	Boost        *BoostOptions `json:"boost,omitempty"`
	CombineWith  Combine       `json:"combine_with,omitempty"`
	TimeoutMs    int           `json:"timeout_ms,omitempty"`
}

// FuzzyEnabled reports whether fuzzy matching is on (default true).
func (o *SearchOptions) FuzzyEnabled() bool {
	return o.Fuzzy == nil || *o.Fuzzy
}

// HighlightingEnabled reports whether highlight fragments are requested (default true).
func (o *SearchOptions) HighlightingEnabled() bool {
	return o.Highlighting == nil || *o.Highlighting
}

// Timeout returns the search time budget.
func (o *SearchOptions) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// Normalize substitutes defaults for unset or out-of-range fields. It never
// fails; unrecognized values are replaced so the query still runs.
func (o *SearchOptions) Normalize(defaultLimit, maxLimit, defaultTimeoutMs, maxTimeoutMs int) {
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.Limit > maxLimit {
		o.Limit = maxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	switch o.SortBy {
	case SortRelevance, SortDate, SortTitle, SortImportance:
	default:
		o.SortBy = SortRelevance
	}
	switch o.SortOrder {
	case SortAsc, SortDesc:
	default:
		o.SortOrder = SortDesc
	}
	switch o.CombineWith {
	case CombineAnd, CombineOr:
	default:
		o.CombineWith = CombineOr
	}
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = defaultTimeoutMs
	}
	if o.TimeoutMs > maxTimeoutMs {
		o.TimeoutMs = maxTimeoutMs
	}
}
