package models

// SearchResult is a single search hit.
type SearchResult struct {
	Document   *IndexedDocument `json:"document"`
	Score      float64          `json:"score"`
	Rank       int              `json:"rank"`
	Highlights []string         `json:"highlights,omitempty"`
}

// SearchResponse is the response for a search request. Total counts all
// matches before pagination; QueryTime is wall-clock milliseconds.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	Query     string          `json:"query"`
	QueryTime int64           `json:"query_time_ms"`
	// TimedOut is set when the search hit its time budget and results are
	// partial or empty rather than complete.
	TimedOut bool `json:"timed_out,omitempty"`
}
