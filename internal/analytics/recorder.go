// Package analytics keeps lightweight in-memory query statistics for
// operational visibility. Bounded memory, never persisted; losing this data
// on restart is acceptable and it never affects search correctness.
package analytics

import (
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the ring buffer size used when none is given.
const DefaultCapacity = 1000

// noResultsWindow is how many recent zero-result queries Snapshot reports.
const noResultsWindow = 20

// popularLimit is how many top queries Snapshot reports.
const popularLimit = 10

// Entry is one recorded query.
type Entry struct {
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	SearchTime  int64     `json:"search_time_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// QueryCount pairs a query with its frequency within the ring window.
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// Snapshot is the read-only analytics view.
type Snapshot struct {
	TotalQueries       int64        `json:"total_queries"`
	PopularQueries     []QueryCount `json:"popular_queries"`
	AverageResultCount float64      `json:"average_result_count"`
	AverageSearchTime  float64      `json:"average_search_time_ms"`
	NoResultsQueries   []string     `json:"no_results_queries"`
}

// Recorder is a fixed-size FIFO ring of query stats. Record is cheap enough
// to sit on the search hot path.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	filled  bool
	total   int64
}

// NewRecorder creates a recorder holding the last capacity entries.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{entries: make([]Entry, capacity)}
}

// Record appends one query observation, evicting the oldest entry when full.
func (r *Recorder) Record(query string, resultCount int, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = Entry{
		Query:       query,
		ResultCount: resultCount,
		SearchTime:  elapsed.Milliseconds(),
		Timestamp:   time.Now(),
	}
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.filled = true
	}
	r.total++
}

// window returns the live entries, oldest first.
func (r *Recorder) window() []Entry {
	if !r.filled {
		return r.entries[:r.next]
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Snapshot computes the analytics view over the current window.
func (r *Recorder) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.window()
	snap := &Snapshot{
		TotalQueries:     r.total,
		NoResultsQueries: []string{},
		PopularQueries:   []QueryCount{},
	}
	if len(entries) == 0 {
		return snap
	}

	var sumResults, sumTime int64
	counts := make(map[string]int)
	for _, e := range entries {
		sumResults += int64(e.ResultCount)
		sumTime += e.SearchTime
		counts[e.Query]++
	}
	snap.AverageResultCount = float64(sumResults) / float64(len(entries))
	snap.AverageSearchTime = float64(sumTime) / float64(len(entries))

	for q, c := range counts {
		snap.PopularQueries = append(snap.PopularQueries, QueryCount{Query: q, Count: c})
	}
	sort.Slice(snap.PopularQueries, func(i, j int) bool {
		if snap.PopularQueries[i].Count != snap.PopularQueries[j].Count {
			return snap.PopularQueries[i].Count > snap.PopularQueries[j].Count
		}
		return snap.PopularQueries[i].Query < snap.PopularQueries[j].Query
	})
	if len(snap.PopularQueries) > popularLimit {
		snap.PopularQueries = snap.PopularQueries[:popularLimit]
	}

	// Newest first, bounded.
	for i := len(entries) - 1; i >= 0 && len(snap.NoResultsQueries) < noResultsWindow; i-- {
		if entries[i].ResultCount == 0 {
			snap.NoResultsQueries = append(snap.NoResultsQueries, entries[i].Query)
		}
	}
	return snap
}
