// Package cli provides CLI output utilities for Kensaku.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kensaku/internal/analytics"
	"github.com/hyperjump/kensaku/internal/models"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n", response.Total, response.QueryTime)
	if response.TimedOut {
		fmt.Fprintln(w, "(search timed out; results may be partial)")
	}
	fmt.Fprintln(w)
	for _, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", result.Rank, result.Score)
		fmt.Fprintf(w, "ID: %s\n", result.Document.ID)
		if result.Document.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", result.Document.Title)
		}
		fmt.Fprintf(w, "Source: %s", result.Document.Source)
		if result.Document.ProviderID != "" {
			fmt.Fprintf(w, " (%s)", result.Document.ProviderID)
		}
		fmt.Fprintln(w)
		if len(result.Highlights) > 0 {
			for _, h := range result.Highlights {
				fmt.Fprintf(w, "  %s\n", h)
			}
		} else if result.Document.Content != "" {
			fmt.Fprintf(w, "\n%s\n", Truncate(result.Document.Content, 200))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// WriteSyncStatuses writes per-source sync state to w in the given format.
func WriteSyncStatuses(w io.Writer, statuses []models.SourceStatus, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, statuses)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(w, "no sources registered")
		return nil
	}
	for _, st := range statuses {
		fmt.Fprintf(w, "%s/%s: %s", st.ProviderID, st.SourceKind, st.Status)
		if st.Pending {
			fmt.Fprint(w, " (sync pending)")
		}
		fmt.Fprintln(w)
		if !st.LastSyncAt.IsZero() {
			fmt.Fprintf(w, "  last sync: %s\n", st.LastSyncAt.Format("2006-01-02 15:04:05"))
		}
		if st.LastError != "" {
			fmt.Fprintf(w, "  last error (%d consecutive): %s\n", st.ErrorCount, st.LastError)
		}
	}
	return nil
}

// WriteAnalytics writes a query analytics snapshot to w in the given format.
func WriteAnalytics(w io.Writer, snap *analytics.Snapshot, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, snap)
	}
	fmt.Fprintf(w, "total queries:        %d\n", snap.TotalQueries)
	fmt.Fprintf(w, "avg result count:     %.2f\n", snap.AverageResultCount)
	fmt.Fprintf(w, "avg search time (ms): %.2f\n", snap.AverageSearchTime)
	if len(snap.PopularQueries) > 0 {
		fmt.Fprintln(w, "popular queries:")
		for _, pq := range snap.PopularQueries {
			fmt.Fprintf(w, "  %4d  %s\n", pq.Count, pq.Query)
		}
	}
	if len(snap.NoResultsQueries) > 0 {
		fmt.Fprintln(w, "recent queries with no results:")
		for _, q := range snap.NoResultsQueries {
			fmt.Fprintf(w, "  %s\n", q)
		}
	}
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
