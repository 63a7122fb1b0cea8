// Package normalize converts loosely typed source records into the strict
// IndexedDocument schema. This is the only boundary where untyped data is
// handled; everything downstream operates on the typed document.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/kensaku/internal/models"
)

// DocumentID derives the stable index ID for a source record. The same
// (kind, provider, original) triple always yields the same ID, which is what
// makes re-delivery after a crash idempotent.
func DocumentID(kind models.SourceKind, providerID, originalID string) string {
	return fmt.Sprintf("%s:%s:%s", kind, providerID, originalID)
}

// Normalize converts a raw source record into an IndexedDocument. Pure
// function, no I/O. Records missing an ID, or with neither title nor content
// after per-kind assembly, fail with a NormalizationError; the caller skips
// and logs them rather than indexing a partial document.
func Normalize(record models.RawRecord, kind models.SourceKind, providerID string) (*models.IndexedDocument, error) {
	originalID := stringField(record, "id")
	if originalID == "" {
		return nil, &models.NormalizationError{Kind: kind, Field: "id", Reason: "missing or empty"}
	}

	doc := &models.IndexedDocument{
		ID:          DocumentID(kind, providerID, originalID),
		Source:      kind,
		ProviderID:  providerID,
		ContentType: stringField(record, "content_type"),
		Category:    stringField(record, "category"),
		Author:      stringField(record, "author"),
		Tags:        stringSlice(record, "tags"),
		Importance:  intField(record, "importance"),
		Metadata:    map[string]interface{}{"original_id": originalID},
		CreatedAt:   timeField(record, "created_at"),
		UpdatedAt:   timeField(record, "updated_at"),
	}
	if doc.ContentType == "" {
		doc.ContentType = string(kind)
	}

	switch {
	case kind == models.SourceEmail:
		normalizeEmail(record, doc)
	case kind == models.SourceCalendarEvent:
		normalizeCalendarEvent(record, doc)
	case kind == models.SourceContact:
		normalizeContact(record, doc)
	default:
		// Documents, files, and plugin sources share the generic shape.
		normalizeGeneric(record, doc)
	}

	if strings.TrimSpace(doc.Title) == "" && strings.TrimSpace(doc.Content) == "" {
		return nil, &models.NormalizationError{Kind: kind, Field: "title/content", Reason: "record has no indexable text"}
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}
	if doc.Importance < 0 {
		doc.Importance = 0
	}
	if doc.Importance > models.MaxImportance {
		doc.Importance = models.MaxImportance
	}
	return doc, nil
}

// normalizeEmail maps subject to title and folds sender and recipients into
// content so they participate in full-text matching. The structured values
// stay in metadata for filtered queries.
func normalizeEmail(record models.RawRecord, doc *models.IndexedDocument) {
	doc.Title = stringField(record, "subject")
	sender := stringField(record, "from")
	recipients := stringSlice(record, "to")
	cc := stringSlice(record, "cc")

	parts := []string{stringField(record, "body")}
	if sender != "" {
		parts = append(parts, sender)
	}
	parts = append(parts, recipients...)
	parts = append(parts, cc...)
	doc.Content = joinNonEmpty(parts)

	if sender != "" {
		doc.Metadata["sender"] = sender
	}
	if len(recipients) > 0 {
		doc.Metadata["recipients"] = recipients
	}
	if len(cc) > 0 {
		doc.Metadata["cc"] = cc
	}
	if doc.Author == "" {
		doc.Author = sender
	}
}

// normalizeCalendarEvent folds location and attendees into content for
// matching, keeping them structured in metadata.
func normalizeCalendarEvent(record models.RawRecord, doc *models.IndexedDocument) {
	doc.Title = stringField(record, "title")
	location := stringField(record, "location")
	attendees := stringSlice(record, "attendees")

	parts := []string{stringField(record, "description")}
	if location != "" {
		parts = append(parts, location)
	}
	parts = append(parts, attendees...)
	doc.Content = joinNonEmpty(parts)

	if location != "" {
		doc.Metadata["location"] = location
	}
	if len(attendees) > 0 {
		doc.Metadata["attendees"] = attendees
	}
	for _, key := range []string{"start", "end"} {
		if t := timeField(record, key); !t.IsZero() {
			doc.Metadata[key] = t.Format(time.RFC3339)
		}
	}
}

func normalizeContact(record models.RawRecord, doc *models.IndexedDocument) {
	doc.Title = stringField(record, "name")
	emails := stringSlice(record, "emails")
	parts := append([]string{}, emails...)
	for _, key := range []string{"phone", "company", "notes"} {
		if v := stringField(record, key); v != "" {
			parts = append(parts, v)
		}
	}
	doc.Content = joinNonEmpty(parts)
	if len(emails) > 0 {
		doc.Metadata["emails"] = emails
	}
	if company := stringField(record, "company"); company != "" {
		doc.Metadata["company"] = company
	}
}

func normalizeGeneric(record models.RawRecord, doc *models.IndexedDocument) {
	doc.Title = stringField(record, "title")
	if doc.Title == "" {
		doc.Title = stringField(record, "name")
	}
	doc.Content = stringField(record, "content")
	for _, key := range []string{"path", "size", "mtime"} {
		if v, ok := record[key]; ok {
			doc.Metadata[key] = v
		}
	}
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func stringField(record models.RawRecord, key string) string {
	if v, ok := record[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case fmt.Stringer:
			return s.String()
		}
	}
	return ""
}

func stringSlice(record models.RawRecord, key string) []string {
	v, ok := record[key]
	if !ok {
		return nil
	}
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vals == "" {
			return nil
		}
		return []string{vals}
	}
	return nil
}

func intField(record models.RawRecord, key string) int {
	switch v := record[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func timeField(record models.RawRecord, key string) time.Time {
	switch v := record[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case int64:
		return time.Unix(v, 0)
	case float64:
		return time.Unix(int64(v), 0)
	}
	return time.Time{}
}
