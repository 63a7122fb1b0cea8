// Package models defines core data structures for documents, queries, search
// results, and sync state.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies the producer category a document came from.
type SourceKind string

const (
	SourceEmail         SourceKind = "email"
	SourceCalendarEvent SourceKind = "calendar_event"
	SourceDocument      SourceKind = "document"
	SourceContact       SourceKind = "contact"
)

// PluginSource returns the SourceKind for a plugin-provided content source.
func PluginSource(pluginID string) SourceKind {
	return SourceKind("plugin:" + pluginID)
}

// IsPlugin reports whether the kind is a plugin source.
func (k SourceKind) IsPlugin() bool {
	return strings.HasPrefix(string(k), "plugin:")
}

// MaxImportance is the upper bound of the importance scoring hint.
const MaxImportance = 10

// IndexedDocument is the unit of indexing. IDs are unique within the index;
// re-indexing the same ID fully replaces the prior document.
type IndexedDocument struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Content     string                 `json:"content"`
	Source      SourceKind             `json:"source"`
	ProviderID  string                 `json:"provider_id"`
	ContentType string                 `json:"content_type"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Category    string                 `json:"category,omitempty"`
	Importance  int                    `json:"importance,omitempty"`
	Author      string                 `json:"author,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Validate checks required fields and clamps scoring hints into range.
// A document must have an ID and at least one of title or content.
func (d *IndexedDocument) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required: %w", ErrInvalidDocument)
	}
	if strings.TrimSpace(d.Title) == "" && strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("document %s has neither title nor content: %w", d.ID, ErrInvalidDocument)
	}
	if d.Importance < 0 {
		d.Importance = 0
	}
	if d.Importance > MaxImportance {
		d.Importance = MaxImportance
	}
	return nil
}

// Clone returns a deep copy so callers can hold a document across concurrent
// upserts without observing mutation.
func (d *IndexedDocument) Clone() *IndexedDocument {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.Tags != nil {
		c.Tags = append([]string(nil), d.Tags...)
	}
	return &c
}
