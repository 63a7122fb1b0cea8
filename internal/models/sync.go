package models

import "time"

// SyncStatus is the externally visible state of a (provider, source) pair.
type SyncStatus string

const (
	SyncStatusIdle     SyncStatus = "idle"
	SyncStatusSyncing  SyncStatus = "syncing"
	SyncStatusError    SyncStatus = "error"
	SyncStatusDisabled SyncStatus = "disabled"
)

// SyncCursor is the per (provider, source) incremental-fetch bookmark.
// Position is opaque to everything except the source that issued it. A cursor
// is created on first sync and only reset on explicit re-auth or removal.
type SyncCursor struct {
	ProviderID string     `json:"provider_id"`
	SourceKind SourceKind `json:"source_kind"`
	Position   string     `json:"position"`
	LastSyncAt time.Time  `json:"last_sync_at"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCount int        `json:"error_count"`
}

// RawRecord is a loosely typed record as produced by an upstream source.
// It crosses the normalization boundary exactly once; no component past the
// normalizer operates on untyped maps.
type RawRecord map[string]interface{}

// ChangeType indicates what happened to a source record.
type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// Change is one record-level change reported by a source.
type Change struct {
	Type ChangeType
	// Record holds the raw record for upserts.
	Record RawRecord
	// DeletedID is the source-native ID of a deleted record.
	DeletedID string
}

// FetchResult is one page of changes from a source.
type FetchResult struct {
	Changes    []Change
	NextCursor string
	HasMore    bool
}

// SourceStatus is the per-source state surfaced to the status API.
type SourceStatus struct {
	ProviderID string     `json:"provider_id"`
	SourceKind SourceKind `json:"source_kind"`
	Status     SyncStatus `json:"status"`
	LastSyncAt time.Time  `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCount int        `json:"error_count"`
	// Pending is set when a trigger arrived during an in-flight cycle and a
	// follow-up cycle is queued.
	Pending bool `json:"pending,omitempty"`
}
