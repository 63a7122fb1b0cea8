package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across layers. Wrap with fmt.Errorf("...: %w", err)
// and test with errors.Is.
var (
	// ErrNotFound indicates the requested document or cursor does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDocument indicates a document failed validation before indexing.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrIndexIO indicates an index storage failure. Writes that fail with this
	// error must be retried; the sync cursor is not advanced past them.
	ErrIndexIO = errors.New("index storage failure")

	// ErrQueryTimeout indicates a search exceeded its time budget. Callers
	// receive partial or empty results, never a hang.
	ErrQueryTimeout = errors.New("query timeout")

	// ErrAuthRequired indicates a source rejected our credentials. The source
	// is disabled rather than retried; re-auth is handled externally.
	ErrAuthRequired = errors.New("authentication required")

	// ErrSourceUnavailable indicates a transient source fetch failure
	// (network timeout, rate limit). Retried with backoff.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSyncInProgress indicates a sync cycle is already running for the
	// source. The trigger is coalesced into a follow-up cycle.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncDisabled indicates the source exceeded its failure threshold or
	// hit an auth error and will not sync until explicitly reset.
	ErrSyncDisabled = errors.New("sync disabled")

	// ErrUnsupported indicates an operation that is not implemented. Loud by
	// design: an empty result is indistinguishable from "no results found".
	ErrUnsupported = errors.New("operation not supported")
)

// NormalizationError reports a source record that cannot be converted into an
// IndexedDocument. Callers skip the record and log; it is never indexed.
type NormalizationError struct {
	Kind   SourceKind
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize %s record: field %q: %s", e.Kind, e.Field, e.Reason)
}

// IsNormalizationError reports whether err is (or wraps) a NormalizationError.
func IsNormalizationError(err error) bool {
	var ne *NormalizationError
	return errors.As(err, &ne)
}
