// Package syncer drives incremental fetch-and-index cycles per (provider,
// source) pair, owning sync cursors, retry backoff, and failure state.
package syncer

import (
	"context"

	"github.com/hyperjump/kensaku/internal/models"
)

// Source is the pull interface an upstream producer (mail client, calendar
// client, file watcher, plugin) implements. Cursor position strings are
// opaque to the coordinator; only the issuing source interprets them.
//
// FetchChanges errors classify the failure: wrap models.ErrAuthRequired for
// credential problems (the source is disabled and re-auth signalled) and
// models.ErrSourceUnavailable for transient conditions (retried with
// backoff). Unclassified errors are treated as transient.
type Source interface {
	ProviderID() string
	Kind() models.SourceKind
	FetchChanges(ctx context.Context, cursor string) (*models.FetchResult, error)
}
