package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/normalize"
	"github.com/hyperjump/kensaku/internal/storage"
)

// AuthCallback is invoked when a source hits an authentication error. The
// credential-refresh flow lives outside this package; the coordinator only
// signals and disables the source.
type AuthCallback func(providerID string, kind models.SourceKind)

// sourceState is the per (provider, source) state machine. Transitions:
// idle -> syncing -> idle on success; syncing -> error -> idle when a retry
// is due; syncing -> disabled after the failure threshold or an auth error.
type sourceState struct {
	source      Source
	status      models.SyncStatus
	pending     bool
	errorCount  int
	lastError   string
	nextRetryAt time.Time
	cursor      models.SyncCursor
}

// Coordinator schedules sync cycles across registered sources. At most one
// cycle is in flight per source; triggers arriving mid-cycle coalesce into a
// single follow-up cycle. It is the only writer into the index write path.
type Coordinator struct {
	indexer *indexer.Indexer
	store   storage.Store
	cfg     *config.SyncConfig
	logger  *zap.Logger
	onAuth  AuthCallback

	mu      sync.Mutex
	sources map[string]*sourceState
	runCtx  context.Context
	started bool

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAuthCallback sets the handler signalled when a source needs re-auth.
func WithAuthCallback(cb AuthCallback) CoordinatorOption {
	return func(c *Coordinator) { c.onAuth = cb }
}

// NewCoordinator creates a coordinator writing through ix and persisting
// cursors in store.
func NewCoordinator(ix *indexer.Indexer, store storage.Store, cfg *config.SyncConfig, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		indexer: ix,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		sources: make(map[string]*sourceState),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sourceKey(providerID string, kind models.SourceKind) string {
	return providerID + "/" + string(kind)
}

// Register adds a source and loads its persisted cursor, if any. A cursor row
// is created on the first sync attempt and kept for the life of the source.
func (c *Coordinator) Register(ctx context.Context, src Source) error {
	key := sourceKey(src.ProviderID(), src.Kind())
	st := &sourceState{
		source: src,
		status: models.SyncStatusIdle,
		cursor: models.SyncCursor{ProviderID: src.ProviderID(), SourceKind: src.Kind()},
	}
	cursor, err := c.store.GetCursor(ctx, src.ProviderID(), src.Kind())
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("load cursor for %s: %w", key, err)
	}
	if cursor != nil {
		st.cursor = *cursor
		st.errorCount = cursor.ErrorCount
		st.lastError = cursor.LastError
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sources[key]; exists {
		return fmt.Errorf("source %s already registered", key)
	}
	c.sources[key] = st
	c.logger.Info("sync source registered",
		zap.String("provider_id", src.ProviderID()),
		zap.String("source_kind", string(src.Kind())),
		zap.String("cursor", st.cursor.Position))
	return nil
}

// Start begins the scheduling loop. Cycles launched by ticks, force-sync, and
// push notifications all run under ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.runCtx = ctx
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		interval := time.Duration(c.cfg.IntervalSeconds) * time.Second
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		c.triggerEligible()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.triggerEligible()
			}
		}
	}()
}

// Stop halts scheduling and waits for in-flight cycles to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// triggerEligible launches a cycle for every source that is idle (or past its
// retry time) and not disabled.
func (c *Coordinator) triggerEligible() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, st := range c.sources {
		if st.status == models.SyncStatusSyncing || st.status == models.SyncStatusDisabled {
			continue
		}
		if now.Before(st.nextRetryAt) {
			continue
		}
		c.launchLocked(key, st)
	}
}

// launchLocked transitions the state to syncing and starts the cycle
// goroutine. Caller holds c.mu.
func (c *Coordinator) launchLocked(key string, st *sourceState) {
	st.status = models.SyncStatusSyncing
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runCycle(ctx, key, st)
	}()
}

// ForceSync triggers an immediate cycle. If one is already in flight the
// request coalesces into a follow-up cycle and ErrSyncInProgress is returned
// so the caller knows it was queued, not started. Disabled sources reject the
// trigger until Reset.
func (c *Coordinator) ForceSync(providerID string, kind models.SourceKind) error {
	key := sourceKey(providerID, kind)
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sources[key]
	if !ok {
		return fmt.Errorf("source %s: %w", key, models.ErrNotFound)
	}
	switch st.status {
	case models.SyncStatusDisabled:
		return fmt.Errorf("source %s: %w", key, models.ErrSyncDisabled)
	case models.SyncStatusSyncing:
		st.pending = true
		return models.ErrSyncInProgress
	default:
		st.nextRetryAt = time.Time{}
		c.launchLocked(key, st)
		return nil
	}
}

// NotifyChange is the push fast path from a source. Unknown or busy sources
// are handled the same way as ForceSync; errors are only logged since the
// notifier does not care.
func (c *Coordinator) NotifyChange(providerID string, kind models.SourceKind) {
	if err := c.ForceSync(providerID, kind); err != nil && !errors.Is(err, models.ErrSyncInProgress) {
		c.logger.Debug("change notification dropped",
			zap.String("provider_id", providerID),
			zap.String("source_kind", string(kind)),
			zap.Error(err))
	}
}

// Reset clears the failure state and cursor position of a source after an
// explicit re-auth or manual recovery, returning it to idle for a full
// re-fetch on the next cycle.
func (c *Coordinator) Reset(ctx context.Context, providerID string, kind models.SourceKind) error {
	key := sourceKey(providerID, kind)
	c.mu.Lock()
	st, ok := c.sources[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("source %s: %w", key, models.ErrNotFound)
	}
	if st.status == models.SyncStatusSyncing {
		c.mu.Unlock()
		return models.ErrSyncInProgress
	}
	st.status = models.SyncStatusIdle
	st.errorCount = 0
	st.lastError = ""
	st.nextRetryAt = time.Time{}
	st.pending = false
	st.cursor.Position = ""
	st.cursor.LastError = ""
	st.cursor.ErrorCount = 0
	cursor := st.cursor
	c.mu.Unlock()

	if err := c.store.SaveCursor(ctx, &cursor); err != nil {
		return fmt.Errorf("persist reset cursor for %s: %w", key, err)
	}
	c.logger.Info("sync source reset", zap.String("provider_id", providerID), zap.String("source_kind", string(kind)))
	return nil
}

// Statuses returns the state of every registered source, ordered by key.
func (c *Coordinator) Statuses() []models.SourceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.sources))
	for k := range c.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.SourceStatus, 0, len(keys))
	for _, k := range keys {
		st := c.sources[k]
		out = append(out, models.SourceStatus{
			ProviderID: st.cursor.ProviderID,
			SourceKind: st.cursor.SourceKind,
			Status:     st.status,
			LastSyncAt: st.cursor.LastSyncAt,
			LastError:  st.lastError,
			ErrorCount: st.errorCount,
			Pending:    st.pending,
		})
	}
	return out
}

// runCycle executes one fetch-and-index cycle. The cursor advances only after
// every change in the window is durably applied, so a crash mid-cycle means
// the next cycle re-fetches the same window and idempotently re-applies it.
func (c *Coordinator) runCycle(ctx context.Context, key string, st *sourceState) {
	cycleID := uuid.New().String()[:8]
	src := st.source
	log := c.logger.With(
		zap.String("cycle_id", cycleID),
		zap.String("provider_id", src.ProviderID()),
		zap.String("source_kind", string(src.Kind())))
	log.Debug("sync cycle starting", zap.String("cursor", c.cursorPosition(st)))

	var applied, skipped int
	for {
		res, err := src.FetchChanges(ctx, c.cursorPosition(st))
		if err != nil {
			c.failCycle(ctx, key, st, log, fmt.Errorf("fetch: %w", err))
			return
		}

		for _, change := range res.Changes {
			switch change.Type {
			case models.ChangeUpsert:
				doc, nerr := normalize.Normalize(change.Record, src.Kind(), src.ProviderID())
				if nerr != nil {
					// One bad record never aborts the cycle.
					skipped++
					log.Warn("skipping record that failed normalization", zap.Error(nerr))
					continue
				}
				if err := c.indexer.IndexDocument(ctx, doc); err != nil {
					if errors.Is(err, models.ErrIndexIO) {
						c.failCycle(ctx, key, st, log, err)
						return
					}
					skipped++
					log.Warn("skipping record that failed indexing", zap.String("doc_id", doc.ID), zap.Error(err))
				} else {
					applied++
				}
			case models.ChangeDelete:
				id := normalize.DocumentID(src.Kind(), src.ProviderID(), change.DeletedID)
				if err := c.indexer.DeleteDocument(ctx, id); err != nil {
					if errors.Is(err, models.ErrIndexIO) {
						c.failCycle(ctx, key, st, log, err)
						return
					}
					skipped++
					log.Warn("skipping failed deletion", zap.String("doc_id", id), zap.Error(err))
				} else {
					applied++
				}
			}
		}

		// Changes in this window are durable; now the cursor may move.
		c.mu.Lock()
		st.cursor.Position = res.NextCursor
		st.cursor.LastSyncAt = time.Now()
		st.cursor.LastError = ""
		st.cursor.ErrorCount = 0
		cursor := st.cursor
		c.mu.Unlock()
		if err := c.store.SaveCursor(ctx, &cursor); err != nil {
			c.failCycle(ctx, key, st, log, fmt.Errorf("persist cursor: %w", err))
			return
		}

		if !res.HasMore {
			break
		}
	}

	c.mu.Lock()
	st.status = models.SyncStatusIdle
	st.errorCount = 0
	st.lastError = ""
	st.nextRetryAt = time.Time{}
	rerun := st.pending
	st.pending = false
	if rerun {
		c.launchLocked(key, st)
	}
	c.mu.Unlock()
	log.Info("sync cycle complete",
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
		zap.Bool("follow_up_queued", rerun))
}

func (c *Coordinator) cursorPosition(st *sourceState) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return st.cursor.Position
}

// failCycle records a cycle failure without advancing the cursor. Auth errors
// disable the source immediately and signal re-auth; everything else backs
// off exponentially and disables after the consecutive-failure threshold.
func (c *Coordinator) failCycle(ctx context.Context, key string, st *sourceState, log *zap.Logger, cause error) {
	authFailed := errors.Is(cause, models.ErrAuthRequired)

	c.mu.Lock()
	st.errorCount++
	st.lastError = cause.Error()
	rerun := st.pending
	st.pending = false
	st.cursor.LastError = cause.Error()
	st.cursor.ErrorCount = st.errorCount
	switch {
	case authFailed:
		st.status = models.SyncStatusDisabled
		rerun = false
	case st.errorCount >= c.cfg.MaxConsecutiveFailures:
		st.status = models.SyncStatusDisabled
		rerun = false
	default:
		st.status = models.SyncStatusError
		st.nextRetryAt = time.Now().Add(c.backoff(st.errorCount))
	}
	status := st.status
	if rerun {
		// A force-sync queued behind this cycle still runs instead of
		// waiting out the backoff.
		st.nextRetryAt = time.Time{}
		c.launchLocked(key, st)
	}
	cursor := st.cursor
	provider, kind := st.cursor.ProviderID, st.cursor.SourceKind
	c.mu.Unlock()

	if err := c.store.SaveCursor(ctx, &cursor); err != nil {
		log.Error("failed to persist cursor error state", zap.Error(err))
	}
	if status == models.SyncStatusDisabled {
		log.Error("sync source disabled", zap.Error(cause), zap.Bool("auth_required", authFailed))
		if authFailed && c.onAuth != nil {
			c.onAuth(provider, kind)
		}
		return
	}
	log.Warn("sync cycle failed, will retry",
		zap.Error(cause),
		zap.Int("error_count", cursor.ErrorCount),
		zap.Duration("backoff", c.backoff(cursor.ErrorCount)))
}

// backoff returns base * 2^errorCount, capped.
func (c *Coordinator) backoff(errorCount int) time.Duration {
	base := time.Duration(c.cfg.BackoffBaseSeconds) * time.Second
	ceiling := time.Duration(c.cfg.BackoffCapSeconds) * time.Second
	d := base
	for i := 0; i < errorCount; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
