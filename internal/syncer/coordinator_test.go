package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/index"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/normalize"
	"github.com/hyperjump/kensaku/internal/sources/mocksource"
	"github.com/hyperjump/kensaku/internal/storage"
)

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		IntervalSeconds:        300,
		BackoffBaseSeconds:     1,
		BackoffCapSeconds:      8,
		MaxConsecutiveFailures: 8,
		BatchLimit:             256,
	}
}

type coordHarness struct {
	coordinator *Coordinator
	store       storage.Store
	index       *index.MemoryIndex
}

func newCoordHarness(t *testing.T, cfg *config.SyncConfig, opts ...CoordinatorOption) *coordHarness {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	idx := index.NewMemoryIndex()
	ix := indexer.NewIndexer(store, idx)
	if cfg == nil {
		cfg = testSyncConfig()
	}
	c := NewCoordinator(ix, store, cfg, zap.NewNop(), opts...)
	t.Cleanup(c.Stop)
	return &coordHarness{coordinator: c, store: store, index: idx}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *coordHarness) waitIdle(t *testing.T, providerID string, kind models.SourceKind) {
	t.Helper()
	waitFor(t, "source to go idle", func() bool {
		return h.status(providerID, kind).Status == models.SyncStatusIdle
	})
}

func (h *coordHarness) status(providerID string, kind models.SourceKind) models.SourceStatus {
	for _, st := range h.coordinator.Statuses() {
		if st.ProviderID == providerID && st.SourceKind == kind {
			return st
		}
	}
	return models.SourceStatus{}
}

func upsertChange(id, title string) models.Change {
	return models.Change{
		Type:   models.ChangeUpsert,
		Record: models.RawRecord{"id": id, "title": title},
	}
}

func TestForceSyncAppliesBatch(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := mocksource.New("work-mail", models.SourceEmail)
	src.QueueBatch([]models.Change{
		upsertChange("msg-1", "Budget Thread"),
		upsertChange("msg-2", "Standup Notes"),
	}, "cursor-1", false)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("force sync: %v", err)
	}
	h.waitIdle(t, "work-mail", models.SourceEmail)

	n, _ := h.store.CountDocuments(ctx)
	if n != 2 {
		t.Errorf("CountDocuments = %d, want 2", n)
	}
	docID := normalize.DocumentID(models.SourceEmail, "work-mail", "msg-1")
	if _, err := h.store.GetDocument(ctx, docID); err != nil {
		t.Errorf("document not stored: %v", err)
	}

	cursor, err := h.store.GetCursor(ctx, "work-mail", models.SourceEmail)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor.Position != "cursor-1" {
		t.Errorf("cursor = %q, want cursor-1", cursor.Position)
	}
	if cursor.LastSyncAt.IsZero() {
		t.Error("LastSyncAt not set")
	}

	st := h.status("work-mail", models.SourceEmail)
	if st.ErrorCount != 0 || st.LastError != "" {
		t.Errorf("clean cycle left error state: %+v", st)
	}
}

func TestCyclePagesWhileHasMore(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := mocksource.New("drive", models.SourceDocument)
	src.QueueBatch([]models.Change{upsertChange("f1", "page one")}, "c1", true)
	src.QueueBatch([]models.Change{upsertChange("f2", "page two")}, "c2", false)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("drive", models.SourceDocument); err != nil {
		t.Fatalf("force sync: %v", err)
	}
	h.waitIdle(t, "drive", models.SourceDocument)

	if src.Calls() != 2 {
		t.Errorf("FetchChanges called %d times, want 2", src.Calls())
	}
	cursors := src.Cursors()
	if cursors[0] != "" || cursors[1] != "c1" {
		t.Errorf("cursor sequence %v, want [\"\" c1]", cursors)
	}
	cursor, _ := h.store.GetCursor(ctx, "drive", models.SourceDocument)
	if cursor.Position != "c2" {
		t.Errorf("final cursor = %q, want c2", cursor.Position)
	}
	n, _ := h.store.CountDocuments(ctx)
	if n != 2 {
		t.Errorf("CountDocuments = %d, want 2", n)
	}
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := mocksource.New("work-mail", models.SourceEmail)
	batch := []models.Change{upsertChange("msg-1", "Budget Thread")}
	src.QueueBatch(batch, "c1", false)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	h.waitIdle(t, "work-mail", models.SourceEmail)

	// Same window re-delivered, as after a crash before the cursor advanced.
	src.QueueBatch(batch, "c1", false)
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	waitFor(t, "second cycle", func() bool { return src.Calls() >= 2 })
	h.waitIdle(t, "work-mail", models.SourceEmail)

	n, _ := h.store.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("re-applied window duplicated documents: count = %d", n)
	}
}

func TestDeleteChange(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := mocksource.New("drive", models.SourceDocument)
	src.QueueBatch([]models.Change{upsertChange("f1", "doomed file")}, "c1", false)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("drive", models.SourceDocument); err != nil {
		t.Fatalf("sync: %v", err)
	}
	h.waitIdle(t, "drive", models.SourceDocument)

	src.QueueBatch([]models.Change{{Type: models.ChangeDelete, DeletedID: "f1"}}, "c2", false)
	if err := h.coordinator.ForceSync("drive", models.SourceDocument); err != nil {
		t.Fatalf("delete sync: %v", err)
	}
	waitFor(t, "delete cycle", func() bool { return src.Calls() >= 2 })
	h.waitIdle(t, "drive", models.SourceDocument)

	docID := normalize.DocumentID(models.SourceDocument, "drive", "f1")
	if _, err := h.store.GetDocument(ctx, docID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("document survived delete change: %v", err)
	}
}

func TestBadRecordSkippedNotFatal(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := mocksource.New("work-mail", models.SourceEmail)
	src.QueueBatch([]models.Change{
		{Type: models.ChangeUpsert, Record: models.RawRecord{"subject": "no id field"}},
		upsertChange("msg-2", "good record"),
	}, "c1", false)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("sync: %v", err)
	}
	h.waitIdle(t, "work-mail", models.SourceEmail)

	n, _ := h.store.CountDocuments(ctx)
	if n != 1 {
		t.Errorf("CountDocuments = %d, want 1 (bad record skipped)", n)
	}
	cursor, _ := h.store.GetCursor(ctx, "work-mail", models.SourceEmail)
	if cursor.Position != "c1" {
		t.Errorf("cursor should still advance past a skipped record, got %q", cursor.Position)
	}
}

func TestTransientFailureBacksOff(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := mocksource.New("work-mail", models.SourceEmail)
	src.QueueError(models.ErrSourceUnavailable)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, "error state", func() bool {
		return h.status("work-mail", models.SourceEmail).Status == models.SyncStatusError
	})

	st := h.status("work-mail", models.SourceEmail)
	if st.ErrorCount != 1 || st.LastError == "" {
		t.Errorf("error state not recorded: %+v", st)
	}
	cursor, _ := h.store.GetCursor(ctx, "work-mail", models.SourceEmail)
	if cursor.Position != "" {
		t.Errorf("cursor advanced on a failed cycle: %q", cursor.Position)
	}

	// A later successful cycle clears the failure streak.
	src.QueueBatch([]models.Change{upsertChange("msg-1", "recovered")}, "c1", false)
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("retry sync: %v", err)
	}
	h.waitIdle(t, "work-mail", models.SourceEmail)
	st = h.status("work-mail", models.SourceEmail)
	if st.ErrorCount != 0 || st.LastError != "" {
		t.Errorf("success did not clear error state: %+v", st)
	}
}

func TestAuthFailureDisablesAndSignals(t *testing.T) {
	var mu sync.Mutex
	var gotProvider string
	var gotKind models.SourceKind
	h := newCoordHarness(t, nil, WithAuthCallback(func(providerID string, kind models.SourceKind) {
		mu.Lock()
		defer mu.Unlock()
		gotProvider, gotKind = providerID, kind
	}))
	src := mocksource.New("work-mail", models.SourceEmail)
	src.QueueError(fmt.Errorf("token expired: %w", models.ErrAuthRequired))

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, "disabled state", func() bool {
		return h.status("work-mail", models.SourceEmail).Status == models.SyncStatusDisabled
	})

	mu.Lock()
	if gotProvider != "work-mail" || gotKind != models.SourceEmail {
		t.Errorf("auth callback got %s/%s", gotProvider, gotKind)
	}
	mu.Unlock()

	// Disabled sources reject triggers until reset.
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); !errors.Is(err, models.ErrSyncDisabled) {
		t.Errorf("got %v, want ErrSyncDisabled", err)
	}

	if err := h.coordinator.Reset(ctx, "work-mail", models.SourceEmail); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st := h.status("work-mail", models.SourceEmail)
	if st.Status != models.SyncStatusIdle || st.ErrorCount != 0 {
		t.Errorf("reset did not restore idle: %+v", st)
	}
	cursor, _ := h.store.GetCursor(ctx, "work-mail", models.SourceEmail)
	if cursor.Position != "" {
		t.Errorf("reset should clear the cursor for a full re-fetch, got %q", cursor.Position)
	}
}

func TestDisableAfterConsecutiveFailures(t *testing.T) {
	cfg := testSyncConfig()
	cfg.MaxConsecutiveFailures = 2
	h := newCoordHarness(t, cfg)
	src := mocksource.New("drive", models.SourceDocument)
	src.QueueError(models.ErrSourceUnavailable)
	src.QueueError(models.ErrSourceUnavailable)

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("drive", models.SourceDocument); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, "first failure", func() bool {
		return h.status("drive", models.SourceDocument).Status == models.SyncStatusError
	})
	if err := h.coordinator.ForceSync("drive", models.SourceDocument); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	waitFor(t, "disabled after threshold", func() bool {
		return h.status("drive", models.SourceDocument).Status == models.SyncStatusDisabled
	})
}

// blockingSource parks FetchChanges until released, so tests can observe the
// syncing state deterministically.
type blockingSource struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingSource) ProviderID() string      { return "blocky" }
func (b *blockingSource) Kind() models.SourceKind { return models.SourceDocument }

func (b *blockingSource) FetchChanges(ctx context.Context, cursor string) (*models.FetchResult, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()
	if first {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &models.FetchResult{NextCursor: cursor}, nil
}

func (b *blockingSource) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestForceSyncCoalescesWhileSyncing(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := &blockingSource{release: make(chan struct{})}

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("blocky", models.SourceDocument); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, "cycle in flight", func() bool {
		return h.status("blocky", models.SourceDocument).Status == models.SyncStatusSyncing
	})

	// Triggers during a cycle coalesce into exactly one follow-up.
	for i := 0; i < 3; i++ {
		if err := h.coordinator.ForceSync("blocky", models.SourceDocument); !errors.Is(err, models.ErrSyncInProgress) {
			t.Fatalf("got %v, want ErrSyncInProgress", err)
		}
	}
	if !h.status("blocky", models.SourceDocument).Pending {
		t.Error("pending flag not set")
	}

	close(src.release)
	waitFor(t, "follow-up cycle", func() bool { return src.Calls() == 2 })
	h.waitIdle(t, "blocky", models.SourceDocument)
	if h.status("blocky", models.SourceDocument).Pending {
		t.Error("pending flag not cleared after follow-up")
	}
	if src.Calls() != 2 {
		t.Errorf("three queued triggers ran %d follow-ups, want 1", src.Calls()-1)
	}
}

// flakySource parks the first FetchChanges until released, then fails it;
// later fetches succeed with an empty window.
type flakySource struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (f *flakySource) ProviderID() string      { return "flaky" }
func (f *flakySource) Kind() models.SourceKind { return models.SourceDocument }

func (f *flakySource) FetchChanges(ctx context.Context, cursor string) (*models.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if first {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, models.ErrSourceUnavailable
	}
	return &models.FetchResult{NextCursor: "c1"}, nil
}

func (f *flakySource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPendingForceSyncSurvivesFailedCycle(t *testing.T) {
	h := newCoordHarness(t, nil)
	src := &flakySource{release: make(chan struct{})}

	ctx := context.Background()
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("flaky", models.SourceDocument); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, "cycle in flight", func() bool {
		return h.status("flaky", models.SourceDocument).Status == models.SyncStatusSyncing
	})
	if err := h.coordinator.ForceSync("flaky", models.SourceDocument); !errors.Is(err, models.ErrSyncInProgress) {
		t.Fatalf("got %v, want ErrSyncInProgress", err)
	}

	// The first cycle fails. The queued trigger must still run, not wait
	// out the backoff window.
	close(src.release)
	waitFor(t, "queued follow-up cycle", func() bool { return src.Calls() >= 2 })
	h.waitIdle(t, "flaky", models.SourceDocument)

	st := h.status("flaky", models.SourceDocument)
	if st.Pending {
		t.Error("pending flag not cleared")
	}
	if st.ErrorCount != 0 || st.LastError != "" {
		t.Errorf("follow-up success did not clear error state: %+v", st)
	}
}

func TestForceSyncUnknownSource(t *testing.T) {
	h := newCoordHarness(t, nil)
	if err := h.coordinator.ForceSync("nobody", models.SourceEmail); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if err := h.coordinator.Reset(context.Background(), "nobody", models.SourceEmail); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("reset: got %v, want ErrNotFound", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h := newCoordHarness(t, nil)
	ctx := context.Background()
	src := mocksource.New("work-mail", models.SourceEmail)
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.Register(ctx, mocksource.New("work-mail", models.SourceEmail)); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestRegisterLoadsPersistedCursor(t *testing.T) {
	h := newCoordHarness(t, nil)
	ctx := context.Background()
	if err := h.store.SaveCursor(ctx, &models.SyncCursor{
		ProviderID: "work-mail",
		SourceKind: models.SourceEmail,
		Position:   "resume-here",
	}); err != nil {
		t.Fatalf("save cursor: %v", err)
	}

	src := mocksource.New("work-mail", models.SourceEmail)
	src.QueueBatch(nil, "resume-here", false)
	if err := h.coordinator.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.coordinator.ForceSync("work-mail", models.SourceEmail); err != nil {
		t.Fatalf("sync: %v", err)
	}
	h.waitIdle(t, "work-mail", models.SourceEmail)

	if cursors := src.Cursors(); len(cursors) == 0 || cursors[0] != "resume-here" {
		t.Errorf("first fetch used cursor %v, want resume-here", cursors)
	}
}

func TestIndexIOFailureHoldsCursor(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	defer store.Close()
	ix := indexer.NewIndexer(store, &brokenIndex{})
	c := NewCoordinator(ix, store, testSyncConfig(), zap.NewNop())
	defer c.Stop()

	src := mocksource.New("drive", models.SourceDocument)
	src.QueueBatch([]models.Change{upsertChange("f1", "doc")}, "c1", false)

	ctx := context.Background()
	if err := c.Register(ctx, src); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.ForceSync("drive", models.SourceDocument); err != nil {
		t.Fatalf("sync: %v", err)
	}
	waitFor(t, "failed cycle", func() bool {
		for _, st := range c.Statuses() {
			if st.Status == models.SyncStatusError {
				return true
			}
		}
		return false
	})

	cursor, err := store.GetCursor(ctx, "drive", models.SourceDocument)
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if cursor.Position != "" {
		t.Errorf("cursor advanced past an unapplied window: %q", cursor.Position)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	c := NewCoordinator(nil, nil, &config.SyncConfig{BackoffBaseSeconds: 5, BackoffCapSeconds: 900}, zap.NewNop())
	cases := []struct {
		errorCount int
		want       time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{5, 160 * time.Second},
		{7, 640 * time.Second},
		{8, 900 * time.Second},
		{50, 900 * time.Second},
	}
	for _, tc := range cases {
		if got := c.backoff(tc.errorCount); got != tc.want {
			t.Errorf("backoff(%d) = %v, want %v", tc.errorCount, got, tc.want)
		}
	}
}

// brokenIndex fails every write with ErrIndexIO.
type brokenIndex struct{}

func (b *brokenIndex) Upsert(ctx context.Context, doc *models.IndexedDocument) error {
	return models.ErrIndexIO
}
func (b *brokenIndex) Remove(ctx context.Context, id string) error { return models.ErrIndexIO }
func (b *brokenIndex) Query(ctx context.Context, plan *index.QueryPlan) ([]index.Hit, error) {
	return nil, models.ErrIndexIO
}
func (b *brokenIndex) Clear(ctx context.Context) error { return models.ErrIndexIO }
func (b *brokenIndex) DocCount() (uint64, error)       { return 0, nil }
func (b *brokenIndex) Terms() ([]string, error)        { return nil, nil }
func (b *brokenIndex) Close() error                    { return nil }
