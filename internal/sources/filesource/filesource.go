// Package filesource watches local directories with fsnotify and exposes the
// resulting file changes as an incremental sync source.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/models"
)

const (
	defaultDebounce = 400 * time.Millisecond

	scanCursorPrefix = "scan:"
	liveCursorPrefix = "live:"
)

type changeKind int

const (
	changeUpsert changeKind = iota
	changeDelete
)

// NotifyFunc is called after a change is queued so the owner can trigger an
// immediate fetch cycle instead of waiting for the next scheduled one.
type NotifyFunc func(providerID string, kind models.SourceKind)

// FileSource watches directories and serves file changes through FetchChanges.
// An empty cursor starts a full scan of all roots, paged in sorted path order;
// once the scan completes, the cursor switches to live mode and fetches drain
// the event queue filled by the fsnotify watcher.
type FileSource struct {
	providerID string
	roots      []string
	extensions []string
	batchLimit int
	extractor  *extract.Extractor
	notify     NotifyFunc
	debounce   time.Duration
	logger     *zap.Logger

	mu           sync.Mutex
	watcher      *fsnotify.Watcher
	debounceMap  map[string]*time.Timer
	pending      map[string]changeKind
	inflight     []models.Change
	inflightFrom string
	inflightNext string
	gen          uint64
	started      bool
	done         chan struct{}
	stopOnce     sync.Once
}

// Option configures a FileSource.
type Option func(*FileSource)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(f *FileSource) { f.logger = l }
}

// WithNotify sets a callback invoked when a watched file changes.
func WithNotify(fn NotifyFunc) Option {
	return func(f *FileSource) { f.notify = fn }
}

// WithDebounce overrides the write-event debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(f *FileSource) { f.debounce = d }
}

// New creates a file source for the given roots. extensions filter which
// files are picked up (empty = all); batchLimit caps changes per fetch.
func New(providerID string, roots, extensions []string, batchLimit int, opts ...Option) *FileSource {
	f := &FileSource{
		providerID:  providerID,
		roots:       roots,
		extensions:  extensions,
		batchLimit:  batchLimit,
		extractor:   extract.NewExtractor(),
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		pending:     make(map[string]changeKind),
		done:        make(chan struct{}),
	}
	if f.batchLimit <= 0 {
		f.batchLimit = 256
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ProviderID returns the configured provider identifier.
func (f *FileSource) ProviderID() string { return f.providerID }

// Kind reports that this source produces document records.
func (f *FileSource) Kind() models.SourceKind { return models.SourceDocument }

// Start begins watching the configured roots. It runs until ctx is cancelled
// or Stop is called. Missing roots are created.
func (f *FileSource) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.watcher = watcher
	f.started = true
	if f.logger != nil {
		f.logger.Debug("file source starting",
			zap.Strings("roots", f.roots), zap.Strings("extensions", f.extensions))
	}
	for _, root := range f.roots {
		if err := f.addRootLocked(root); err != nil {
			_ = f.watcher.Close()
			f.watcher = nil
			f.started = false
			f.mu.Unlock()
			return err
		}
	}
	f.mu.Unlock()
	go f.run(ctx)
	return nil
}

func (f *FileSource) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(root, 0755); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return f.watcher.Add(path)
		}
		return nil
	})
}

func (f *FileSource) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.Stop()
			return
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(ev)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && f.logger != nil {
				f.logger.Debug("file source watch error", zap.Error(err))
			}
		}
	}
}

func (f *FileSource) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if f.logger != nil {
		f.logger.Debug("file source event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			f.handleNewDirectory(path)
			return
		}
		if f.matchExtension(path) {
			f.debounceUpsert(path)
		}
	case fsnotify.Remove, fsnotify.Rename:
		f.cancelDebounce(path)
		if f.matchExtension(path) {
			f.enqueue(path, changeDelete)
		}
	}
}

// handleNewDirectory watches a freshly created directory and queues the files
// already inside it, which can land before the watch is established.
func (f *FileSource) handleNewDirectory(dirPath string) {
	f.mu.Lock()
	watcher := f.watcher
	f.mu.Unlock()
	if watcher == nil {
		return
	}
	filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil && f.logger != nil {
				f.logger.Debug("file source failed to watch directory",
					zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if f.matchExtension(path) {
			f.enqueue(path, changeUpsert)
		}
		return nil
	})
}

func (f *FileSource) matchExtension(path string) bool {
	if len(f.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range f.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (f *FileSource) debounceUpsert(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(f.debounce, func() {
		f.mu.Lock()
		delete(f.debounceMap, path)
		f.mu.Unlock()
		f.enqueue(path, changeUpsert)
	})
	f.debounceMap[path] = t
}

func (f *FileSource) cancelDebounce(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.debounceMap[path]; ok {
		t.Stop()
		delete(f.debounceMap, path)
	}
}

func (f *FileSource) enqueue(path string, kind changeKind) {
	f.mu.Lock()
	f.pending[path] = kind
	notify := f.notify
	f.mu.Unlock()
	if notify != nil {
		notify(f.providerID, f.Kind())
	}
}

// FetchChanges implements the sync source contract. Cursor positions are
// either scan positions (initial full walk, paged by path) or live positions
// (monotonic generation draining the watch queue). A batch is held until the
// caller fetches with the advanced cursor, so a failed apply re-fetches the
// same changes.
func (f *FileSource) FetchChanges(ctx context.Context, cursor string) (*models.FetchResult, error) {
	if cursor == "" || strings.HasPrefix(cursor, scanCursorPrefix) {
		return f.fetchScan(ctx, cursor)
	}
	return f.fetchLive(ctx, cursor)
}

func (f *FileSource) fetchScan(ctx context.Context, cursor string) (*models.FetchResult, error) {
	after := strings.TrimPrefix(cursor, scanCursorPrefix)
	paths, err := f.listFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	var batch []string
	hasMore := false
	for _, p := range paths {
		if after != "" && p <= after {
			continue
		}
		if len(batch) >= f.batchLimit {
			hasMore = true
			break
		}
		batch = append(batch, p)
	}
	changes := make([]models.Change, 0, len(batch))
	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := f.buildRecord(p)
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("file source skipping unreadable file",
					zap.String("path", p), zap.Error(err))
			}
			continue
		}
		changes = append(changes, models.Change{Type: models.ChangeUpsert, Record: record})
	}
	next := f.liveCursor()
	if hasMore {
		next = scanCursorPrefix + batch[len(batch)-1]
	}
	return &models.FetchResult{Changes: changes, NextCursor: next, HasMore: hasMore}, nil
}

func (f *FileSource) listFiles() ([]string, error) {
	var paths []string
	for _, root := range f.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !d.IsDir() && f.matchExtension(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *FileSource) liveCursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("%s%d", liveCursorPrefix, f.gen)
}

func (f *FileSource) fetchLive(ctx context.Context, cursor string) (*models.FetchResult, error) {
	f.mu.Lock()
	if f.inflight != nil {
		if cursor == f.inflightFrom {
			// The previous batch was not applied. Serve it again so no
			// change is lost to a failed cycle.
			res := &models.FetchResult{
				Changes:    f.inflight,
				NextCursor: f.inflightNext,
				HasMore:    len(f.pending) > 0,
			}
			f.mu.Unlock()
			return res, nil
		}
		f.inflight = nil
	}
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return &models.FetchResult{NextCursor: cursor}, nil
	}
	paths := make([]string, 0, len(f.pending))
	for p := range f.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > f.batchLimit {
		paths = paths[:f.batchLimit]
	}
	kinds := make(map[string]changeKind, len(paths))
	for _, p := range paths {
		kinds[p] = f.pending[p]
		delete(f.pending, p)
	}
	hasMore := len(f.pending) > 0
	f.mu.Unlock()

	changes := make([]models.Change, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch kinds[p] {
		case changeDelete:
			changes = append(changes, models.Change{Type: models.ChangeDelete, DeletedID: p})
		case changeUpsert:
			record, err := f.buildRecord(p)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					// Deleted between the event and the fetch.
					changes = append(changes, models.Change{Type: models.ChangeDelete, DeletedID: p})
					continue
				}
				if f.logger != nil {
					f.logger.Warn("file source skipping unreadable file",
						zap.String("path", p), zap.Error(err))
				}
				continue
			}
			changes = append(changes, models.Change{Type: models.ChangeUpsert, Record: record})
		}
	}

	f.mu.Lock()
	f.gen++
	next := fmt.Sprintf("%s%d", liveCursorPrefix, f.gen)
	f.inflight = changes
	f.inflightFrom = cursor
	f.inflightNext = next
	f.mu.Unlock()
	return &models.FetchResult{Changes: changes, NextCursor: next, HasMore: hasMore}, nil
}

func (f *FileSource) buildRecord(path string) (models.RawRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	content, err := f.extractor.Extract(path)
	if err != nil {
		return nil, err
	}
	return models.RawRecord{
		"id":      path,
		"title":   filepath.Base(path),
		"content": content,
		"path":    path,
		"size":    info.Size(),
		"mtime":   info.ModTime(),
	}, nil
}

// Stop stops the watcher and releases resources.
func (f *FileSource) Stop() {
	f.mu.Lock()
	if !f.started || f.watcher == nil {
		f.mu.Unlock()
		return
	}
	for path, t := range f.debounceMap {
		t.Stop()
		delete(f.debounceMap, path)
	}
	_ = f.watcher.Close()
	f.watcher = nil
	f.started = false
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.done) })
}
