// Package main is the Kensaku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/analytics"
	"github.com/hyperjump/kensaku/internal/cli"
	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/extract"
	"github.com/hyperjump/kensaku/internal/index"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/normalize"
	"github.com/hyperjump/kensaku/internal/search"
	"github.com/hyperjump/kensaku/internal/server"
	"github.com/hyperjump/kensaku/internal/sources/filesource"
	"github.com/hyperjump/kensaku/internal/storage"
	"github.com/hyperjump/kensaku/internal/syncer"
	"github.com/hyperjump/kensaku/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kensaku/config.yaml"
	defaultServerURL  = "http://localhost:8732"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "suggest":
		runSuggest()
	case "index":
		runIndex()
	case "delete":
		runDelete()
	case "sync":
		runSync()
	case "status":
		runStatus()
	case "analytics":
		runAnalytics()
	case "version", "--version", "-v":
		fmt.Printf("kensaku version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	coordinator := syncer.NewCoordinator(
		components.Indexer,
		components.Store,
		&cfg.Sync,
		logger,
		syncer.WithAuthCallback(func(providerID string, kind models.SourceKind) {
			logger.Warn("source needs re-authentication; sync disabled until reset",
				zap.String("provider_id", providerID),
				zap.String("kind", string(kind)))
		}),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fileSrc *filesource.FileSource
	if len(cfg.Watch.Directories) > 0 {
		srcOpts := []filesource.Option{
			filesource.WithNotify(coordinator.NotifyChange),
		}
		if debugMode {
			srcOpts = append(srcOpts, filesource.WithLogger(logger))
		}
		fileSrc = filesource.New(
			cfg.Watch.ProviderID,
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Sync.BatchLimit,
			srcOpts...,
		)
		if err := coordinator.Register(runCtx, fileSrc); err != nil {
			logger.Fatal("Failed to register file source", zap.Error(err))
		}
		if err := fileSrc.Start(runCtx); err != nil {
			logger.Fatal("Failed to start file source", zap.Error(err))
		}
	}
	coordinator.Start(runCtx)

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Store,
		coordinator,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	coordinator.Stop()
	if fileSrc != nil {
		fileSrc.Stop()
	}
	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(ctx)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage when server is not running)")
	limit := fs.Int("limit", 0, "number of results (0 = server default)")
	offset := fs.Int("offset", 0, "result offset for pagination")
	fuzzy := fs.Bool("fuzzy", true, "enable fuzzy matching for typo tolerance")
	highlight := fs.Bool("highlight", true, "include highlighted fragments")
	sortBy := fs.String("sort", "", "sort field: relevance, date, title, or importance")
	order := fs.String("order", "", "sort order: asc or desc")
	sources := fs.String("sources", "", "comma-separated source kinds (email, calendar_event, document, contact)")
	providers := fs.String("providers", "", "comma-separated provider IDs")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: kensaku search [flags] <query>")
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	opts := &models.SearchOptions{
		Limit:        *limit,
		Offset:       *offset,
		Fuzzy:        fuzzy,
		Highlighting: highlight,
		SortBy:       models.SortField(*sortBy),
		SortOrder:    models.SortOrder(*order),
	}
	opts.Sources = splitCSV(*sources)
	opts.ProviderIDs = splitCSV(*providers)

	if *serverURL != "" {
		// Use the HTTP API when the server is running (avoids a Bleve/SQLite
		// lock conflict with the server process).
		response, err := searchViaHTTP(*serverURL, queryStr, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	components, logger := mustInitDirect(*configPath)
	defer logger.Sync()
	defer components.Close()

	response, err := components.Engine.Search(context.Background(), queryStr, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL, query string, opts *models.SearchOptions) (*models.SearchResponse, error) {
	body, err := json.Marshal(map[string]interface{}{"query": query, "options": opts})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runSuggest() {
	fs := flag.NewFlagSet("suggest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	limit := fs.Int("limit", 10, "number of suggestions")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	partial := buildSearchQuery(fs.Args())
	if partial == "" {
		fmt.Println("Usage: kensaku suggest [flags] <partial-term>")
		os.Exit(1)
	}

	if *serverURL != "" {
		u := fmt.Sprintf("%s/api/v1/suggest?q=%s&limit=%d", *serverURL, url.QueryEscape(partial), *limit)
		resp, err := http.Get(u)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Suggest failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		for _, s := range out.Suggestions {
			fmt.Println(s)
		}
		return
	}

	components, logger := mustInitDirect(*configPath)
	defer logger.Sync()
	defer components.Close()

	suggestions, err := components.Engine.Suggest(context.Background(), partial, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Suggest failed: %v\n", err)
		os.Exit(1)
	}
	for _, s := range suggestions {
		fmt.Println(s)
	}
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	provider := fs.String("provider", "cli", "provider ID recorded on the document")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kensaku index [flags] <file>...")
		os.Exit(1)
	}

	components, logger := mustInitDirect(*configPath)
	defer logger.Sync()
	defer components.Close()

	extractor := extract.NewExtractor()
	ctx := context.Background()
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("Failed to stat %s: %v\n", path, err)
			os.Exit(1)
		}
		if info.IsDir() {
			fmt.Printf("Skipping directory %s (watch directories via config instead)\n", path)
			continue
		}
		content, err := extractor.Extract(path)
		if err != nil {
			fmt.Printf("Extraction failed for %s: %v\n", path, err)
			os.Exit(1)
		}
		record := models.RawRecord{
			"id":      path,
			"title":   info.Name(),
			"content": content,
			"path":    path,
			"size":    info.Size(),
			"mtime":   info.ModTime(),
		}
		doc, err := normalize.Normalize(record, models.SourceDocument, *provider)
		if err != nil {
			fmt.Printf("Normalization failed for %s: %v\n", path, err)
			os.Exit(1)
		}
		if err := components.Indexer.IndexDocument(ctx, doc); err != nil {
			fmt.Printf("Indexing failed for %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Document indexed: %s\n", doc.ID)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kensaku delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	components, logger := mustInitDirect(*configPath)
	defer logger.Sync()
	defer components.Close()

	if err := components.Indexer.DeleteDocument(context.Background(), docID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runSync() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: kensaku sync <status|force|reset> [provider kind]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[3:])

	switch sub {
	case "status":
		resp, err := http.Get(*serverURL + "/api/v1/sync/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Sources []models.SourceStatus `json:"sources"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSyncStatuses(os.Stdout, out.Sources, parseFormat(*outputFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "force", "reset":
		if fs.NArg() < 2 {
			fmt.Printf("Usage: kensaku sync %s <provider> <kind>\n", sub)
			os.Exit(1)
		}
		provider, kind := fs.Arg(0), fs.Arg(1)
		u := fmt.Sprintf("%s/api/v1/sync/%s/%s", *serverURL, url.PathEscape(provider), url.PathEscape(kind))
		if sub == "reset" {
			u += "/reset"
		}
		resp, err := http.Post(u, "application/json", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			fmt.Fprintf(os.Stderr, "Sync %s failed (%d): %s\n", sub, resp.StatusCode, string(b))
			os.Exit(1)
		}
		fmt.Print(string(b))
	default:
		fmt.Printf("Unknown sync subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runAnalytics() {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/analytics")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Analytics failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var snap analytics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnalytics(os.Stdout, &snap, parseFormat(*outputFormat)); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Documents      int64  `json:"documents"`
	Engine         string `json:"engine"`
	DiskUsageBytes *int64 `json:"disk_usage_bytes,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		components, logger := mustInitDirect(*configPath)
		defer logger.Sync()
		defer components.Close()
		docCount, err := components.Store.CountDocuments(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
			os.Exit(1)
		}
		status = statusResponse{Documents: docCount, Engine: cfg.Storage.Engine}
		if cfg.Storage.Engine == config.EngineBleve {
			diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.IndexPath)
			if err == nil {
				status.DiskUsageBytes = &diskBytes
			}
		}
	}

	switch parseFormat(*outputFormat) {
	case cli.OutputJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("documents:        %d\n", status.Documents)
		fmt.Printf("engine:           %s\n", status.Engine)
		if status.DiskUsageBytes != nil {
			fmt.Printf("disk_usage_bytes: %d\n", *status.DiskUsageBytes)
		}
	}
}

// Components holds initialized services.
type Components struct {
	Store   storage.Store
	Index   index.SearchIndex
	Engine  *search.Engine
	Indexer *indexer.Indexer
}

func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var searchIndex index.SearchIndex
	switch cfg.Storage.Engine {
	case config.EngineMemory:
		searchIndex = index.NewMemoryIndex()
	default:
		searchIndex, err = index.NewBleveIndex(cfg.Storage.IndexPath)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize index: %w", err)
		}
	}

	idxOpts := []indexer.IndexerOption{}
	if debug && logger != nil {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	idx := indexer.NewIndexer(store, searchIndex, idxOpts...)

	recorder := analytics.NewRecorder(analytics.DefaultCapacity)
	engine := search.NewEngine(searchIndex, store, recorder, &cfg.Search, logger)

	return &Components{
		Store:   store,
		Index:   searchIndex,
		Engine:  engine,
		Indexer: idx,
	}, nil
}

func mustInitDirect(configPath string) (*Components, *zap.Logger) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, logger
}

func parseFormat(s string) cli.OutputFormat {
	switch s {
	case "json":
		return cli.OutputJSON
	case "text", "":
		return cli.OutputText
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", s)
		os.Exit(1)
		return cli.OutputText
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printUsage() {
	fmt.Println(`kensaku - Local full-text search and sync cache

Usage:
  kensaku server [flags]             Start the HTTP server
  kensaku search [flags] <query>     Search indexed documents
  kensaku suggest [flags] <partial>  Suggest query completions
  kensaku index [flags] <file>...    Index files from the command line
  kensaku delete [flags] <id>        Delete a document
  kensaku sync <status|force|reset>  Inspect or drive source sync
  kensaku status [flags]             Show engine/storage status
  kensaku analytics [flags]          Show query analytics
  kensaku version                    Show version
  kensaku help                       Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kensaku/config.yaml)
  --debug            Enable debug logging

Search Flags:
  --server string    Server URL (default: http://localhost:8732). Use empty (--server "") for direct storage.
  --limit int        Number of results
  --offset int       Result offset for pagination
  --fuzzy            Typo-tolerant matching (default: true)
  --highlight        Include highlighted fragments (default: true)
  --sort string      Sort field: relevance, date, title, importance
  --order string     Sort order: asc or desc
  --sources string   Comma-separated source kinds (email, calendar_event, document, contact)
  --providers string Comma-separated provider IDs
  --output string    Output format: text or json

Examples:
  kensaku server
  kensaku search quarterly report
  kensaku search --sources email --sort date --order desc budget
  kensaku suggest quart
  kensaku index notes.md report.pdf
  kensaku sync status
  kensaku sync force local-files document
  kensaku analytics`)
}
