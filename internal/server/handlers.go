package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/models"
	"github.com/hyperjump/kensaku/internal/storage"
)

type searchRequest struct {
	Query   string                `json:"query"`
	Options *models.SearchOptions `json:"options,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query))
	response, err := s.engine.Search(r.Context(), req.Query, req.Options)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	partial := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	suggestions, err := s.engine.Suggest(r.Context(), partial, limit)
	if err != nil {
		s.logger.Error("suggest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.IndexedDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Source == "" {
		doc.Source = models.SourceDocument
	}
	s.logger.Debug("index document request", zap.String("id", doc.ID), zap.String("title", doc.Title))
	if err := s.indexer.IndexDocument(r.Context(), &doc); err != nil {
		if errors.Is(err, models.ErrInvalidDocument) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("indexing failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.logger.Error("get document failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Analytics())
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		s.respondError(w, http.StatusNotImplemented, "sync not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": s.coordinator.Statuses()})
}

func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		s.respondError(w, http.StatusNotImplemented, "sync not enabled")
		return
	}
	provider := chi.URLParam(r, "provider")
	kind := models.SourceKind(chi.URLParam(r, "kind"))
	err := s.coordinator.ForceSync(provider, kind)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
	case errors.Is(err, models.ErrSyncInProgress):
		// A cycle is already running; another one is queued behind it.
		s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
	case errors.Is(err, models.ErrSyncDisabled):
		s.respondError(w, http.StatusConflict, "source is disabled")
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "unknown source")
	default:
		s.logger.Error("force sync failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleSyncReset(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		s.respondError(w, http.StatusNotImplemented, "sync not enabled")
		return
	}
	provider := chi.URLParam(r, "provider")
	kind := models.SourceKind(chi.URLParam(r, "kind"))
	err := s.coordinator.Reset(r.Context(), provider, kind)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	case errors.Is(err, models.ErrSyncInProgress):
		s.respondError(w, http.StatusConflict, "sync in progress")
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "unknown source")
	default:
		s.logger.Error("sync reset failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

type notifyRequest struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		s.respondError(w, http.StatusNotImplemented, "sync not enabled")
		return
	}
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Provider == "" || req.Kind == "" {
		s.respondError(w, http.StatusBadRequest, "provider and kind are required")
		return
	}
	s.coordinator.NotifyChange(req.Provider, models.SourceKind(req.Kind))
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "notified"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents": docCount,
		"engine":    s.config.Storage.Engine,
	}
	if s.config.Storage.Engine == config.EngineBleve {
		diskBytes, err := storage.DiskUsageBytes(
			s.config.Storage.DatabasePath,
			s.config.Storage.IndexPath,
		)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
