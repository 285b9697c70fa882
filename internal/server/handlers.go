package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deptkb/deptkb/internal/extract"
	"github.com/deptkb/deptkb/internal/metastore"
	"github.com/deptkb/deptkb/internal/models"
	"github.com/deptkb/deptkb/internal/pipeline"
	"github.com/deptkb/deptkb/internal/rawstore"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if tenantID == "" {
		s.respondError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	maxBytes := s.config.Pipeline.MaxFileBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file exceeds the upload size limit")
			return
		}
		s.respondError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if v := r.FormValue("content_type"); v != "" {
		contentType = v
	}
	if !extract.Supported(contentType) {
		s.respondError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}

	doc := &models.Document{
		FileID:      uuid.NewString(),
		TenantID:    tenantID,
		Filename:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
		UploadedBy:  r.FormValue("uploaded_by"),
		CreatedAt:   time.Now().UTC(),
	}
	doc.StorageKey = rawstore.Key(tenantID, doc.FileID)

	ctx := r.Context()
	if err := s.raw.Put(ctx, doc.StorageKey, file, header.Size, contentType); err != nil {
		s.logger.Error("store raw upload", zap.String("file_id", doc.FileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if err := s.store.PutDocument(ctx, doc); err != nil {
		s.logger.Error("record document", zap.String("file_id", doc.FileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}
	if err := s.coord.Enqueue(ctx, doc); err != nil {
		s.logger.Error("enqueue ingestion", zap.String("file_id", doc.FileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to schedule ingestion")
		return
	}

	s.logger.Debug("upload accepted",
		zap.String("file_id", doc.FileID),
		zap.String("tenant_id", tenantID),
		zap.String("filename", doc.Filename),
		zap.Int64("size_bytes", doc.SizeBytes),
	)
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"file_id":    doc.FileID,
		"status":     string(models.StateQueued),
		"status_url": "/api/v1/files/" + doc.FileID + "/status",
	})
}

func (s *Server) handleFileStatus(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	st, err := s.store.GetStatus(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("load status", zap.String("file_id", fileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	s.logger.Debug("delete file request", zap.String("file_id", fileID))
	if err := s.coord.Delete(r.Context(), fileID); err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("delete failed", zap.String("file_id", fileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "delete failed, retry the request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	s.logger.Debug("re-index request", zap.String("file_id", fileID))
	if err := s.coord.Reindex(r.Context(), fileID); err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("re-index failed", zap.String("file_id", fileID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "re-index failed")
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"file_id": fileID,
		"status":  string(models.StateQueued),
	})
}

type retrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	s.logger.Debug("retrieve request",
		zap.String("tenant_id", tenantID),
		zap.Int("k", req.K),
	)
	results, err := s.engine.Retrieve(r.Context(), tenantID, req.Query, req.K)
	if err != nil {
		s.logger.Error("retrieve failed", zap.String("tenant_id", tenantID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"results":   results,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.store.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("stats: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to gather stats")
		return
	}
	chunkCount, err := s.store.CountChunks(ctx)
	if err != nil {
		s.logger.Error("stats: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to gather stats")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docCount,
		"chunks":    chunkCount,
		"config": map[string]interface{}{
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"target_tokens":        s.config.Pipeline.TargetTokens,
			"overlap_tokens":       s.config.Pipeline.OverlapTokens,
		},
	})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := s.store.ListDeadLetters(r.Context(), 100)
	if err != nil {
		s.logger.Error("list dead letters failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if dls == nil {
		dls = []*metastore.DeadLetter{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": dls})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
