package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/gramaudit/internal/config"
	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	core := s.svc.Config()
	resp := map[string]interface{}{
		"status": st,
		"config": map[string]interface{}{
			"embedding_dimensions": core.EmbeddingDimensions,
			"similarity_threshold": core.SimilarityThreshold,
			"duplicate_threshold":  core.DuplicateThreshold,
			"taxonomy_sources":     core.TaxonomySources,
			"projection":           core.Projection,
		},
	}
	if s.appConfig != nil {
		fp, err := storage.DiskFootprint(map[string]string{
			"database":    s.appConfig.Storage.DatabasePath,
			"label_index": s.appConfig.Storage.LabelIndexPath,
		})
		if err == nil {
			resp["disk"] = fp
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, err := s.svc.Files(r.Context(), offset, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	if files == nil {
		files = []*models.ConfigurationFile{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"files": files, "offset": offset, "limit": limit})
}

type ingestRequest struct {
	Path      string `json:"path"`
	Recursive *bool  `json:"recursive,omitempty"`
}

type ingestFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "path not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("ingest request", zap.String("path", req.Path), zap.Bool("directory", info.IsDir()))

	if !info.IsDir() {
		report, err := s.svc.IngestFile(r.Context(), req.Path)
		if err != nil {
			s.logger.Warn("ingest failed", zap.String("path", req.Path), zap.Error(err))
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, report)
		return
	}

	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	reports, failures, err := s.svc.IngestDirectory(r.Context(), req.Path, recursive)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	failed := make([]ingestFailure, len(failures))
	for i, f := range failures {
		failed[i] = ingestFailure{Path: f.Path, Error: f.Err.Error()}
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"reports": reports, "failed": failed})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.svc.File(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete file request", zap.String("id", id))
	if err := s.svc.DeleteFile(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListCohorts(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"cohorts": s.svc.Cohorts()})
}

func (s *Server) handleGetCohort(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Cohort(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleTaxonomies(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"taxonomies": st.Taxonomies})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var q models.ReconcileQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("reconcile request", zap.Int("values", len(q.Values)), zap.String("source", q.Source))
	items, err := s.svc.ReconcileBatch(r.Context(), &q)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": items})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var q models.SimilarQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	matches, err := s.svc.Similar(r.Context(), &q)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"value": q.Value, "matches": matches})
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	var threshold *float64
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		threshold = &t
	}
	report, err := s.svc.Duplicates(threshold)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.ProjectAll(r.Context())
	if err != nil {
		s.logger.Warn("projection failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	dims, err := intParam(r, "dims", 2)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := s.svc.Points(dims)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"dimensions": dims, "points": points})
}

func (s *Server) handleLabelSearch(w http.ResponseWriter, r *http.Request) {
	var q models.LabelQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("label search request", zap.String("query", q.Query), zap.Int("limit", q.Limit))
	resp, err := s.svc.SearchLabels(r.Context(), &q)
	if err != nil {
		s.logger.Error("label search failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.appConfig == nil {
		return
	}
	s.appMu.Lock()
	defer s.appMu.Unlock()
	s.appConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.appConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// statusFor maps core error classes to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConflictRetryExhausted):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbeddingComputation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}
