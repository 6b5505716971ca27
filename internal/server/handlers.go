package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/miwake/internal/catalog"
	"github.com/hyperjump/miwake/internal/guard"
	"github.com/hyperjump/miwake/internal/imaging"
	"github.com/hyperjump/miwake/internal/indexer"
	"github.com/hyperjump/miwake/internal/models"
	"github.com/hyperjump/miwake/internal/snapshot"
	"github.com/hyperjump/miwake/internal/source"
)

// multipartMemory is how much of a parsed upload stays in memory before
// spilling to disk.
const multipartMemory = 10 << 20

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	// Transport-level cap with room for multipart framing; the guard enforces
	// the real image size limit.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Guard.MaxFileSizeBytes()+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form", "validation")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "image file is required", "validation")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read image", "validation")
		return
	}

	query, err := parseSearchParams(r.FormValue("k"), r.FormValue("threshold"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	input := guard.Upload{
		Data:         data,
		Filename:     header.Filename,
		DeclaredMIME: header.Header.Get("Content-Type"),
	}
	response, err := s.engine.Search(r.Context(), input, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type urlSearchRequest struct {
	URL       string   `json:"url"`
	K         int      `json:"k"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleSearchURL(w http.ResponseWriter, r *http.Request) {
	var req urlSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}
	if req.URL == "" {
		s.respondError(w, http.StatusBadRequest, "url is required", "validation")
		return
	}

	query := &models.SearchQuery{K: req.K, Threshold: req.Threshold}
	response, err := s.engine.Search(r.Context(), guard.Remote{URL: req.URL}, query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid item id", "validation")
		return
	}
	item, err := s.engine.GetItem(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items, total, err := s.engine.ListItems(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  total,
		"offset": offset,
	})
}

func (s *Server) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response, err := s.engine.SearchItems(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

type rebuildRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}
	locator := req.Source
	if locator == "" {
		locator = s.config.Builder.Source
	}
	if locator == "" {
		s.respondError(w, http.StatusBadRequest, "no catalog source configured", "validation")
		return
	}

	// The rebuild outlives this request; only process shutdown stops it.
	ctx := context.WithoutCancel(r.Context())
	src, err := source.New(ctx, locator, s.config.Builder.Extensions, s.config.Builder.S3Region)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "validation")
		return
	}
	job, err := s.builder.StartRebuild(ctx, src)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("rebuild started",
		zap.String("job_id", job.ID),
		zap.String("source", locator))
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleRebuildStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.builder.Job(chi.URLParam(r, "jobID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found", "not_found")
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.manager.Health(r.Context())
	if err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, health)
}

// parseSearchParams converts form-encoded k and threshold values. Range
// checking happens in the engine; this only rejects non-numeric text.
func parseSearchParams(kRaw, thresholdRaw string) (*models.SearchQuery, error) {
	query := &models.SearchQuery{}
	if kRaw != "" {
		k, err := strconv.Atoi(kRaw)
		if err != nil {
			return nil, &models.ValidationError{Field: "k", Reason: "must be an integer"}
		}
		query.K = k
	}
	if thresholdRaw != "" {
		threshold, err := strconv.ParseFloat(thresholdRaw, 64)
		if err != nil {
			return nil, &models.ValidationError{Field: "threshold", Reason: "must be a number"}
		}
		query.Threshold = &threshold
	}
	return query, nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &models.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return v, nil
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognized is
// an internal error and gets logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	var derr *imaging.DecodeError
	switch {
	case errors.As(err, &verr):
		s.respondError(w, http.StatusBadRequest, verr.Error(), "validation")
	case errors.Is(err, guard.ErrOversized),
		errors.Is(err, guard.ErrBadType),
		errors.Is(err, guard.ErrBadExtension),
		errors.Is(err, guard.ErrMalformedURL):
		s.respondError(w, http.StatusBadRequest, err.Error(), "validation")
	case errors.Is(err, guard.ErrSSRFBlocked):
		s.logger.Warn("url fetch blocked",
			zap.String("event", "security"),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		s.respondError(w, http.StatusForbidden, err.Error(), "forbidden")
	case errors.Is(err, guard.ErrFetchTimeout):
		s.respondError(w, http.StatusGatewayTimeout, err.Error(), "timeout")
	case errors.Is(err, guard.ErrFetchFailed):
		s.respondError(w, http.StatusBadGateway, err.Error(), "upstream")
	case errors.As(err, &derr):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error(), "undecodable")
	case errors.Is(err, catalog.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "item not found", "not_found")
	case errors.Is(err, snapshot.ErrNoSnapshot):
		s.respondError(w, http.StatusServiceUnavailable, "no catalog snapshot is serving", "unavailable")
	case errors.Is(err, indexer.ErrRebuildInProgress):
		s.respondError(w, http.StatusConflict, err.Error(), "conflict")
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error(), "internal")
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, kind string) {
	s.respondJSON(w, status, map[string]string{"error": message, "kind": kind})
}
