package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/models"
)

const maxBodyBytes = 8 << 20

type errorResponse struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Stages  []models.StageFailure `json:"stages,omitempty"`
}

type feedbackRequest struct {
	DecisionID string `json:"decision_id"`
	Success    *bool  `json:"success"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if !s.decode(w, r, &input) {
		return
	}
	doc, err := s.deps.Ingester.Ingest(r.Context(), &input)
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, withoutVector(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.handleError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if offset < 0 || limit <= 0 || limit > 100 {
		respondError(w, http.StatusBadRequest, "invalid_input", "offset must be >= 0 and limit in [1,100]")
		return
	}
	docs, err := s.deps.Documents.List(r.Context(), offset, limit)
	if err != nil {
		s.handleError(w, err)
		return
	}
	out := make([]*models.Document, len(docs))
	for i, d := range docs {
		out[i] = withoutVector(d)
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": out, "offset": offset, "limit": limit})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, withoutVector(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Ingester.Remove(r.Context(), id); err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var q models.SearchQuery
	if !s.decode(w, r, &q) {
		return
	}
	resp, err := s.deps.Searcher.Search(r.Context(), &q)
	if err != nil {
		s.handleError(w, err)
		return
	}
	for i, res := range resp.Results {
		if res.Document != nil {
			resp.Results[i].Document = withoutVector(res.Document)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var q models.RouteQuery
	if !s.decode(w, r, &q) {
		return
	}
	d, err := s.deps.Router.Route(r.Context(), &q)
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feedback == nil {
		respondError(w, http.StatusNotImplemented, "not_implemented", "feedback recording is disabled")
		return
	}
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DecisionID == "" || req.Success == nil {
		respondError(w, http.StatusBadRequest, "invalid_input", "decision_id and success are required")
		return
	}
	if err := s.deps.Feedback.RecordOutcome(r.Context(), req.DecisionID, *req.Success); err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"decision_id": req.DecisionID, "status": "recorded"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ingester.Rebuild(r.Context()); err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		respondError(w, http.StatusNotImplemented, "not_implemented", "status is unavailable")
		return
	}
	st, err := s.deps.Status.Status(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return false
	}
	return true
}

// handleError maps domain errors onto status codes. Unknown errors are logged and hidden.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	var failed *models.AllStrategiesFailedError
	switch {
	case errors.As(err, &failed):
		s.logger.Warn("routing failed", zap.Error(err))
		respondJSON(w, http.StatusBadGateway, errorResponse{
			Code:    "all_strategies_failed",
			Message: models.ErrAllStrategiesFailed.Error(),
			Stages:  failed.Stages,
		})
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrDimensionMismatch):
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", models.ErrNotFound.Error())
	case errors.Is(err, models.ErrEmbedding):
		s.logger.Warn("embedding failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "embedding_failed", models.ErrEmbedding.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidInput, key)
	}
	return n, nil
}

func withoutVector(d *models.Document) *models.Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Vector = nil
	return &c
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Code: code, Message: message})
}
