package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/pipeline"
	"github.com/docsage/docsage/internal/token"
)

// defaultHistoryLimit bounds GET /history when no limit is given.
const defaultHistoryLimit = 50

// QueryService answers questions and lists past answers.
type QueryService interface {
	Query(ctx context.Context, credential, namespace, question string) (*pipeline.Result, error)
	History(ctx context.Context, credential, namespace string, limit int) ([]history.Record, error)
}

// queryHandler serves the question and history endpoints.
type queryHandler struct {
	service QueryService
	logger  log.Logger
}

type queryRequest struct {
	Namespace string `json:"namespace"`
	Question  string `json:"question"`
}

// query handles POST /api/v1/query.
func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	cred := bearerToken(r)
	if cred == "" {
		writeError(w, http.StatusUnauthorized, "missing_credential", "Authorization: Bearer header required")
		return
	}

	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	result, err := h.service.Query(r.Context(), cred, req.Namespace, req.Question)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type historyResponse struct {
	Namespace string           `json:"namespace"`
	Records   []history.Record `json:"records"`
}

// listHistory handles GET /api/v1/history.
func (h *queryHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	cred := bearerToken(r)
	if cred == "" {
		writeError(w, http.StatusUnauthorized, "missing_credential", "Authorization: Bearer header required")
		return
	}

	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		writeError(w, http.StatusBadRequest, "missing_namespace", "namespace query parameter required")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), cred, namespace, limit)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Namespace: namespace,
		Records:   records,
	})
}

// writePipelineError maps the pipeline's error taxonomy onto HTTP
// status codes. Expired and malformed credentials get distinct codes
// so clients can tell a stale session from a broken one.
func (h *queryHandler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrUnauthorized):
		switch {
		case errors.Is(err, token.ErrExpired):
			writeError(w, http.StatusUnauthorized, "token_expired", "credential has expired")
		case errors.Is(err, token.ErrMalformed):
			writeError(w, http.StatusUnauthorized, "token_malformed", "credential is not a valid token")
		default:
			writeError(w, http.StatusUnauthorized, "unauthorized", "credential rejected")
		}
	case errors.Is(err, pipeline.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, pipeline.ErrUpstream):
		h.logger.Error("completion upstream failure",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusBadGateway, "upstream_error", "answer generation failed")
	case errors.Is(err, pipeline.ErrPersistence):
		h.logger.Error("query persistence failure",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "persistence_failed", "storage operation failed")
	default:
		h.logger.Error("query pipeline failure",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
