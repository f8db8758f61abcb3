package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/ecovision/internal/app"
	"github.com/okian/ecovision/internal/app/syncer"
	"github.com/okian/ecovision/internal/domain/model"
)

// StatusReader returns the sync view of a fingerprint.
type StatusReader interface {
	Status(ctx context.Context, fp model.Fingerprint) (syncer.Status, error)
}

// ResultsHandler handles result status queries.
type ResultsHandler struct {
	deps StatusReader
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps StatusReader) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleGetResult handles GET /v1/results/{fingerprint}.
func (h *ResultsHandler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_result"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	fp := r.PathValue("fingerprint")
	if fp == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	st, err := h.deps.Status(r.Context(), model.Fingerprint(fp))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, st)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
	}
}
