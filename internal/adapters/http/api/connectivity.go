package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/okian/ecovision/internal/app"
)

// ConnectivityReporter accepts connectivity events.
type ConnectivityReporter interface {
	SetConnectivity(ctx context.Context, online bool) error
}

// ConnectivityHandler handles connectivity events from the device shell.
type ConnectivityHandler struct {
	deps ConnectivityReporter
}

// NewConnectivityHandler creates a new connectivity handler.
func NewConnectivityHandler(deps ConnectivityReporter) *ConnectivityHandler {
	return &ConnectivityHandler{deps: deps}
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

type connectivityResponse struct {
	Online bool   `json:"online"`
	Note   string `json:"note,omitempty"`
}

// HandleConnectivity handles POST /v1/connectivity.
func (h *ConnectivityHandler) HandleConnectivity(w http.ResponseWriter, r *http.Request) {
	const op = "api.connectivity"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Online == nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing online")))
		return
	}

	err := h.deps.SetConnectivity(r.Context(), *req.Online)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, connectivityResponse{Online: *req.Online})
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	default:
		// The state change applied; only part of the requeue failed.
		writeJSON(w, http.StatusAccepted, connectivityResponse{Online: *req.Online, Note: err.Error()})
	}
}
