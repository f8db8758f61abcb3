package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/ecovision/internal/adapters/backend"
	service "github.com/okian/ecovision/internal/app"
)

// AccountManager registers and logs in backend accounts.
type AccountManager interface {
	Register(ctx context.Context, reg backend.Registration) error
	Login(ctx context.Context, creds backend.Credentials) error
}

// AccountHandler handles account registration and login from the shell.
type AccountHandler struct {
	deps AccountManager
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(deps AccountManager) *AccountHandler {
	return &AccountHandler{deps: deps}
}

type accountResponse struct {
	Username string `json:"username"`
}

// HandleRegister handles POST /v1/accounts.
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var reg backend.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Register(r.Context(), reg); err != nil {
		writeAccountError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountResponse{Username: reg.Username})
}

// HandleLogin handles POST /v1/login.
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "api.login"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var creds backend.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Login(r.Context(), creds); err != nil {
		writeAccountError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Username: creds.Username})
}

func writeAccountError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, backend.ErrIncompleteRegistration), errors.Is(err, backend.ErrNoCredentials):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	case errors.Is(err, backend.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", WrapKind(op, ErrUnauthorized, err))
	case errors.Is(err, backend.ErrClientError):
		writeError(w, http.StatusUnprocessableEntity, "unprocessable", WrapKind(op, ErrUnprocessable, err))
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrNoAccounts):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	case errors.Is(err, backend.ErrNetwork), errors.Is(err, backend.ErrTimeout),
		errors.Is(err, backend.ErrServerError), errors.Is(err, backend.ErrProtocol):
		writeError(w, http.StatusBadGateway, "upstream", WrapKind(op, ErrUpstream, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
	}
}
