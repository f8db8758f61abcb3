// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/ecovision/internal/adapters/backend"
	"github.com/okian/ecovision/internal/app/syncer"
	"github.com/okian/ecovision/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Process classifies one captured sample.
	Process(ctx context.Context, sample model.InputSample) (model.InferenceResult, error)

	// Status returns the cached result and sync state for a fingerprint.
	Status(ctx context.Context, fp model.Fingerprint) (syncer.Status, error)

	// SetConnectivity reports a connectivity change from the shell.
	SetConnectivity(ctx context.Context, online bool) error

	// Register creates a backend account.
	Register(ctx context.Context, reg backend.Registration) error

	// Login validates account credentials with the backend.
	Login(ctx context.Context, creds backend.Credentials) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	classifyHandler     *ClassifyHandler
	resultsHandler      *ResultsHandler
	connectivityHandler *ConnectivityHandler
	accountHandler      *AccountHandler
}

// NewServer creates a new API server with all handlers. maxUpload bounds the
// image size accepted by /v1/classify; 0 selects the default.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxUpload int64) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(statsProvider),
		classifyHandler:     NewClassifyHandler(deps, maxUpload),
		resultsHandler:      NewResultsHandler(deps),
		connectivityHandler: NewConnectivityHandler(deps),
		accountHandler:      NewAccountHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/v1/classify", MetricsMiddleware(s.classifyHandler.HandleClassify, "classify"))
	mux.HandleFunc("/v1/results/{fingerprint}", MetricsMiddleware(s.resultsHandler.HandleGetResult, "results"))
	mux.HandleFunc("/v1/connectivity", MetricsMiddleware(s.connectivityHandler.HandleConnectivity, "connectivity"))
	mux.HandleFunc("/v1/accounts", MetricsMiddleware(s.accountHandler.HandleRegister, "accounts"))
	mux.HandleFunc("/v1/login", MetricsMiddleware(s.accountHandler.HandleLogin, "login"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
