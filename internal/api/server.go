// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the daemon's local HTTP API: read-only views of the
// permission state, allow-list management, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/netperm/internal/errors"
	"grimm.is/netperm/internal/logging"
	"grimm.is/netperm/internal/metrics"
	"grimm.is/netperm/internal/netperm"
	"grimm.is/netperm/internal/settings"
)

// ServerOptions holds the server's dependencies.
type ServerOptions struct {
	Monitor  *netperm.Monitor
	Settings *settings.Store
	Metrics  *metrics.Metrics
	Logger   *logging.Logger

	// Reload re-reads the package manifest and settings and replays the
	// resulting events. Optional; without it the reload endpoint is 503.
	Reload func() error
}

// Server handles API requests.
type Server struct {
	monitor  *netperm.Monitor
	settings *settings.Store
	metrics  *metrics.Metrics
	logger   *logging.Logger
	reload   func() error

	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	s := &Server{
		monitor:  opts.Monitor,
		settings: opts.Settings,
		metrics:  opts.Metrics,
		logger:   logger,
		reload:   opts.Reload,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/permissions", s.handlePermissions).Methods("GET")
	api.HandleFunc("/permissions/uid/{uid:[0-9]+}", s.handleUidPermission).Methods("GET")
	api.HandleFunc("/vpn", s.handleVpn).Methods("GET")
	api.HandleFunc("/allowlist", s.handleGetAllowlist).Methods("GET")
	api.HandleFunc("/allowlist", s.handlePutAllowlist).Methods("PUT")
	api.HandleFunc("/packages/available", s.handlePackagesAvailable).Methods("POST")
	api.HandleFunc("/reload", s.handleReload).Methods("POST")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.KindUnavailable, "api server")
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	state := s.monitor.DumpState()
	writeJSON(w, http.StatusOK, map[string]any{
		"uids":    stringifyKeys(state.UIDs),
		"traffic": stringifyTraffic(state.Traffic),
		"users":   state.Users,
	})
}

func (s *Server) handleUidPermission(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.Atoi(mux.Vars(r)["uid"])
	if err != nil {
		s.writeError(w, errors.Wrap(err, errors.KindValidation, "invalid uid"))
		return
	}
	state := s.monitor.DumpState()
	writeJSON(w, http.StatusOK, map[string]any{
		"uid":                uid,
		"permission":         state.UIDs[uid].String(),
		"background_network": s.monitor.HasUseBackgroundNetworksPermission(uid),
	})
}

func (s *Server) handleVpn(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.DumpState().Vpn)
}

func (s *Server) handleGetAllowlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed_uids": s.monitor.DumpState().AllowedUids,
	})
}

func (s *Server) handlePutAllowlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AllowedUids []int `json:"allowed_uids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(err, errors.KindValidation, "decoding request body"))
		return
	}
	if err := s.settings.SetAllowedUids(req.AllowedUids); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed_uids": s.monitor.DumpState().AllowedUids,
	})
}

func (s *Server) handlePackagesAvailable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Packages []string `json:"packages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(err, errors.KindValidation, "decoding request body"))
		return
	}
	if len(req.Packages) == 0 {
		s.writeError(w, errors.New(errors.KindValidation, "packages list is empty"))
		return
	}
	if err := s.monitor.OnPackagesAvailable(req.Packages); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		s.writeError(w, errors.New(errors.KindUnavailable, "reload is not wired"))
		return
	}
	if err := s.reload(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("API request failed", "status", status, "error", err)
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// JSON object keys must be strings; uid maps render with decimal keys.
func stringifyKeys(m map[int]netperm.Permission) map[string]string {
	out := make(map[string]string, len(m))
	for uid, p := range m {
		out[strconv.Itoa(uid)] = p.String()
	}
	return out
}

func stringifyTraffic(m map[int]netperm.TrafficPermission) map[string]string {
	out := make(map[string]string, len(m))
	for appID, bits := range m {
		out[strconv.Itoa(appID)] = bits.String()
	}
	return out
}
