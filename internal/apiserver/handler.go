// Package apiserver exposes the admin node upgrade over HTTP.
package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/autopeer-io/adminupgrade/internal/pkg/util"
	"github.com/autopeer-io/adminupgrade/internal/precheck"
	"github.com/autopeer-io/adminupgrade/internal/upgrade"
	"github.com/autopeer-io/adminupgrade/pkg/log"
)

// Service is the upgrade lifecycle as seen by the API.
type Service interface {
	Version() string
	Status(ctx context.Context) (*upgrade.Status, error)
	Prechecks(ctx context.Context) (precheck.Report, error)
	Prepare(ctx context.Context) error
	Launch(ctx context.Context) (int, error)
	Cancel(ctx context.Context) error
}

var _ Service = (*upgrade.Manager)(nil)

// ReadyFunc reports whether the server can take requests.
type ReadyFunc func(ctx context.Context) error

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// VersionResponse is returned by GET /api/crowbar.
type VersionResponse struct {
	Version string `json:"version"`
}

// LaunchResponse is returned by POST /api/upgrade/start.
type LaunchResponse struct {
	PID int `json:"pid"`
}

// PrechecksResponse is returned by GET /api/upgrade/prechecks.
type PrechecksResponse struct {
	Passed bool            `json:"passed"`
	Checks precheck.Report `json:"checks"`
}

type handler struct {
	svc    Service
	ready  ReadyFunc
	logger log.Logger
}

// NewHandler builds the API router. ready may be nil.
func NewHandler(svc Service, ready ReadyFunc, logger log.Logger) http.Handler {
	h := &handler{svc: svc, ready: ready, logger: log.OrStd(logger).WithName("apiserver")}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/crowbar", h.version).Methods(http.MethodGet)

	up := api.PathPrefix("/upgrade").Subrouter()
	up.HandleFunc("", h.status).Methods(http.MethodGet)
	up.HandleFunc("", h.notImplemented).Methods(http.MethodPut, http.MethodPatch)
	up.HandleFunc("/prechecks", h.prechecks).Methods(http.MethodGet)
	up.HandleFunc("/prepare", h.prepare).Methods(http.MethodPost)
	up.HandleFunc("/start", h.launch).Methods(http.MethodPost)
	up.HandleFunc("/cancel", h.cancel).Methods(http.MethodPost)
	up.HandleFunc("/services", h.services).Methods(http.MethodGet)
	up.HandleFunc("/services", h.notImplemented).Methods(http.MethodPost)

	r.Use(h.logRequests)
	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) version(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, VersionResponse{Version: h.svc.Version()})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

func (h *handler) prechecks(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Prechecks(r.Context())
	if err != nil && report == nil {
		h.writeError(w, err)
		return
	}
	if err != nil {
		// Partial failures are reported per check.
		h.logger.Warn("Some prechecks could not be evaluated", "error", err)
	}
	h.writeJSON(w, http.StatusOK, PrechecksResponse{Passed: report.Passed(), Checks: report})
}

func (h *handler) prepare(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Prepare(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func (h *handler) launch(w http.ResponseWriter, r *http.Request) {
	pid, err := h.svc.Launch(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, LaunchResponse{PID: pid})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func (h *handler) services(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, []string{})
}

func (h *handler) notImplemented(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "not implemented", Code: "not_implemented"})
}

// StatusCode maps err to the HTTP status returned for it.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, util.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, util.ErrPackageManagerLocked):
		return http.StatusLocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrStateUnavailable):
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, StatusCode(err), ErrorResponse{Error: err.Error(), Code: util.Kind(err)})
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error(err, "Failed to write response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "status", rec.code)
	})
}
